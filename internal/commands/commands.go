// Package commands implements the bot's slash/text commands independently
// of the chat platform. Adapters turn a platform invocation into an
// Invocation and deliver the returned Reply.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"classroom-bot/internal/gateway"
	"classroom-bot/internal/groups"
	"classroom-bot/internal/settings"
	"classroom-bot/internal/survey"
)

const (
	AttendanceStart = "attendance_start"
	AttendanceStop  = "attendance_stop"
	AttendanceList  = "attendance_list"
	Groups          = "groups"
	SyncRoles       = "sync_roles"
	Reconnect       = "reconnect"
	Feedback        = "feedback"
)

const (
	msgNoPermission = "You do not have permission to use this command."
	msgUnknown      = "Unknown command."
	msgFailed       = "Something went wrong, please try again."
)

// Spec describes a command for platform registration.
type Spec struct {
	Name        string
	Description string
	Privileged  bool
	// Args are positional argument names. Feedback takes one more argument
	// per question of the chosen survey.
	Args []string
}

var Specs = []Spec{
	{Name: AttendanceStart, Description: "Start accepting attendance for a group", Privileged: true, Args: []string{"group"}},
	{Name: AttendanceStop, Description: "Stop attendance for a group and save the list", Privileged: true, Args: []string{"group"}},
	{Name: AttendanceList, Description: "Show students checked in to a group", Privileged: true, Args: []string{"group"}},
	{Name: Groups, Description: "Show all groups and whether they accept attendance", Privileged: true},
	{Name: SyncRoles, Description: "Refresh the server role list", Privileged: true},
	{Name: Reconnect, Description: "Reconnect the bot to the chat gateway", Privileged: true},
	{Name: Feedback, Description: "Answer a feedback survey", Args: []string{"survey"}},
}

// Invocation is one command call.
type Invocation struct {
	Name string
	// Args holds named arguments. Survey answers are keyed by question.
	Args   map[string]string
	Member gateway.Member
}

type Reply struct {
	Text string
	// Private asks the adapter to show the reply only to the caller.
	Private bool
}

type Authorizer interface {
	IsAuthorized(roleIDs []string) bool
	List() []settings.Role
}

type RoleSyncer interface {
	Run(ctx context.Context) (int, error)
}

type Reconnector interface {
	Reconnect(ctx context.Context) error
}

type Handler struct {
	registry  *groups.Registry
	auth      Authorizer
	surveys   *survey.Service
	syncer    RoleSyncer
	reconnect Reconnector
}

func NewHandler(registry *groups.Registry, auth Authorizer, surveys *survey.Service, syncer RoleSyncer) *Handler {
	return &Handler{registry: registry, auth: auth, surveys: surveys, syncer: syncer}
}

// SetReconnector wires the gateway session manager once it exists.
func (h *Handler) SetReconnector(r Reconnector) { h.reconnect = r }

// Surveys lists the configured surveys for command registration.
func (h *Handler) Surveys() []settings.Survey { return h.surveys.List() }

// BindArgs maps positional arguments onto a command's named arguments. For
// feedback the first argument names the survey and the rest answer its
// questions in order.
func (h *Handler) BindArgs(name string, args []string) map[string]string {
	out := make(map[string]string)
	if name == Feedback {
		if len(args) == 0 {
			return out
		}
		out["survey"] = args[0]
		d, err := h.surveys.Get(args[0])
		if err != nil {
			return out
		}
		for i, q := range d.Questions {
			if i+1 < len(args) {
				out[q.Key] = args[i+1]
			}
		}
		return out
	}
	spec, ok := lookup(name)
	if !ok {
		return out
	}
	for i, a := range spec.Args {
		if i < len(args) {
			out[a] = args[i]
		}
	}
	return out
}

func lookup(name string) (Spec, bool) {
	for _, s := range Specs {
		if s.Name == name {
			return s, true
		}
	}
	return Spec{}, false
}

func (h *Handler) Handle(ctx context.Context, inv Invocation) Reply {
	spec, ok := lookup(inv.Name)
	if !ok {
		return Reply{Text: msgUnknown, Private: true}
	}
	if spec.Privileged && !h.auth.IsAuthorized(inv.Member.RoleIDs) {
		log.Printf("Unauthorized %s attempt by %s", inv.Name, inv.Member.Label())
		return Reply{Text: msgNoPermission, Private: true}
	}

	var (
		text string
		err  error
	)
	switch inv.Name {
	case AttendanceStart:
		text, err = h.start(inv.Args["group"])
	case AttendanceStop:
		text, err = h.stop(inv.Args["group"])
	case AttendanceList:
		text, err = h.list(inv.Args["group"])
	case Groups:
		text = h.listGroups()
	case SyncRoles:
		text, err = h.syncRoles(ctx)
	case Reconnect:
		text, err = h.doReconnect(ctx)
	case Feedback:
		text, err = h.feedback(inv)
	}
	if err != nil {
		return Reply{Text: userMessage(inv.Name, err), Private: true}
	}
	return Reply{Text: text, Private: true}
}

// userMessage keeps typed, user-facing errors and hides the rest.
func userMessage(cmd string, err error) string {
	var (
		unknownGroup  *groups.UnknownGroupError
		unknownSurvey *survey.UnknownSurveyError
		invalid       *survey.InvalidAnswerError
	)
	switch {
	case errors.As(err, &unknownGroup), errors.As(err, &unknownSurvey), errors.As(err, &invalid):
		return err.Error()
	}
	log.Printf("failed to run %s: %v", cmd, err)
	return msgFailed
}

func (h *Handler) start(raw string) (string, error) {
	snap, err := h.registry.Open(raw)
	if err != nil {
		return "", err
	}
	log.Printf("Attendance for %s opened (session %s)", snap.ID, snap.SessionID)
	return fmt.Sprintf("Attendance for group %s is open. Students can now send `%s` to the bot.", snap.ID, snap.ID), nil
}

func (h *Handler) stop(raw string) (string, error) {
	res, err := h.registry.Close(raw)
	if err != nil {
		return "", err
	}
	log.Printf("Attendance for %s closed: %d students saved to %s", res.GroupID, res.Count, res.Path)
	return fmt.Sprintf("Attendance for group %s is closed. %d students saved to %s.", res.GroupID, res.Count, filepath.Base(res.Path)), nil
}

func (h *Handler) list(raw string) (string, error) {
	snap, err := h.registry.Snapshot(raw)
	if err != nil {
		return "", err
	}
	if len(snap.Roster) == 0 {
		return fmt.Sprintf("No students in group %s yet.", snap.ID), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Group %s (%d):\n", snap.ID, len(snap.Roster))
	for _, s := range snap.Roster {
		b.WriteString(s)
		b.WriteString("\n")
	}
	return b.String(), nil
}

func (h *Handler) listGroups() string {
	var b strings.Builder
	for _, g := range h.registry.All() {
		state := "CLOSED"
		if g.Accepting {
			state = "OPEN"
		}
		fmt.Fprintf(&b, "%s: %s, %d students\n", g.ID, state, len(g.Roster))
	}
	return b.String()
}

func (h *Handler) syncRoles(ctx context.Context) (string, error) {
	if h.syncer == nil {
		return "", errors.New("role sync not configured")
	}
	n, err := h.syncer.Run(ctx)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Updated %d roles from the server.", n)
	if allowed := h.auth.List(); len(allowed) > 0 {
		b.WriteString("\nAllowed roles:")
		for _, r := range allowed {
			fmt.Fprintf(&b, "\n%s (%s)", r.Name, r.ID)
		}
	}
	return b.String(), nil
}

func (h *Handler) doReconnect(ctx context.Context) (string, error) {
	if h.reconnect == nil {
		return "", errors.New("reconnect not supported")
	}
	if err := h.reconnect.Reconnect(ctx); err != nil {
		return "", err
	}
	return "Reconnect requested.", nil
}

func (h *Handler) feedback(inv Invocation) (string, error) {
	name := inv.Args["survey"]
	answers := make(map[string]string, len(inv.Args))
	for k, v := range inv.Args {
		if k != "survey" {
			answers[k] = v
		}
	}
	written, err := h.surveys.Submit(name, inv.Member.Label(), answers)
	if err != nil {
		return "", err
	}
	if !written {
		return "You have already answered this survey.", nil
	}
	return "Thank you for your feedback!", nil
}
