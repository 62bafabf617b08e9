// Package groups keeps the live state of every configured tutoring group:
// its roster of checked-in students and the gate that decides whether new
// check-ins are accepted.
//
// A session goes CLOSED -> OPEN via Open and back via Close, which flushes
// the roster to a durable record before clearing it. Each group is guarded
// by its own mutex so handlers running on different goroutines never
// interleave roster mutations.
package groups

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrGateClosed and ErrDuplicate are the reasons Add refuses a student.
var (
	ErrGateClosed = errors.New("group is not accepting check-ins")
	ErrDuplicate  = errors.New("student already on roster")
)

// UnknownGroupError is returned when an operation names a group that is not
// configured. Its message is shown to users as is.
type UnknownGroupError struct {
	ID string
}

func (e *UnknownGroupError) Error() string { return "Incorrect group id." }

// Flusher persists a roster when its session closes.
type Flusher interface {
	AppendAttendance(groupID string, roster []string) (string, error)
}

type group struct {
	mu        sync.Mutex
	id        string
	roster    []string
	accepting bool
	sessionID string
	openedAt  time.Time
}

// Snapshot is a copy of a group's state.
type Snapshot struct {
	ID        string
	Roster    []string
	Accepting bool
	SessionID string
	OpenedAt  time.Time
}

// CloseResult describes a flushed session.
type CloseResult struct {
	GroupID   string
	SessionID string
	Path      string
	Count     int
}

type Registry struct {
	groups  map[string]*group // keyed by lower-cased id
	order   []string
	flusher Flusher
	now     func() time.Time
}

// NewRegistry builds one CLOSED group per id. Ids equal up to case are
// rejected.
func NewRegistry(ids []string, flusher Flusher) (*Registry, error) {
	r := &Registry{
		groups:  make(map[string]*group, len(ids)),
		flusher: flusher,
		now:     time.Now,
	}
	for _, id := range ids {
		key := strings.ToLower(id)
		if id == "" {
			return nil, fmt.Errorf("empty group id")
		}
		if prev, dup := r.groups[key]; dup {
			return nil, fmt.Errorf("group ids %q and %q differ only in case", prev.id, id)
		}
		r.groups[key] = &group{id: id}
		r.order = append(r.order, key)
	}
	return r, nil
}

// Resolve returns the configured group id matching raw case-insensitively,
// with its configured case. Surrounding whitespace is ignored; there is no
// partial matching.
func (r *Registry) Resolve(raw string) (string, bool) {
	g, ok := r.groups[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", false
	}
	return g.id, true
}

func (r *Registry) lookup(raw string) (*group, error) {
	g, ok := r.groups[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return nil, &UnknownGroupError{ID: raw}
	}
	return g, nil
}

// Open starts accepting check-ins. Opening an open session only re-asserts
// the gate; its session id and roster are kept.
func (r *Registry) Open(id string) (Snapshot, error) {
	g, err := r.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.accepting {
		g.sessionID = uuid.NewString()
		g.openedAt = r.now()
	}
	g.accepting = true
	return g.snapshot(), nil
}

// Close flushes the roster to a new record, then clears it and closes the
// gate. Closing a closed group still flushes. If the flush fails nothing is
// changed so the close can be retried.
func (r *Registry) Close(id string) (CloseResult, error) {
	g, err := r.lookup(id)
	if err != nil {
		return CloseResult{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	path, err := r.flusher.AppendAttendance(g.id, g.roster)
	if err != nil {
		return CloseResult{}, err
	}
	res := CloseResult{GroupID: g.id, SessionID: g.sessionID, Path: path, Count: len(g.roster)}
	g.roster = nil
	g.accepting = false
	g.sessionID = ""
	g.openedAt = time.Time{}
	return res, nil
}

// Add appends student to the roster of group id if its gate is open and the
// student is not already there.
func (r *Registry) Add(id, student string) error {
	g, err := r.lookup(id)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.accepting {
		return ErrGateClosed
	}
	for _, s := range g.roster {
		if s == student {
			return ErrDuplicate
		}
	}
	g.roster = append(g.roster, student)
	return nil
}

func (r *Registry) Accepting(id string) (bool, error) {
	g, err := r.lookup(id)
	if err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.accepting, nil
}

func (r *Registry) Snapshot(id string) (Snapshot, error) {
	g, err := r.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshot(), nil
}

// All returns every group in configuration order.
func (r *Registry) All() []Snapshot {
	out := make([]Snapshot, 0, len(r.order))
	for _, key := range r.order {
		g := r.groups[key]
		g.mu.Lock()
		out = append(out, g.snapshot())
		g.mu.Unlock()
	}
	return out
}

func (g *group) snapshot() Snapshot {
	return Snapshot{
		ID:        g.id,
		Roster:    append([]string(nil), g.roster...),
		Accepting: g.accepting,
		SessionID: g.sessionID,
		OpenedAt:  g.openedAt,
	}
}
