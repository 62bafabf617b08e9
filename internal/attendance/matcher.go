// Package attendance turns inbound chat messages into roster check-ins.
//
// Every message the bot sees passes through Matcher.OnMessage, so the cheap
// rejections come first: a message longer than MaxTextLength characters is
// never compared against the group table. Group ids longer than that are
// therefore unsupported.
package attendance

import (
	"context"
	"errors"
	"log"
	"strings"
	"unicode/utf8"

	"classroom-bot/internal/gateway"
	"classroom-bot/internal/groups"
)

// MaxTextLength is the longest trimmed message considered a check-in.
const MaxTextLength = 10

// Acknowledgement is sent to the channel a successful check-in came from.
const Acknowledgement = "You are added to the attendance list."

type Reason int

const (
	Added Reason = iota
	SkippedSelf
	SkippedTooLong
	SkippedNoMatch
	SkippedGateClosed
	SkippedMemberNotResolved
	SkippedDuplicate
)

func (r Reason) String() string {
	switch r {
	case Added:
		return "added"
	case SkippedSelf:
		return "self"
	case SkippedTooLong:
		return "too long"
	case SkippedNoMatch:
		return "no match"
	case SkippedGateClosed:
		return "gate closed"
	case SkippedMemberNotResolved:
		return "member not resolved"
	case SkippedDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Message is an inbound chat message as the adapters hand it over.
type Message struct {
	AuthorID  string
	ChannelID string
	Text      string
	// Direct is set for private messages, which carry no community context.
	Direct   bool
	FromSelf bool
	// Member is the author as delivered with a community message, if the
	// platform provides it.
	Member *gateway.Member
}

type Result struct {
	Reason  Reason
	GroupID string
	Student string
	// Err is set when the acknowledgement could not be delivered or the
	// member lookup failed. It never undoes an Added result.
	Err error
}

// MemberResolver finds a user in the primary community.
type MemberResolver interface {
	ResolveMember(ctx context.Context, userID string) (*gateway.Member, error)
}

type Notifier interface {
	SendMessage(ctx context.Context, channelID, text string) error
}

type Matcher struct {
	registry *groups.Registry
	members  MemberResolver
	notifier Notifier
}

func NewMatcher(registry *groups.Registry, members MemberResolver, notifier Notifier) *Matcher {
	return &Matcher{registry: registry, members: members, notifier: notifier}
}

// OnMessage checks a student in when msg names an open group. The
// acknowledgement is best effort: a delivery failure is logged and reported
// in Result.Err but the student stays on the roster.
func (m *Matcher) OnMessage(ctx context.Context, msg Message) Result {
	if msg.FromSelf {
		return Result{Reason: SkippedSelf}
	}
	text := strings.TrimSpace(msg.Text)
	if utf8.RuneCountInString(text) > MaxTextLength {
		return Result{Reason: SkippedTooLong}
	}
	groupID, ok := m.registry.Resolve(text)
	if !ok {
		return Result{Reason: SkippedNoMatch}
	}
	if open, err := m.registry.Accepting(groupID); err != nil || !open {
		return Result{Reason: SkippedGateClosed, GroupID: groupID}
	}

	member := msg.Member
	if member == nil || msg.Direct {
		var err error
		member, err = m.members.ResolveMember(ctx, msg.AuthorID)
		if err != nil || member == nil {
			if err == nil {
				err = gateway.ErrMemberNotFound
			}
			log.Printf("Could not find member %s in community: %v", msg.AuthorID, err)
			return Result{Reason: SkippedMemberNotResolved, GroupID: groupID, Err: err}
		}
	}
	student := member.Label()

	if err := m.registry.Add(groupID, student); err != nil {
		switch {
		case errors.Is(err, groups.ErrDuplicate):
			return Result{Reason: SkippedDuplicate, GroupID: groupID, Student: student}
		default:
			// The gate closed between the check above and the append.
			return Result{Reason: SkippedGateClosed, GroupID: groupID, Student: student}
		}
	}
	log.Printf("Added %s to %s attendance list", student, groupID)

	res := Result{Reason: Added, GroupID: groupID, Student: student}
	if err := m.notifier.SendMessage(ctx, msg.ChannelID, Acknowledgement); err != nil {
		log.Printf("failed to send confirmation to %s: %v", student, err)
		res.Err = err
	}
	return res
}
