// Package gateway holds the platform-neutral view of a chat community that
// the Discord and Telegram adapters both translate into.
package gateway

import (
	"errors"
	"fmt"
)

var ErrMemberNotFound = errors.New("member not found in community")

// Member is a resolved community member.
type Member struct {
	UserID      string
	Username    string
	DisplayName string
	RoleIDs     []string
}

// Label is the student identity used as roster entry and record key,
// e.g. "Alice (alice#1)".
func (m Member) Label() string {
	name := m.DisplayName
	if name == "" {
		name = m.Username
	}
	return fmt.Sprintf("%s (%s)", name, m.Username)
}

type Guild struct {
	ID   string
	Name string
}

type Role struct {
	ID   string
	Name string
}

// DeliveryError is returned when a message could not be sent. It is never
// a reason to undo work that already happened.
type DeliveryError struct {
	ChannelID string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.ChannelID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
