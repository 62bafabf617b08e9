// Package rolesync refreshes the guild role catalogue and the allow-list
// role names from the live gateway.
//
// The gateway may still be joining guilds when the bot becomes ready, so a
// sync is retried a bounded number of times with a fixed pause and then
// abandoned. The previous allow-list stays in force when that happens.
package rolesync

import (
	"context"
	"fmt"
	"log"
	"time"

	"classroom-bot/internal/gateway"
	"classroom-bot/internal/settings"
)

const (
	DefaultAttempts = 5
	DefaultInterval = 2 * time.Second
)

type Source interface {
	Guilds() []gateway.Guild
	Roles(ctx context.Context, guildID string) ([]gateway.Role, error)
}

type SettingsStore interface {
	Snapshot() settings.Settings
	Update(next settings.Settings) error
}

// AllowList receives the refreshed allow-list.
type AllowList interface {
	Replace(roles []settings.Role)
}

// ExhaustedError is returned once every attempt has failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("role sync failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

type Syncer struct {
	source   Source
	store    SettingsStore
	allow    AllowList
	attempts int
	interval time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

type Option func(*Syncer)

func WithAttempts(n int) Option { return func(s *Syncer) { s.attempts = n } }

func WithInterval(d time.Duration) Option { return func(s *Syncer) { s.interval = d } }

// WithSleep replaces the pause between attempts.
func WithSleep(f func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Syncer) { s.sleep = f }
}

func New(source Source, store SettingsStore, allow AllowList, opts ...Option) *Syncer {
	s := &Syncer{
		source:   source,
		store:    store,
		allow:    allow,
		attempts: DefaultAttempts,
		interval: DefaultInterval,
		sleep:    sleepCtx,
	}
	for _, o := range opts {
		o(s)
	}
	if s.attempts < 1 {
		s.attempts = 1
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run syncs once, retrying failed attempts. It returns the number of roles
// stored, or an *ExhaustedError, or the context error if ctx ends while
// waiting.
func (s *Syncer) Run(ctx context.Context) (int, error) {
	var last error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		log.Printf("Fetching roles and updating settings (attempt %d/%d)...", attempt, s.attempts)
		n, err := s.syncOnce(ctx)
		if err == nil {
			log.Printf("Successfully updated settings with %d roles from server", n)
			return n, nil
		}
		last = err
		log.Printf("Role sync attempt %d failed: %v", attempt, err)
		if attempt == s.attempts {
			break
		}
		if err := s.sleep(ctx, s.interval); err != nil {
			return 0, err
		}
	}
	return 0, &ExhaustedError{Attempts: s.attempts, Last: last}
}

// Start runs the sync in the background. Failures are logged only.
func (s *Syncer) Start(ctx context.Context) {
	go func() {
		if _, err := s.Run(ctx); err != nil {
			log.Printf("❌ Failed to update roles in settings: %v", err)
		}
	}()
}

func (s *Syncer) syncOnce(ctx context.Context) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during role sync: %v", r)
		}
	}()

	guilds := s.source.Guilds()
	if len(guilds) == 0 {
		return 0, fmt.Errorf("bot not connected to any guilds yet")
	}
	guildID := guilds[0].ID
	roles, err := s.source.Roles(ctx, guildID)
	if err != nil {
		return 0, fmt.Errorf("fetch roles of guild %s: %w", guildID, err)
	}
	if len(roles) == 0 {
		return 0, fmt.Errorf("no roles found for guild %s", guildID)
	}

	names := make(map[string]string, len(roles))
	catalogue := make([]settings.Role, 0, len(roles))
	for _, r := range roles {
		names[r.ID] = r.Name
		catalogue = append(catalogue, settings.Role{ID: r.ID, Name: r.Name})
	}

	next := s.store.Snapshot()
	next.GuildRoles = catalogue
	for i, r := range next.AllowedRoles {
		if name, ok := names[r.ID]; ok {
			next.AllowedRoles[i].Name = name
		}
	}
	if err := s.store.Update(next); err != nil {
		return 0, fmt.Errorf("update settings: %w", err)
	}
	if s.allow != nil {
		s.allow.Replace(next.AllowedRoles)
	}
	return len(catalogue), nil
}
