package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"classroom-bot/internal/groups"
	"classroom-bot/internal/settings"
)

// Sessions is what scheduled jobs drive.
type Sessions interface {
	Resolve(raw string) (string, bool)
	Open(id string) (groups.Snapshot, error)
	Close(id string) (groups.CloseResult, error)
}

// Scheduler opens and closes attendance sessions on cron schedules.
type Scheduler struct {
	cron     *cron.Cron
	ctx      context.Context
	cancel   context.CancelFunc
	sessions Sessions
}

func New(sessions Sessions, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(loc)),
		ctx:      ctx,
		cancel:   cancel,
		sessions: sessions,
	}
}

// Load registers an open and a close job per schedule. Nothing is registered
// if any schedule is invalid.
func (s *Scheduler) Load(schedules []settings.Schedule) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	type job struct {
		spec cron.Schedule
		run  func()
	}
	var jobs []job
	for _, sc := range schedules {
		id, ok := s.sessions.Resolve(sc.Group)
		if !ok {
			return fmt.Errorf("schedule for unknown group %q", sc.Group)
		}
		open, err := parser.Parse(sc.Open)
		if err != nil {
			return fmt.Errorf("group %s: open spec %q: %w", id, sc.Open, err)
		}
		closeAt, err := parser.Parse(sc.Close)
		if err != nil {
			return fmt.Errorf("group %s: close spec %q: %w", id, sc.Close, err)
		}
		jobs = append(jobs,
			job{open, func() { s.openJob(id) }},
			job{closeAt, func() { s.closeJob(id) }},
		)
	}
	for _, j := range jobs {
		s.cron.Schedule(j.spec, cron.FuncJob(j.run))
	}
	return nil
}

func (s *Scheduler) openJob(id string) {
	if s.ctx.Err() != nil {
		return
	}
	snap, err := s.sessions.Open(id)
	if err != nil {
		log.Printf("❌ Scheduled open of %s failed: %v", id, err)
		return
	}
	log.Printf("🕘 Scheduled attendance for %s opened (session %s)", id, snap.SessionID)
}

func (s *Scheduler) closeJob(id string) {
	if s.ctx.Err() != nil {
		return
	}
	res, err := s.sessions.Close(id)
	if err != nil {
		log.Printf("❌ Scheduled close of %s failed: %v", id, err)
		return
	}
	log.Printf("🕘 Scheduled attendance for %s closed: %d students saved to %s", id, res.Count, res.Path)
}

func (s *Scheduler) Start() {
	if len(s.cron.Entries()) == 0 {
		log.Println("📅 No session schedules configured")
		return
	}
	s.cron.Start()
	log.Printf("📅 Scheduler started with %d jobs", len(s.cron.Entries()))
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	if s.cancel != nil {
		s.cancel()
	}
	log.Println("📅 Scheduler stopped")
}

func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}
