package commands

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"classroom-bot/internal/auth"
	"classroom-bot/internal/gateway"
	"classroom-bot/internal/groups"
	"classroom-bot/internal/settings"
	"classroom-bot/internal/storage"
	"classroom-bot/internal/survey"
)

type fakeSyncer struct {
	n   int
	err error
}

func (f fakeSyncer) Run(context.Context) (int, error) { return f.n, f.err }

type fakeReconnector struct{ calls int }

func (f *fakeReconnector) Reconnect(context.Context) error {
	f.calls++
	return nil
}

var (
	tutor   = gateway.Member{UserID: "1", Username: "tutor", DisplayName: "Tutor", RoleIDs: []string{"10"}}
	student = gateway.Member{UserID: "2", Username: "alice#1", DisplayName: "Alice", RoleIDs: []string{"30"}}
)

func newHandler(t *testing.T) (*Handler, *groups.Registry, *storage.FileStore) {
	t.Helper()
	st, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	reg, err := groups.NewRegistry([]string{"A1"}, st)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	surveys := survey.NewService([]settings.Survey{{
		Name:      "session",
		Questions: []settings.Question{{Key: "Pace", Options: []string{"slow", "ok"}}, {Key: "Comment"}},
	}}, st)
	a := auth.New([]settings.Role{{ID: "10", Name: "Tutor"}})
	return NewHandler(reg, a, surveys, fakeSyncer{n: 3}), reg, st
}

func run(h *Handler, m gateway.Member, name string, args ...string) Reply {
	return h.Handle(context.Background(), Invocation{Name: name, Args: h.BindArgs(name, args), Member: m})
}

func TestPrivilegedCommandsRequireRole(t *testing.T) {
	h, reg, _ := newHandler(t)
	for _, name := range []string{AttendanceStart, AttendanceStop, AttendanceList, Groups, SyncRoles, Reconnect} {
		r := run(h, student, name, "A1")
		if r.Text != msgNoPermission {
			t.Fatalf("%s: want permission error, got %q", name, r.Text)
		}
	}
	if ok, _ := reg.Accepting("A1"); ok {
		t.Fatalf("unauthorized start opened the gate")
	}
}

func TestAttendanceFlow(t *testing.T) {
	h, reg, st := newHandler(t)

	r := run(h, tutor, AttendanceStart, "a1")
	if !strings.Contains(r.Text, "A1 is open") {
		t.Fatalf("unexpected start reply %q", r.Text)
	}
	_ = reg.Add("A1", "Alice (alice#1)")

	r = run(h, tutor, AttendanceList, "A1")
	if !strings.Contains(r.Text, "Alice (alice#1)\n") {
		t.Fatalf("list missing student: %q", r.Text)
	}
	r = run(h, tutor, Groups)
	if !strings.Contains(r.Text, "A1: OPEN, 1 students") {
		t.Fatalf("unexpected groups reply %q", r.Text)
	}

	r = run(h, tutor, AttendanceStop, "A1")
	if !strings.Contains(r.Text, "1 students saved to A1_") {
		t.Fatalf("unexpected stop reply %q", r.Text)
	}
	if ok, _ := reg.Accepting("A1"); ok {
		t.Fatalf("gate still open after stop")
	}
	files, _ := filepath.Glob(filepath.Join(st.Root(), "attendance", "A1_*.csv"))
	if len(files) != 1 {
		t.Fatalf("want one attendance record, got %v", files)
	}
	rows := readCSV(t, files[0])
	if len(rows) != 2 || rows[1][0] != "Alice (alice#1)" {
		t.Fatalf("unexpected record %v", rows)
	}
}

func TestUnknownGroupIsUserVisible(t *testing.T) {
	h, _, _ := newHandler(t)
	r := run(h, tutor, AttendanceStart, "Z9")
	if r.Text != "Incorrect group id." {
		t.Fatalf("want friendly warning, got %q", r.Text)
	}
}

func TestFeedback(t *testing.T) {
	h, _, st := newHandler(t)

	r := run(h, student, Feedback, "session", "OK", "great")
	if r.Text != "Thank you for your feedback!" {
		t.Fatalf("unexpected reply %q", r.Text)
	}
	r = run(h, student, Feedback, "session", "slow", "again")
	if r.Text != "You have already answered this survey." {
		t.Fatalf("unexpected duplicate reply %q", r.Text)
	}
	r = run(h, student, Feedback, "session", "maybe", "x")
	if !strings.Contains(r.Text, "not a valid answer") {
		t.Fatalf("unexpected invalid reply %q", r.Text)
	}
	rows := readCSV(t, filepath.Join(st.Root(), "surveys", "session.csv"))
	if len(rows) != 2 || rows[1][0] != "Alice (alice#1)" || rows[1][1] != "ok" {
		t.Fatalf("unexpected rows %v", rows)
	}
}

func TestSyncRolesAndReconnect(t *testing.T) {
	h, _, _ := newHandler(t)
	if r := run(h, tutor, SyncRoles); r.Text != "Updated 3 roles from the server.\nAllowed roles:\nTutor (10)" {
		t.Fatalf("unexpected sync reply %q", r.Text)
	}
	if r := run(h, tutor, Reconnect); r.Text != msgFailed {
		t.Fatalf("reconnect without manager: %q", r.Text)
	}
	rc := &fakeReconnector{}
	h.SetReconnector(rc)
	if r := run(h, tutor, Reconnect); r.Text != "Reconnect requested." || rc.calls != 1 {
		t.Fatalf("unexpected reconnect reply %q", r.Text)
	}

	h.syncer = fakeSyncer{err: errors.New("exhausted")}
	if r := run(h, tutor, SyncRoles); r.Text != msgFailed {
		t.Fatalf("sync failure leaked: %q", r.Text)
	}
}

func TestUnknownCommand(t *testing.T) {
	h, _, _ := newHandler(t)
	if r := run(h, tutor, "launch"); r.Text != msgUnknown {
		t.Fatalf("unexpected reply %q", r.Text)
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return rows
}
