package groups

import (
	"errors"
	"sync"
	"testing"
)

type memFlusher struct {
	mu      sync.Mutex
	records map[string][]string
	calls   []string
	err     error
}

func (m *memFlusher) AppendAttendance(groupID string, roster []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if m.records == nil {
		m.records = make(map[string][]string)
	}
	path := groupID + ".csv"
	m.records[path] = append([]string{"Attendance"}, roster...)
	m.calls = append(m.calls, path)
	return path, nil
}

func newRegistry(t *testing.T, f Flusher, ids ...string) *Registry {
	t.Helper()
	r, err := NewRegistry(ids, f)
	if err != nil {
		t.Fatalf("init registry: %v", err)
	}
	return r
}

func TestResolve_CaseInsensitivePreservesConfiguredCase(t *testing.T) {
	r := newRegistry(t, &memFlusher{}, "A1", "b2")
	for _, raw := range []string{"a1", "A1", "A1 ", " a1"} {
		id, ok := r.Resolve(raw)
		if !ok || id != "A1" {
			t.Fatalf("Resolve(%q) = %q, %v", raw, id, ok)
		}
	}
	if id, ok := r.Resolve("B2"); !ok || id != "b2" {
		t.Fatalf("Resolve(B2) = %q, %v", id, ok)
	}
	for _, raw := range []string{"A", "A12", "A 1", ""} {
		if _, ok := r.Resolve(raw); ok {
			t.Fatalf("Resolve(%q) matched", raw)
		}
	}
}

func TestNewRegistry_RejectsCaseDuplicates(t *testing.T) {
	if _, err := NewRegistry([]string{"A1", "a1"}, &memFlusher{}); err == nil {
		t.Fatalf("expected error for ids differing only in case")
	}
}

func TestAdd_GateAndDedup(t *testing.T) {
	r := newRegistry(t, &memFlusher{}, "A1")

	if err := r.Add("A1", "Alice (alice#1)"); !errors.Is(err, ErrGateClosed) {
		t.Fatalf("want ErrGateClosed, got %v", err)
	}
	if _, err := r.Open("a1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := r.Add("A1", "Alice (alice#1)"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.Add("a1", "Alice (alice#1)"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}
	if err := r.Add("A1", "Bob (bob#2)"); err != nil {
		t.Fatalf("add bob: %v", err)
	}
	snap, _ := r.Snapshot("A1")
	if len(snap.Roster) != 2 || snap.Roster[0] != "Alice (alice#1)" || snap.Roster[1] != "Bob (bob#2)" {
		t.Fatalf("unexpected roster %v", snap.Roster)
	}
}

func TestOpen_IdempotentKeepsSession(t *testing.T) {
	r := newRegistry(t, &memFlusher{}, "A1")
	first, _ := r.Open("A1")
	if first.SessionID == "" || !first.Accepting {
		t.Fatalf("open did not start a session: %+v", first)
	}
	_ = r.Add("A1", "Alice (a)")
	second, _ := r.Open("A1")
	if second.SessionID != first.SessionID {
		t.Fatalf("reopen changed session id")
	}
	if len(second.Roster) != 1 {
		t.Fatalf("reopen touched roster: %v", second.Roster)
	}
}

func TestClose_FlushesClearsAndResets(t *testing.T) {
	f := &memFlusher{}
	r := newRegistry(t, f, "G")
	_, _ = r.Open("G")
	_ = r.Add("G", "Alice (alice#1)")
	_ = r.Add("G", "Bob (bob#2)")

	res, err := r.Close("g")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if res.Count != 2 || res.GroupID != "G" || res.Path != "G.csv" {
		t.Fatalf("unexpected result %+v", res)
	}
	rec := f.records["G.csv"]
	if len(rec) != 3 || rec[1] != "Alice (alice#1)" || rec[2] != "Bob (bob#2)" {
		t.Fatalf("unexpected record %v", rec)
	}
	snap, _ := r.Snapshot("G")
	if snap.Accepting || len(snap.Roster) != 0 || snap.SessionID != "" {
		t.Fatalf("state not reset: %+v", snap)
	}
}

func TestClose_AlreadyClosedStillFlushes(t *testing.T) {
	f := &memFlusher{}
	r := newRegistry(t, f, "A1")
	if _, err := r.Close("A1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(f.calls) != 1 || len(f.records["A1.csv"]) != 1 {
		t.Fatalf("want header-only flush, got %v", f.records)
	}
}

func TestClose_PersistenceErrorLeavesStateForRetry(t *testing.T) {
	f := &memFlusher{err: errors.New("disk full")}
	r := newRegistry(t, f, "A1")
	_, _ = r.Open("A1")
	_ = r.Add("A1", "Alice (a)")

	if _, err := r.Close("A1"); err == nil {
		t.Fatalf("expected flush error")
	}
	snap, _ := r.Snapshot("A1")
	if !snap.Accepting || len(snap.Roster) != 1 {
		t.Fatalf("state changed after failed close: %+v", snap)
	}

	f.err = nil
	res, err := r.Close("A1")
	if err != nil || res.Count != 1 {
		t.Fatalf("retry: %+v %v", res, err)
	}
}

func TestUnknownGroup(t *testing.T) {
	r := newRegistry(t, &memFlusher{}, "A1")
	var uerr *UnknownGroupError
	if _, err := r.Open("Z9"); !errors.As(err, &uerr) || uerr.ID != "Z9" {
		t.Fatalf("open: want UnknownGroupError, got %v", err)
	}
	if _, err := r.Close("Z9"); !errors.As(err, &uerr) {
		t.Fatalf("close: want UnknownGroupError, got %v", err)
	}
	if err := r.Add("Z9", "x"); !errors.As(err, &uerr) {
		t.Fatalf("add: want UnknownGroupError, got %v", err)
	}
	if uerr.Error() != "Incorrect group id." {
		t.Fatalf("unexpected message %q", uerr.Error())
	}
}

func TestAdd_ConcurrentSameStudentAddedOnce(t *testing.T) {
	r := newRegistry(t, &memFlusher{}, "A1")
	_, _ = r.Open("A1")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Add("A1", "Alice (a)")
		}()
	}
	wg.Wait()
	snap, _ := r.Snapshot("A1")
	if len(snap.Roster) != 1 {
		t.Fatalf("want 1 entry, got %v", snap.Roster)
	}
}

func TestAll_ConfigurationOrder(t *testing.T) {
	r := newRegistry(t, &memFlusher{}, "B2", "A1")
	_, _ = r.Open("A1")
	all := r.All()
	if len(all) != 2 || all[0].ID != "B2" || all[1].ID != "A1" || !all[1].Accepting {
		t.Fatalf("unexpected snapshots %+v", all)
	}
}
