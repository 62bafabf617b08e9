package survey

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"classroom-bot/internal/settings"
	"classroom-bot/internal/storage"
)

var defs = []settings.Survey{{
	Name: "Session",
	Questions: []settings.Question{
		{Key: "Pace", Options: []string{"slow", "ok", "fast"}},
		{Key: "Comment"},
	},
}}

func newService(t *testing.T) (*Service, *storage.FileStore) {
	t.Helper()
	st, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return NewService(defs, st), st
}

func TestSubmit_WritesInQuestionOrder(t *testing.T) {
	svc, st := newService(t)
	ok, err := svc.Submit("session", "Alice (a)", map[string]string{"comment": "thanks", "PACE": "Fast"})
	if err != nil || !ok {
		t.Fatalf("submit: ok=%v err=%v", ok, err)
	}
	rows := readCSV(t, filepath.Join(st.Root(), "surveys", "Session.csv"))
	if len(rows) != 2 {
		t.Fatalf("want header + 1 row, got %v", rows)
	}
	if rows[0][1] != "Pace" || rows[0][2] != "Comment" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[1][0] != "Alice (a)" || rows[1][1] != "fast" || rows[1][2] != "thanks" {
		t.Fatalf("unexpected row %v", rows[1])
	}
}

func TestSubmit_SecondSubmissionDropped(t *testing.T) {
	svc, st := newService(t)
	_, _ = svc.Submit("Session", "Alice (a)", map[string]string{"Pace": "ok", "Comment": "one"})
	ok, err := svc.Submit("Session", "Alice (a)", map[string]string{"Pace": "slow", "Comment": "two"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if ok {
		t.Fatalf("duplicate reported as written")
	}
	rows := readCSV(t, filepath.Join(st.Root(), Path(defs[0])))
	if len(rows) != 2 || rows[1][2] != "one" {
		t.Fatalf("first submission not retained: %v", rows)
	}
}

func TestSubmit_Validation(t *testing.T) {
	svc, _ := newService(t)

	var unknown *UnknownSurveyError
	if _, err := svc.Submit("nope", "Alice (a)", nil); !errors.As(err, &unknown) {
		t.Fatalf("want UnknownSurveyError, got %v", err)
	}

	var invalid *InvalidAnswerError
	_, err := svc.Submit("Session", "Alice (a)", map[string]string{"Pace": "ok"})
	if !errors.As(err, &invalid) || invalid.Question != "Comment" {
		t.Fatalf("want missing Comment, got %v", err)
	}
	_, err = svc.Submit("Session", "Alice (a)", map[string]string{"Pace": "glacial", "Comment": "x"})
	if !errors.As(err, &invalid) || invalid.Answer != "glacial" {
		t.Fatalf("want invalid option, got %v", err)
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
