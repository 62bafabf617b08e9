package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	attendanceDir    = "attendance"
	attendanceHeader = "Attendance"
	nameHeader       = "Name"
	timestampLayout  = "2006-01-02_15-04"
)

// FileStore keeps attendance and survey tables as CSV files under a data
// root. Writes to one path are serialized; different paths proceed in
// parallel.
type FileStore struct {
	root   string
	strict bool
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type Option func(*FileStore)

// WithStrictHeaders makes AppendSurveyEntry reject entries whose keys differ
// from an existing header instead of writing misaligned columns.
func WithStrictHeaders(strict bool) Option {
	return func(s *FileStore) { s.strict = strict }
}

// WithClock overrides the time source used for attendance file names.
func WithClock(now func() time.Time) Option {
	return func(s *FileStore) { s.now = now }
}

func NewFileStore(root string, opts ...Option) (*FileStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, persistErr(root, err, "resolve data root")
	}
	if err := os.MkdirAll(filepath.Join(abs, attendanceDir), 0o755); err != nil {
		return nil, persistErr(abs, err, "ensure attendance dir")
	}
	s := &FileStore{root: abs, now: time.Now, locks: make(map[string]*sync.Mutex)}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *FileStore) Root() string { return s.root }

func (s *FileStore) lock(path string) func() {
	s.mu.Lock()
	l, ok := s.locks[path]
	if !ok {
		l = &sync.Mutex{}
		s.locks[path] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// resolve maps a caller supplied path onto the data root and refuses
// anything that escapes it.
func (s *FileStore) resolve(path string) (string, error) {
	p := path
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.root, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &PersistenceError{Path: path, Err: fmt.Errorf("path is outside data root %s", s.root)}
	}
	return p, nil
}

func (s *FileStore) AppendAttendance(groupID string, roster []string) (string, error) {
	base := fmt.Sprintf("%s_%s", groupID, s.now().Format(timestampLayout))
	dir := filepath.Join(s.root, attendanceDir)
	first, err := s.resolve(filepath.Join(attendanceDir, base+".csv"))
	if err != nil {
		return "", err
	}
	if filepath.Dir(first) != dir {
		return "", &PersistenceError{Path: first, Err: fmt.Errorf("group id %q is not a plain file name", groupID)}
	}

	unlock := s.lock(dir)
	defer unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", persistErr(dir, err, "ensure dir")
	}
	// Never reuse an existing record: a second close within the same minute
	// gets a numeric suffix.
	var (
		path string
		f    *os.File
	)
	for n := 1; ; n++ {
		name := base + ".csv"
		if n > 1 {
			name = fmt.Sprintf("%s_%d.csv", base, n)
		}
		path = filepath.Join(dir, name)
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return "", persistErr(path, err, "create attendance record")
		}
	}
	defer func(f *os.File) {
		err := f.Close()
		if err != nil {
			log.Printf("failed to close %s: %v", f.Name(), err)
		}
	}(f)

	w := csv.NewWriter(f)
	if err := w.Write([]string{attendanceHeader}); err != nil {
		return "", persistErr(path, err, "write header")
	}
	for _, student := range roster {
		if err := w.Write([]string{student}); err != nil {
			return "", persistErr(path, err, "write row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", persistErr(path, err, "flush")
	}
	if err := f.Sync(); err != nil {
		return "", persistErr(path, err, "sync")
	}
	return path, nil
}

func (s *FileStore) AppendSurveyEntry(path string, entry SurveyEntry) (bool, error) {
	p, err := s.resolve(path)
	if err != nil {
		return false, err
	}

	unlock := s.lock(p)
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return false, persistErr(p, err, "ensure dir")
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return false, persistErr(p, err, "open survey table")
	}
	defer func(f *os.File) {
		err := f.Close()
		if err != nil {
			log.Printf("failed to close %s: %v", f.Name(), err)
		}
	}(f)

	rows, err := readRows(f)
	if err != nil {
		return false, persistErr(p, err, "read survey table")
	}

	keys := entry.Keys()
	w := csv.NewWriter(f)
	if len(rows) == 0 {
		if err := w.Write(append([]string{nameHeader}, keys...)); err != nil {
			return false, persistErr(p, err, "write header")
		}
	} else {
		for _, row := range rows[1:] {
			if len(row) > 0 && row[0] == entry.Student {
				return false, nil
			}
		}
		if s.strict {
			if keys, err = reconcile(rows[0], entry); err != nil {
				return false, errors.Wrapf(err, "%s", p)
			}
		}
	}

	row := make([]string, 0, len(keys)+1)
	row = append(row, entry.Student)
	for _, k := range keys {
		v, _ := entry.value(k)
		row = append(row, v)
	}
	if err := w.Write(row); err != nil {
		return false, persistErr(p, err, "write row")
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return false, persistErr(p, err, "flush")
	}
	return true, nil
}

// reconcile returns the column order of header when entry answers exactly
// the header's questions.
func reconcile(header []string, entry SurveyEntry) ([]string, error) {
	if len(header) == 0 || header[0] != nameHeader {
		return nil, ErrHeaderMismatch
	}
	cols := header[1:]
	if len(cols) != len(entry.Answers) {
		return nil, errors.Wrapf(ErrHeaderMismatch, "header has %d questions, entry has %d", len(cols), len(entry.Answers))
	}
	for _, c := range cols {
		if _, ok := entry.value(c); !ok {
			return nil, errors.Wrapf(ErrHeaderMismatch, "entry has no answer for %q", c)
		}
	}
	return cols, nil
}

// readTable returns every row of the table at path, header included.
func (s *FileStore) readTable(path string) ([][]string, error) {
	p, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	unlock := s.lock(p)
	defer unlock()

	f, err := os.Open(p)
	if err != nil {
		return nil, persistErr(p, err, "open table")
	}
	defer func(f *os.File) {
		err := f.Close()
		if err != nil {
			log.Printf("failed to close %s: %v", f.Name(), err)
		}
	}(f)
	rows, err := readRows(f)
	if err != nil {
		return nil, persistErr(p, err, "read table")
	}
	return rows, nil
}

func readRows(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	return cr.ReadAll()
}
