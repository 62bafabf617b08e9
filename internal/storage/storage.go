package storage

import (
	"fmt"

	"github.com/pkg/errors"
)

// Answer is one question-key/chosen-answer pair of a survey entry.
type Answer struct {
	Key   string
	Value string
}

// SurveyEntry is a student's submission. Answers keep question order; that
// order becomes the header of a fresh survey table.
type SurveyEntry struct {
	Student string
	Answers []Answer
}

// Keys returns the answer keys in entry order.
func (e SurveyEntry) Keys() []string {
	out := make([]string, len(e.Answers))
	for i, a := range e.Answers {
		out[i] = a.Key
	}
	return out
}

func (e SurveyEntry) value(key string) (string, bool) {
	for _, a := range e.Answers {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// Recorder abstracts the durable records written by the bot.
// Implementations must be safe for concurrent use.
type Recorder interface {
	// AppendAttendance writes roster to a new attendance table for groupID and
	// returns its path. An empty roster still produces a header-only file.
	AppendAttendance(groupID string, roster []string) (string, error)
	// AppendSurveyEntry appends entry to the table at path unless the student
	// already has a row there. It reports whether a row was written.
	AppendSurveyEntry(path string, entry SurveyEntry) (bool, error)
}

// ErrHeaderMismatch is returned in strict mode when an entry's keys do not
// match the header already established in the table.
var ErrHeaderMismatch = errors.New("survey entry does not match table header")

// PersistenceError wraps every I/O failure of the record store. The
// operation that triggered it failed as a whole and may be retried.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(path string, err error, format string, args ...interface{}) error {
	return &PersistenceError{Path: path, Err: errors.Wrapf(err, format, args...)}
}
