package survey

import (
	"fmt"
	"path/filepath"
	"strings"

	"classroom-bot/internal/settings"
	"classroom-bot/internal/storage"
)

type UnknownSurveyError struct {
	Name string
}

func (e *UnknownSurveyError) Error() string {
	return fmt.Sprintf("Unknown survey %q.", e.Name)
}

type InvalidAnswerError struct {
	Question string
	Answer   string
	Options  []string
}

func (e *InvalidAnswerError) Error() string {
	if e.Answer == "" {
		return fmt.Sprintf("Question %q needs an answer.", e.Question)
	}
	return fmt.Sprintf("%q is not a valid answer to %q (choose one of: %s).", e.Answer, e.Question, strings.Join(e.Options, ", "))
}

// Writer is the part of the record store surveys need.
type Writer interface {
	AppendSurveyEntry(path string, entry storage.SurveyEntry) (bool, error)
}

type Service struct {
	writer  Writer
	surveys map[string]settings.Survey
	order   []string
}

func NewService(defs []settings.Survey, w Writer) *Service {
	s := &Service{writer: w, surveys: make(map[string]settings.Survey, len(defs))}
	for _, d := range defs {
		key := strings.ToLower(d.Name)
		if _, dup := s.surveys[key]; !dup {
			s.order = append(s.order, key)
		}
		s.surveys[key] = d
	}
	return s
}

func (s *Service) Get(name string) (settings.Survey, error) {
	d, ok := s.surveys[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return settings.Survey{}, &UnknownSurveyError{Name: name}
	}
	return d, nil
}

func (s *Service) List() []settings.Survey {
	out := make([]settings.Survey, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.surveys[k])
	}
	return out
}

// Path is the record file of survey d, relative to the data root.
func Path(d settings.Survey) string {
	if d.File != "" {
		return d.File
	}
	return filepath.Join("surveys", d.Name+".csv")
}

// Submit records student's answers to the named survey. Answers are matched
// to questions case-insensitively and stored in question order. It reports
// false when the student had already submitted; the earlier answers stay.
func (s *Service) Submit(name, student string, answers map[string]string) (bool, error) {
	d, err := s.Get(name)
	if err != nil {
		return false, err
	}
	byKey := make(map[string]string, len(answers))
	for k, v := range answers {
		byKey[strings.ToLower(k)] = strings.TrimSpace(v)
	}

	entry := storage.SurveyEntry{Student: student}
	for _, q := range d.Questions {
		v := byKey[strings.ToLower(q.Key)]
		if v == "" {
			return false, &InvalidAnswerError{Question: q.Key, Options: q.Options}
		}
		if len(q.Options) > 0 {
			opt, ok := matchOption(q.Options, v)
			if !ok {
				return false, &InvalidAnswerError{Question: q.Key, Answer: v, Options: q.Options}
			}
			v = opt
		}
		entry.Answers = append(entry.Answers, storage.Answer{Key: q.Key, Value: v})
	}
	return s.writer.AppendSurveyEntry(Path(d), entry)
}

func matchOption(options []string, v string) (string, bool) {
	for _, o := range options {
		if strings.EqualFold(o, v) {
			return o, true
		}
	}
	return "", false
}
