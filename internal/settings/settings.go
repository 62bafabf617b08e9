// Package settings owns the bot's domain settings file: configured groups,
// the role allow-list, the guild role catalogue written by role sync,
// session schedules and survey definitions.
//
// The file is JSON extended with comments and trailing commas. It is read
// once at startup and rewritten only through Store.Update.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/jsonc"

	"classroom-bot/internal/config"
)

// MaxGroupIDLength is the longest group identifier the attendance matcher
// will ever look at.
const MaxGroupIDLength = 10

type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Schedule struct {
	Group string `json:"group" validate:"required"`
	Open  string `json:"open" validate:"required"`
	Close string `json:"close" validate:"required"`
}

type Question struct {
	Key     string   `json:"key" validate:"required"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
}

type Survey struct {
	Name      string     `json:"name" validate:"required"`
	File      string     `json:"file"`
	Questions []Question `json:"questions" validate:"required,min=1,dive"`
}

type Settings struct {
	Groups       []string   `json:"groups" validate:"required,min=1,unique_ci,dive,required,max=10,group_id"`
	AllowedRoles []Role     `json:"allowed_roles"`
	GuildRoles   []Role     `json:"guild_roles"`
	Schedules    []Schedule `json:"schedules" validate:"dive"`
	Surveys      []Survey   `json:"surveys" validate:"dive"`
}

// Clone returns a deep copy so callers can mutate the result freely.
func (s Settings) Clone() Settings {
	out := Settings{
		Groups:       append([]string(nil), s.Groups...),
		AllowedRoles: append([]Role(nil), s.AllowedRoles...),
		GuildRoles:   append([]Role(nil), s.GuildRoles...),
		Schedules:    append([]Schedule(nil), s.Schedules...),
	}
	for _, sv := range s.Surveys {
		cp := sv
		cp.Questions = make([]Question, len(sv.Questions))
		for i, q := range sv.Questions {
			q.Options = append([]string(nil), q.Options...)
			cp.Questions[i] = q
		}
		out.Surveys = append(out.Surveys, cp)
	}
	return out
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("unique_ci", uniqueFold)
	_ = v.RegisterValidation("group_id", groupID)
	v.RegisterStructValidation(surveyStructValidation, Survey{})
	return v
}

// uniqueFold rejects string slices holding two values equal up to case.
func uniqueFold(fl validator.FieldLevel) bool {
	items, ok := fl.Field().Interface().([]string)
	if !ok {
		return false
	}
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		k := strings.ToLower(it)
		if _, dup := seen[k]; dup {
			return false
		}
		seen[k] = struct{}{}
	}
	return true
}

// groupID rejects ids that cannot be used as part of a record file name.
func groupID(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	return !strings.ContainsAny(id, `/\`) && !strings.Contains(id, "..")
}

func surveyStructValidation(sl validator.StructLevel) {
	sv := sl.Current().Interface().(Survey)
	seen := make(map[string]struct{}, len(sv.Questions))
	for _, q := range sv.Questions {
		if _, dup := seen[q.Key]; dup {
			sl.ReportError(sv.Questions, "questions", "Questions", "unique_keys", q.Key)
			return
		}
		seen[q.Key] = struct{}{}
	}
}

// Validate checks s and returns a *config.Error describing the first problem.
func Validate(s Settings) error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &config.Error{Field: fe.Namespace(), Err: fmt.Errorf("failed %q validation (value %v)", fe.Tag(), fe.Value())}
		}
		return &config.Error{Err: err}
	}
	return nil
}

// Parse strips comments and trailing commas from data, decodes it and
// validates the result.
func Parse(data []byte) (Settings, error) {
	var s Settings
	if err := json.Unmarshal(jsonc.ToJSON(data), &s); err != nil {
		return Settings{}, &config.Error{Err: fmt.Errorf("parsing settings: %w", err)}
	}
	if err := Validate(s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Store is the configuration provider: a validated snapshot of the settings
// file plus Update to persist a new one.
type Store struct {
	path    string
	mu      sync.RWMutex
	current Settings
}

func Open(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &config.Error{Field: path, Err: err}
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Store{path: path, current: s}, nil
}

func (st *Store) Snapshot() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.current.Clone()
}

// Update validates next, writes it to disk and makes it the current snapshot.
// Comments in the file on disk are not preserved.
func (st *Store) Update(next Settings) error {
	if err := Validate(next); err != nil {
		return err
	}
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := writeAtomic(st.path, append(data, '\n')); err != nil {
		return err
	}
	st.current = next.Clone()
	return nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".settings-*.json")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}
