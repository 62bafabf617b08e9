package auth

import (
	"log"
	"sort"
	"strconv"
	"sync"

	"classroom-bot/internal/settings"
)

// Service answers whether a member may run privileged commands: they may if
// they hold at least one allow-listed role.
type Service struct {
	mu      sync.RWMutex
	allowed map[uint64]string
}

func New(roles []settings.Role) *Service {
	s := &Service{}
	s.Replace(roles)
	return s
}

// Replace swaps the allow-list. Entries whose id is not an integer are
// skipped with a warning.
func (s *Service) Replace(roles []settings.Role) {
	allowed := make(map[uint64]string, len(roles))
	for _, r := range roles {
		id, err := strconv.ParseUint(r.ID, 10, 64)
		if err != nil {
			log.Printf("Warning: invalid role data in settings (%q, %q): %v", r.ID, r.Name, err)
			continue
		}
		allowed[id] = r.Name
	}
	s.mu.Lock()
	s.allowed = allowed
	s.mu.Unlock()
}

func (s *Service) IsAuthorized(roleIDs []string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, raw := range roleIDs {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			continue
		}
		if _, ok := s.allowed[id]; ok {
			return true
		}
	}
	return false
}

// List returns the allow-list sorted by id.
func (s *Service) List() []settings.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uint64, 0, len(s.allowed))
	for id := range s.allowed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]settings.Role, 0, len(ids))
	for _, id := range ids {
		out = append(out, settings.Role{ID: strconv.FormatUint(id, 10), Name: s.allowed[id]})
	}
	return out
}
