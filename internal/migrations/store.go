package migrations

import (
	"fmt"
	"slices"
	"sync"

	"github.com/shepherrrd/schemaflow/internal/dberrors"
)

// Store persists migrations. Ledger order follows the From links back from
// the latest migration.
type Store interface {
	Get(name string) (*Migration, error)
	// Latest returns nil when the store is empty.
	Latest() (*Migration, error)
	// Save writes m, replacing any migration with the same name.
	Save(m *Migration) error
	Delete(name string) error
	SetLatest(name string) error
}

// Ordered returns every migration in s in ledger order.
func Ordered(s Store) ([]*Migration, error) {
	latest, err := s.Latest()
	if err != nil || latest == nil {
		return nil, err
	}
	var out []*Migration
	seen := map[string]bool{}
	for m := latest; ; {
		if seen[m.Name] {
			return nil, fmt.Errorf("migration history loops at %s", m.Name)
		}
		seen[m.Name] = true
		out = append(out, m)
		if m.From == "" {
			break
		}
		prev, err := s.Get(m.From)
		if err != nil {
			return nil, err
		}
		m = prev
	}
	slices.Reverse(out)
	return out, nil
}

// MemStore keeps migrations in memory.
type MemStore struct {
	mu         sync.RWMutex
	migrations map[string]*Migration
	latest     string
}

func NewMemStore() *MemStore {
	return &MemStore{migrations: make(map[string]*Migration)}
}

func (s *MemStore) Get(name string) (*Migration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.migrations[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", dberrors.ErrUnknownMigration, name)
	}
	return m, nil
}

func (s *MemStore) Latest() (*Migration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == "" {
		return nil, nil
	}
	return s.migrations[s.latest], nil
}

func (s *MemStore) Save(m *Migration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.migrations[m.Name] = m
	return nil
}

func (s *MemStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.migrations[name]; !ok {
		return fmt.Errorf("%w: %s", dberrors.ErrUnknownMigration, name)
	}
	delete(s.migrations, name)
	if s.latest == name {
		s.latest = ""
	}
	return nil
}

func (s *MemStore) SetLatest(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name != "" {
		if _, ok := s.migrations[name]; !ok {
			return fmt.Errorf("%w: %s", dberrors.ErrUnknownMigration, name)
		}
	}
	s.latest = name
	return nil
}
