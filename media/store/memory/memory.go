// Package memory implements an in-memory media.Store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/exp/maps"

	"github.com/streamgate/streamgate/media"
)

// Store keeps media records in memory. The zero value is ready to use.
type Store struct {
	entries map[string]media.Media

	initOnce sync.Once
	mu       sync.RWMutex
}

func (s *Store) init() {
	s.initOnce.Do(func() {
		if s.entries == nil {
			s.entries = make(map[string]media.Media)
		}
	})
}

// Get implements media.Store.
func (s *Store) Get(_ context.Context, publicID string) (media.Media, error) {
	s.init()
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.entries[publicID]
	if !ok {
		return media.Media{}, fmt.Errorf("media not found: %w", media.ErrNotFound)
	}

	return m, nil
}

// Put implements media.Store.
func (s *Store) Put(_ context.Context, m media.Media) error {
	if err := m.Validate(); err != nil {
		return err
	}

	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[m.PublicID] = m

	return nil
}

// UpdateIfPresent implements media.Store.
func (s *Store) UpdateIfPresent(_ context.Context, publicID string, fn func(m *media.Media) error) (media.Media, error) {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.entries[publicID]
	if !ok {
		return media.Media{}, fmt.Errorf("media not found: %w", media.ErrNotFound)
	}

	if err := fn(&m); err != nil {
		return media.Media{}, err
	}

	m.PublicID = publicID

	if err := m.Validate(); err != nil {
		return media.Media{}, err
	}

	s.entries[publicID] = m

	return m, nil
}

// Delete implements media.Store.
func (s *Store) Delete(_ context.Context, publicID string) error {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[publicID]; !ok {
		return fmt.Errorf("media not found: %w", media.ErrNotFound)
	}

	delete(s.entries, publicID)

	return nil
}

// GetByInternalID implements media.Store.
func (s *Store) GetByInternalID(_ context.Context, internalID string) (media.Media, error) {
	s.init()
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.entries {
		if m.InternalID == internalID {
			return m, nil
		}
	}

	return media.Media{}, fmt.Errorf("media not found: %w", media.ErrNotFound)
}

// DeleteIf implements media.Store.
func (s *Store) DeleteIf(_ context.Context, publicID string, cond func(m media.Media) bool) (bool, error) {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.entries[publicID]
	if !ok {
		return false, fmt.Errorf("media not found: %w", media.ErrNotFound)
	}

	if !cond(m) {
		return false, nil
	}

	delete(s.entries, publicID)

	return true, nil
}

// Stats implements media.Store.
func (s *Store) Stats(_ context.Context) (media.Stats, error) {
	s.init()
	s.mu.RLock()
	defer s.mu.RUnlock()

	return media.CountStats(maps.Values(s.entries)), nil
}

// List implements media.Store.
func (s *Store) List(_ context.Context, opts media.ListOptions) ([]media.Media, error) {
	s.init()
	s.mu.RLock()
	entries := maps.Clone(s.entries)
	s.mu.RUnlock()

	return filter(entries, opts), nil
}

func filter(entries map[string]media.Media, opts media.ListOptions) []media.Media {
	result := make([]media.Media, 0, len(entries))

	for _, m := range entries {
		if opts.Status != "" && m.Status != opts.Status {
			continue
		}

		result = append(result, m)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].PublicID < result[j].PublicID
	})

	return result
}
