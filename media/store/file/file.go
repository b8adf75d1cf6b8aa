// Package file implements a media.Store persisted as a single JSON document.
//
// Every write follows a backup-then-replace discipline: the current document is renamed to
// {path}.backup, the new document is written and synced, and the backup is removed.
// If writing fails the backup is restored. A document found missing or corrupt on load is
// recovered from the backup, so readers observe either the old or the new mapping.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/exp/maps"

	"github.com/streamgate/streamgate/media"
)

const (
	backupSuffix     = ".backup"
	quarantineSuffix = ".quarantine"
)

// Store is a media.Store backed by a JSON file.
type Store struct {
	path   string
	logger *zap.Logger

	// writeFile writes a complete document. Replaced in tests to simulate crashes.
	writeFile func(path string, data []byte) error

	mu sync.RWMutex
}

// NewStore opens (or initializes) the document at path.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("file store: path is required")
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("file store: create directory: %w", err)
		}
	}

	s := &Store{
		path:      path,
		logger:    logger,
		writeFile: syncWriteFile,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.recover(); err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := s.save(map[string]media.Media{}); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Path returns the location of the document.
func (s *Store) Path() string {
	return s.path
}

// Get implements media.Store.
func (s *Store) Get(_ context.Context, publicID string) (media.Media, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := s.load()
	if err != nil {
		return media.Media{}, err
	}

	m, ok := entries[publicID]
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

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}

	entries[m.PublicID] = m

	return s.save(entries)
}

// UpdateIfPresent implements media.Store.
func (s *Store) UpdateIfPresent(_ context.Context, publicID string, fn func(m *media.Media) error) (media.Media, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return media.Media{}, err
	}

	m, ok := entries[publicID]
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

	entries[publicID] = m

	if err := s.save(entries); err != nil {
		return media.Media{}, err
	}

	return m, nil
}

// Delete implements media.Store.
func (s *Store) Delete(_ context.Context, publicID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}

	if _, ok := entries[publicID]; !ok {
		return fmt.Errorf("media not found: %w", media.ErrNotFound)
	}

	delete(entries, publicID)

	return s.save(entries)
}

// GetByInternalID implements media.Store.
func (s *Store) GetByInternalID(_ context.Context, internalID string) (media.Media, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := s.load()
	if err != nil {
		return media.Media{}, err
	}

	for _, m := range entries {
		if m.InternalID == internalID {
			return m, nil
		}
	}

	return media.Media{}, fmt.Errorf("media not found: %w", media.ErrNotFound)
}

// DeleteIf implements media.Store.
func (s *Store) DeleteIf(_ context.Context, publicID string, cond func(m media.Media) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return false, err
	}

	m, ok := entries[publicID]
	if !ok {
		return false, fmt.Errorf("media not found: %w", media.ErrNotFound)
	}

	if !cond(m) {
		return false, nil
	}

	delete(entries, publicID)

	if err := s.save(entries); err != nil {
		return false, err
	}

	return true, nil
}

// Stats implements media.Store. SizeBytes is the size of the JSON document.
func (s *Store) Stats(_ context.Context) (media.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := s.load()
	if err != nil {
		return media.Stats{}, err
	}

	info, err := os.Stat(s.path)
	if err != nil {
		return media.Stats{}, fmt.Errorf("file store: stat: %w", err)
	}

	stats := media.CountStats(maps.Values(entries))
	stats.SizeBytes = info.Size()

	return stats, nil
}

// List implements media.Store.
func (s *Store) List(_ context.Context, opts media.ListOptions) ([]media.Media, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := s.load()
	if err != nil {
		return nil, err
	}

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

	return result, nil
}

// load reads the document. Malformed records are skipped (see quarantine).
func (s *Store) load() (map[string]media.Media, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("file store: read: %w", err)
	}

	raw, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("file store: %w", err)
	}

	entries, invalid := split(raw)

	if len(invalid) > 0 {
		s.logger.Warn("skipping malformed media records", zap.Strings("keys", keys(invalid)))
	}

	return entries, nil
}

// save replaces the document using the backup-then-replace discipline.
func (s *Store) save(entries map[string]media.Media) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("file store: encode: %w", err)
	}

	backup := s.path + backupSuffix

	hasBackup := false

	if err := os.Rename(s.path, backup); err == nil {
		hasBackup = true
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file store: create backup: %w", err)
	}

	if err := s.writeFile(s.path, data); err != nil {
		if hasBackup {
			if restoreErr := os.Rename(backup, s.path); restoreErr != nil {
				s.logger.Error("restoring media database backup failed", zap.Error(restoreErr))
			}
		} else {
			_ = os.Remove(s.path)
		}

		return fmt.Errorf("file store: write: %w", err)
	}

	if hasBackup {
		if err := os.Remove(backup); err != nil {
			s.logger.Warn("removing media database backup failed", zap.Error(err))
		}
	}

	return nil
}

// recover brings the document into a consistent state after an interrupted write and
// moves malformed records aside into {path}.quarantine.
func (s *Store) recover() error {
	backup := s.path + backupSuffix

	if _, err := os.Stat(backup); err == nil {
		data, readErr := os.ReadFile(s.path)
		if readErr == nil {
			if _, decodeErr := decode(data); decodeErr == nil {
				// The new document was written completely, only the cleanup was missed.
				s.logger.Info("removing stale media database backup")

				if err := os.Remove(backup); err != nil {
					return fmt.Errorf("file store: remove backup: %w", err)
				}
			}
		}

		if _, err := os.Stat(backup); err == nil {
			s.logger.Warn("restoring media database from backup after an interrupted write")

			if err := os.Rename(backup, s.path); err != nil {
				return fmt.Errorf("file store: restore backup: %w", err)
			}
		}
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("file store: read: %w", err)
	}

	raw, err := decode(data)
	if err != nil {
		return fmt.Errorf("file store: %w", err)
	}

	return s.quarantine(raw)
}

func (s *Store) quarantine(raw map[string]json.RawMessage) error {
	entries, invalid := split(raw)

	if len(invalid) == 0 {
		return nil
	}

	quarantinePath := s.path + quarantineSuffix

	existing := make(map[string]json.RawMessage)

	if data, err := os.ReadFile(quarantinePath); err == nil {
		if err := json.Unmarshal(data, &existing); err != nil {
			return fmt.Errorf("file store: decode quarantine: %w", err)
		}
	}

	maps.Copy(existing, invalid)

	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return fmt.Errorf("file store: encode quarantine: %w", err)
	}

	if err := syncWriteFile(quarantinePath, data); err != nil {
		return fmt.Errorf("file store: write quarantine: %w", err)
	}

	s.logger.Warn("quarantined malformed media records", zap.Strings("keys", keys(invalid)), zap.String("path", quarantinePath))

	return s.save(entries)
}

// split separates well-formed records from malformed ones.
// A record is malformed if it does not decode, fails validation or is stored under a foreign key.
func split(raw map[string]json.RawMessage) (map[string]media.Media, map[string]json.RawMessage) {
	entries := make(map[string]media.Media, len(raw))
	invalid := make(map[string]json.RawMessage)

	for key, value := range raw {
		var m media.Media

		if err := json.Unmarshal(value, &m); err != nil {
			invalid[key] = value

			continue
		}

		if err := m.Validate(); err != nil || m.PublicID != key {
			invalid[key] = value

			continue
		}

		entries[key] = m
	}

	return entries, invalid
}

func keys(m map[string]json.RawMessage) []string {
	result := make([]string, 0, len(m))

	for key := range m {
		result = append(result, key)
	}

	sort.Strings(result)

	return result
}

func decode(data []byte) (map[string]json.RawMessage, error) {
	raw := make(map[string]json.RawMessage)

	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	return raw, nil
}

func syncWriteFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		f.Close()

		return err
	}

	if err := f.Sync(); err != nil {
		f.Close()

		return err
	}

	return f.Close()
}
