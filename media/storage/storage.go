// Package storage lays out media files on the local filesystem and resolves requested chunks
// without letting a request escape the directory of its media.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/streamgate/streamgate/media"
)

const (
	// PlaylistName is the file name of the manifest inside a media directory.
	PlaylistName = "playlist.m3u8"

	// ChunkExtension is the only extension served as a chunk.
	ChunkExtension = ".ts"

	uploadExtension = ".upload"
)

// Layout implements media.Storage on top of a root directory:
//
//	{Root}/{internalID}/playlist.m3u8
//	{Root}/{internalID}/segment{n}.ts
//	{Root}/{internalID}.upload
type Layout struct {
	Root string
}

// NewLayout creates the root directory if necessary and returns a Layout for it.
func NewLayout(root string) (Layout, error) {
	if root == "" {
		return Layout{}, errors.New("storage: root is required")
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return Layout{}, fmt.Errorf("storage: create root: %w", err)
	}

	return Layout{Root: root}, nil
}

// Dir implements media.Storage.
func (l Layout) Dir(internalID string) string {
	return filepath.Join(l.Root, internalID)
}

// UploadPath implements media.Storage.
func (l Layout) UploadPath(internalID string) string {
	return filepath.Join(l.Root, internalID+uploadExtension)
}

// ResolvePlaylist implements media.Storage.
func (l Layout) ResolvePlaylist(internalID string) (string, error) {
	if !validID(internalID) {
		return "", fmt.Errorf("playlist: %w", media.ErrNotFound)
	}

	p := filepath.Join(l.Dir(internalID), PlaylistName)

	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
		return "", fmt.Errorf("playlist not found: %w", media.ErrNotFound)
	} else if err != nil {
		return "", err
	}

	return p, nil
}

// ResolveChunk implements media.Storage.
//
// The name is checked syntactically first; the joined path is then canonicalized
// and must stay strictly inside the canonical media directory, before and after symlink evaluation.
func (l Layout) ResolveChunk(internalID string, name string) (string, error) {
	if !validID(internalID) {
		return "", fmt.Errorf("chunk: %w", media.ErrNotFound)
	}

	if !strings.HasSuffix(name, ChunkExtension) ||
		strings.ContainsAny(name, `/\`) ||
		strings.Contains(name, "..") ||
		strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("invalid segment name: %w", media.ErrBadRequest)
	}

	dir, err := filepath.Abs(l.Dir(internalID))
	if err != nil {
		return "", err
	}

	p, err := filepath.Abs(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}

	if !within(dir, p) {
		return "", fmt.Errorf("invalid segment path: %w", media.ErrBadRequest)
	}

	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("segment not found: %w", media.ErrNotFound)
	} else if err != nil {
		return "", err
	}

	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("segment not found: %w", media.ErrNotFound)
	}

	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", err
	}

	realPath, err := filepath.EvalSymlinks(p)
	if err != nil {
		return "", err
	}

	if !within(realDir, realPath) {
		return "", fmt.Errorf("invalid segment path: %w", media.ErrBadRequest)
	}

	return realPath, nil
}

// Remove implements media.Storage.
func (l Layout) Remove(internalID string) error {
	if !validID(internalID) {
		return fmt.Errorf("storage: invalid internal id")
	}

	if err := os.Remove(l.UploadPath(internalID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return os.RemoveAll(l.Dir(internalID))
}

// InternalIDs implements media.Storage.
func (l Layout) InternalIDs() ([]string, error) {
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		return nil, fmt.Errorf("storage: list root: %w", err)
	}

	seen := make(map[string]bool, len(entries))
	ids := make([]string, 0, len(entries))

	for _, entry := range entries {
		id := entry.Name()

		if !entry.IsDir() {
			if !strings.HasSuffix(id, uploadExtension) {
				continue
			}

			id = strings.TrimSuffix(id, uploadExtension)
		}

		if !validID(id) || seen[id] {
			continue
		}

		seen[id] = true
		ids = append(ids, id)
	}

	return ids, nil
}

// within reports whether p lies strictly inside dir.
func within(dir string, p string) bool {
	return strings.HasPrefix(p, dir+string(filepath.Separator)) && len(p) > len(dir)+1
}

// validID rejects internal IDs that would address anything but a direct child of the root.
func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`) && !strings.ContainsRune(id, 0)
}
