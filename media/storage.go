package media

import (
	"context"
)

// Storage maps internal IDs to locations on the backing filesystem.
type Storage interface {
	// Dir returns the directory holding the manifest and chunks of a media.
	Dir(internalID string) string

	// UploadPath returns the temporary location of an uploaded source file.
	UploadPath(internalID string) string

	// ResolvePlaylist returns the manifest path or ErrNotFound.
	ResolvePlaylist(internalID string) (string, error)

	// ResolveChunk validates a requested chunk name and returns its path.
	// It returns ErrBadRequest for invalid names and ErrNotFound for missing chunks.
	ResolveChunk(internalID string, name string) (string, error)

	// Remove deletes the directory and the uploaded source file of a media.
	Remove(internalID string) error

	// InternalIDs lists the internal IDs that own a directory or an uploaded source file.
	InternalIDs() ([]string, error)
}

// Encoder converts a source media file into a segmented manifest and chunk files.
type Encoder interface {
	Encode(ctx context.Context, input string, outputDir string) error
}
