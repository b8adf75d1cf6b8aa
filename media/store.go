package media

import (
	"context"
)

// ListOptions filters Store.List results.
type ListOptions struct {
	// Status limits results to media in the given status. Empty means all.
	Status Status
}

// Stats summarizes the content of a Store.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`

	// SizeBytes is the size of the persisted data. Zero for stores without a backing file.
	SizeBytes int64 `json:"size_bytes"`
}

// Store persists media records keyed by public ID.
//
// Implementations must serialize read-modify-write sequences:
// two concurrent UpdateIfPresent calls on the same record never lose an update.
type Store interface {
	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, publicID string) (Media, error)

	// Put creates or replaces a record.
	Put(ctx context.Context, media Media) error

	// UpdateIfPresent applies fn to the stored record and persists the result atomically.
	// It returns ErrNotFound if the record does not exist.
	// If fn returns an error, nothing is written and the error is returned as is.
	UpdateIfPresent(ctx context.Context, publicID string, fn func(media *Media) error) (Media, error)

	// GetByInternalID returns the record owning a storage directory or ErrNotFound.
	GetByInternalID(ctx context.Context, internalID string) (Media, error)

	// Delete removes a record or returns ErrNotFound.
	Delete(ctx context.Context, publicID string) error

	// DeleteIf removes a record if cond holds for its current state.
	// The check and the removal are atomic. It reports whether the record was removed
	// and returns ErrNotFound if the record does not exist.
	DeleteIf(ctx context.Context, publicID string, cond func(media Media) bool) (bool, error)

	// Stats counts the stored records.
	Stats(ctx context.Context) (Stats, error)

	// List returns all records matching opts.
	List(ctx context.Context, opts ListOptions) ([]Media, error)
}

// CountStats builds Stats from a set of records.
func CountStats(entries []Media) Stats {
	stats := Stats{
		Total:    len(entries),
		ByStatus: make(map[Status]int),
	}

	for _, m := range entries {
		stats.ByStatus[m.Status]++
	}

	return stats
}
