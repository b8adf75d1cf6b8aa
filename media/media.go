package media

import (
	"fmt"
	"time"
)

// Expiry bounds, in minutes.
const (
	MinExpiryMinutes     = 1
	MaxExpiryMinutes     = 10080 // 7 days
	DefaultExpiryMinutes = 60
)

// Status is the lifecycle state of a Media.
type Status string

// Known statuses.
const (
	// StatusProcessing marks a media whose upload is being encoded.
	StatusProcessing Status = "processing"

	StatusReady Status = "ready"
)

// StaleProcessingTimeout is how long a media may stay in StatusProcessing before it is
// considered abandoned (for example after a crash during encoding).
const StaleProcessingTimeout = 24 * time.Hour

// Media is the metadata record of one uploaded media item.
//
// PublicID is the only identity that crosses the HTTP boundary.
// InternalID names the storage directory and is generated independently of PublicID.
type Media struct {
	PublicID   string `json:"public_id"`
	InternalID string `json:"internal_id"`

	// AccessKey is never transmitted: tokens carry its hash and are signed with a key derived from it.
	AccessKey string `json:"access_key"`

	// AdminKey is shown to the uploader once and compared on every privileged operation.
	AdminKey string `json:"admin_key"`

	Status        Status `json:"status"`
	ExpiryMinutes int    `json:"expiry_minutes"`

	UploadTime       time.Time  `json:"upload_time"`
	LastTokenRefresh *time.Time `json:"last_token_refresh,omitempty"`
	ExpiryExtendedAt *time.Time `json:"expiry_extended_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Validate checks that the record is complete.
func (m Media) Validate() error {
	switch {
	case m.PublicID == "":
		return fmt.Errorf("media: public_id is required")
	case m.InternalID == "":
		return fmt.Errorf("media: internal_id is required")
	case m.AccessKey == "":
		return fmt.Errorf("media: access_key is required")
	case m.AdminKey == "":
		return fmt.Errorf("media: admin_key is required")
	case m.UploadTime.IsZero():
		return fmt.Errorf("media: upload_time is required")
	}

	if err := ValidateExpiry(m.ExpiryMinutes); err != nil {
		return fmt.Errorf("media: %w", err)
	}

	return nil
}

// ExpiresAt returns the end of the validity window.
// The window starts at upload and restarts on every token refresh.
func (m Media) ExpiresAt() time.Time {
	start := m.UploadTime
	if m.LastTokenRefresh != nil && m.LastTokenRefresh.After(start) {
		start = *m.LastTokenRefresh
	}

	return start.Add(time.Duration(m.ExpiryMinutes) * time.Minute)
}

// Expired reports whether the media is due for removal at now.
// Media still processing are only removed once they became stale.
func (m Media) Expired(now time.Time) bool {
	if m.Status == StatusProcessing {
		return now.After(m.UpdatedAt.Add(StaleProcessingTimeout))
	}

	return now.After(m.ExpiresAt())
}

// ValidateExpiry checks that minutes is within the allowed expiry bounds.
func ValidateExpiry(minutes int) error {
	if minutes < MinExpiryMinutes || minutes > MaxExpiryMinutes {
		return fmt.Errorf("expiry must be between %d and %d minutes: %w", MinExpiryMinutes, MaxExpiryMinutes, ErrBadRequest)
	}

	return nil
}
