package media

import "errors"

// ErrNotFound is returned when a media record or one of its backing files does not exist.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when an admin key or an access token is rejected.
//
// Callers never learn why a credential was rejected.
var ErrForbidden = errors.New("forbidden")

// ErrBadRequest is returned for malformed input, including path traversal attempts.
var ErrBadRequest = errors.New("bad request")

// ErrEncodingFailed is returned when the external encoder fails.
var ErrEncodingFailed = errors.New("encoding failed")
