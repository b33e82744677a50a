package backup

import "errors"

// Transfer errors
var (
	ErrChecksumMismatch = errors.New("snapshot checksum mismatch")
	ErrSizeMismatch     = errors.New("snapshot size mismatch")
	ErrTornTransfer     = errors.New("snapshot stream ended without trailer")
	ErrSourceFailed     = errors.New("source failed while streaming snapshot")
	ErrBadStatus        = errors.New("unexpected backup response status")
)

// Auth errors
var (
	ErrShortSecret  = errors.New("backup secret must be at least 32 characters")
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid backup token")
)

// Archive errors
var (
	ErrBucketRequired = errors.New("archive bucket is required")
)
