// Package backup moves point-in-time store snapshots between members.
//
// Every member serves GET /backup on its backup port. The body is the raw
// store file framed as a snappy stream; the BLAKE2b-256 checksum and size of
// the raw bytes follow as HTTP trailers so the receiver can reject a torn
// copy.
package backup

import (
	"context"
	"io"
)

// Path is the snapshot endpoint on the backup port
const Path = "/backup"

// Trailers sent after the snapshot body
const (
	TrailerChecksum = "Graphdb-Backup-Checksum"
	TrailerSize     = "Graphdb-Backup-Size"
	TrailerError    = "Graphdb-Backup-Error"
)

// Metric directions
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// Snapshotter writes a consistent copy of a store
type Snapshotter interface {
	WriteSnapshot(w io.Writer) (int64, error)
}

// Validator checks a received store at rest
type Validator interface {
	Check(ctx context.Context, storagePath string) error
}
