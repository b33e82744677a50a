package graph

import (
	"errors"
	"fmt"
)

// Common sentinel errors
var (
	ErrNodeNotFound  = errors.New("node not found")
	ErrEdgeNotFound  = errors.New("edge not found")
	ErrNodeExists    = errors.New("node already exists")
	ErrEdgeExists    = errors.New("edge already exists")
	ErrEmptyEdgeType = errors.New("edge type cannot be empty")
	ErrReadOnlyTx    = errors.New("unit of work is read-only")
	ErrTxClosed      = errors.New("unit of work already committed or rolled back")
)

// Store errors
var (
	ErrPathRequired      = errors.New("storage path is required")
	ErrUnknownFormat     = errors.New("unknown store format")
	ErrStoreTooNew       = errors.New("store format is newer than this software supports")
	ErrUpgradeNotAllowed = errors.New("store format upgrade required but not allowed")
	ErrCorruptStore      = errors.New("store layout is corrupt")
	ErrSeqGap            = errors.New("replication log entry out of sequence")
	ErrUnknownOp         = errors.New("unknown log operation")
	ErrStoreClosed       = errors.New("store is closed")
)

// OpError provides structured error information for graph operations.
type OpError struct {
	Op     string // Operation that failed (e.g., "CreateEdge", "DeleteEdge")
	Entity string // "node" or "edge"
	ID     uint64 // Entity ID (if applicable)
	Cause  error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("%s %s %d: %v", e.Op, e.Entity, e.ID, e.Cause)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Cause)
}

// Unwrap returns the underlying cause for error chain support.
func (e *OpError) Unwrap() error {
	return e.Cause
}

func nodeError(op string, id uint64, cause error) error {
	return &OpError{Op: op, Entity: "node", ID: id, Cause: cause}
}

func edgeError(op string, id uint64, cause error) error {
	return &OpError{Op: op, Entity: "edge", ID: id, Cause: cause}
}
