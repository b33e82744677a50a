package member

import (
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-rollover/pkg/cluster"
	"github.com/dd0wney/cluso-rollover/pkg/graph"
)

// Member errors
var (
	ErrBusy        = errors.New("member is serving another unit of work")
	ErrNoSession   = errors.New("unknown or expired session")
	ErrUnknownOp   = errors.New("unknown operation")
	ErrBadRequest  = errors.New("malformed request")
	ErrStopping    = errors.New("member is stopping")
	ErrUnreachable = errors.New("member unreachable")
	ErrNotJoined   = errors.New("member did not join")
	ErrTimeout     = errors.New("socket timeout")
)

// errorCodes maps sentinel errors to the codes carried in responses
var errorCodes = []struct {
	code string
	err  error
}{
	{"not_leader", cluster.ErrNotLeader},
	{"no_leader", cluster.ErrNoLeader},
	{"busy", ErrBusy},
	{"no_session", ErrNoSession},
	{"unknown_op", ErrUnknownOp},
	{"bad_request", ErrBadRequest},
	{"stopping", ErrStopping},
	{"node_not_found", graph.ErrNodeNotFound},
	{"edge_not_found", graph.ErrEdgeNotFound},
	{"empty_edge_type", graph.ErrEmptyEdgeType},
	{"read_only", graph.ErrReadOnlyTx},
	{"tx_closed", graph.ErrTxClosed},
	{"seq_gap", graph.ErrSeqGap},
}

// codeOf returns the response code for err
func codeOf(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// RemoteError is an error reported by a member
type RemoteError struct {
	Op      string
	Code    string
	Message string
	err     error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap returns the sentinel matching Code, if any
func (e *RemoteError) Unwrap() error {
	return e.err
}

func remoteError(op, code, message string) error {
	e := &RemoteError{Op: op, Code: code, Message: message}
	for _, c := range errorCodes {
		if c.code == code {
			e.err = c.err
			break
		}
	}
	return e
}
