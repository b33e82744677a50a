package rollover

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a migration failure
type Kind string

const (
	KindSetupFailure            Kind = "setup-failure"
	KindLeaderResolutionFailure Kind = "leader-resolution-failure"
	KindTransferFailure         Kind = "transfer-failure"
	KindJoinTimeout             Kind = "join-timeout"
	KindProbeDivergence         Kind = "probe-divergence"
	KindFinalValidationFailure  Kind = "final-validation-failure"
	KindStepFailure             Kind = "step-failure"
)

// Failure kinds, matched by errors.Is against any *Error of that kind
var (
	ErrSetupFailure            = errors.New("setup failure")
	ErrLeaderResolutionFailure = errors.New("leader resolution failure")
	ErrTransferFailure         = errors.New("transfer failure")
	ErrJoinTimeout             = errors.New("join timeout")
	ErrProbeDivergence         = errors.New("probe divergence")
	ErrFinalValidationFailure  = errors.New("final validation failure")
	ErrStepFailure             = errors.New("step failure")
)

var kindSentinels = map[Kind]error{
	KindSetupFailure:            ErrSetupFailure,
	KindLeaderResolutionFailure: ErrLeaderResolutionFailure,
	KindTransferFailure:         ErrTransferFailure,
	KindJoinTimeout:             ErrJoinTimeout,
	KindProbeDivergence:         ErrProbeDivergence,
	KindFinalValidationFailure:  ErrFinalValidationFailure,
	KindStepFailure:             ErrStepFailure,
}

// Cluster set errors
var (
	ErrEmptyCluster    = errors.New("cluster has no members")
	ErrClusterTooSmall = errors.New("rolling migration needs at least two members")
	ErrInvalidMember   = errors.New("invalid member")
	ErrDuplicateMember = errors.New("duplicate member id")
	ErrUnknownMember   = errors.New("unknown member id")
	ErrSecondStop      = errors.New("another member is already stopped")
	ErrNotStopped      = errors.New("member is not stopped")
)

// Plan and collaborator errors
var (
	ErrLeaderNotMember  = errors.New("leader is not a cluster member")
	ErrNoLeaderFound    = errors.New("no member reports itself as leader")
	ErrInconsistentCopy = errors.New("transferred store is not consistent")
	ErrNodeNotVisible   = errors.New("join-check node not visible")

	ErrMissingDependency = errors.New("launcher, transfer and validator are required")
)

// NoMember marks an Error that is not about one member
const NoMember = -1

// Error is a migration failure. It names the member and step it happened
// on and, where a comparison failed, what was expected and found.
type Error struct {
	Kind     Kind
	MemberID int
	Step     string
	Expected string
	Actual   string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.MemberID != NoMember {
		fmt.Fprintf(&b, " on member %d", e.MemberID)
	}
	if e.Step != "" {
		fmt.Fprintf(&b, " during %s", e.Step)
	}
	if e.Expected != "" || e.Actual != "" {
		fmt.Fprintf(&b, ": expected %s, got %s", e.Expected, e.Actual)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && target == sentinel
}

func newError(kind Kind, memberID int, step string, err error) *Error {
	return &Error{Kind: kind, MemberID: memberID, Step: step, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
