package rollover

import (
	"time"
)

// Phase names a point in a migration run
type Phase string

const (
	PhaseSetup       Phase = "setup"
	PhaseLeader      Phase = "leader"
	PhasePlan        Phase = "plan"
	PhaseStop        Phase = "stop"
	PhaseCooldown    Phase = "cooldown"
	PhaseTransfer    Phase = "transfer"
	PhaseStart       Phase = "start"
	PhaseJoined      Phase = "joined"
	PhaseProbeApply  Phase = "probe-apply"
	PhaseProbeVerify Phase = "probe-verify"
	PhaseValidate    Phase = "validate"
	PhaseDone        Phase = "done"
	PhaseAborted     Phase = "aborted"
)

// Event reports progress of a run
type Event struct {
	RunID    string    `json:"run_id"`
	Time     time.Time `json:"time"`
	Step     int       `json:"step"` // 1-based plan entry, 0 outside the plan
	MemberID int       `json:"member_id"`
	Strategy Strategy  `json:"strategy,omitempty"`
	Phase    Phase     `json:"phase"`
	Detail   string    `json:"detail,omitempty"`
	Err      string    `json:"error,omitempty"`
}

// Observer receives run events. Implementations must not block for long.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

// Observe calls f(e)
func (f ObserverFunc) Observe(e Event) {
	f(e)
}
