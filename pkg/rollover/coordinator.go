package rollover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/dd0wney/cluso-rollover/pkg/graph"
	"github.com/dd0wney/cluso-rollover/pkg/logging"
	"github.com/dd0wney/cluso-rollover/pkg/metrics"
	"github.com/dd0wney/cluso-rollover/pkg/probe"
)

// Dependencies are the services a Coordinator drives
type Dependencies struct {
	Launcher  Launcher
	Transfer  StateTransfer
	Validator Validator

	// View defaults to a RoleView with the configured leader timeout
	View ClusterView
	// Probe defaults to probe.New
	Probe WorkloadProbe

	Logger   logging.Logger
	Metrics  *metrics.Registry
	Clock    clock.Clock
	Observer Observer
}

// Coordinator replaces every member of a running cluster with the target
// version, one member at a time, leader last
type Coordinator struct {
	cfg     Config
	deps    Dependencies
	logger  logging.Logger
	metrics *metrics.Registry
	clock   clock.Clock
}

// NewCoordinator creates a coordinator. Missing optional dependencies get
// their defaults.
func NewCoordinator(cfg Config, deps Dependencies) *Coordinator {
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.DefaultRegistry()
	}
	if deps.Clock == nil {
		deps.Clock = clock.WallClock
	}
	logger := deps.Logger.With(logging.Component("rollover"))
	if deps.View == nil {
		deps.View = NewRoleView(cfg.LeaderTimeout, deps.Logger)
	}
	if deps.Probe == nil {
		deps.Probe = probe.New(deps.Logger)
	}
	return &Coordinator{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		metrics: deps.Metrics,
		clock:   deps.Clock,
	}
}

// run is the state of one Run call
type run struct {
	*Coordinator
	id      string
	logger  logging.Logger
	set     *ClusterSet
	plan    *Plan
	fixture probe.Fixture
}

// Run migrates the cluster made of initial, whose members must be running
// the old version, and returns the final member records. Any failure
// aborts the run and is returned as an *Error; nothing is retried or
// rolled back.
func (c *Coordinator) Run(ctx context.Context, initial []*Member) ([]*Member, error) {
	r := &run{Coordinator: c, id: c.cfg.RunID}
	if r.id == "" {
		r.id = uuid.NewString()
	}
	r.logger = c.logger.With(logging.RunID(r.id))

	err := r.execute(ctx, initial)
	c.metrics.RecordRun(err)
	if err != nil {
		r.emit(Event{Phase: PhaseAborted, MemberID: memberOf(err), Err: err.Error()})
		r.logger.Error("migration aborted", logging.Error(err))
		if r.set == nil {
			return initial, err
		}
		return r.set.Members(), err
	}
	r.emit(Event{Phase: PhaseDone, MemberID: NoMember, Detail: fmt.Sprintf("%d members on %s", len(initial), c.cfg.Target)})
	r.logger.Info("migration complete", logging.Version(c.cfg.Target.String()))
	return r.set.Members(), nil
}

func (r *run) execute(ctx context.Context, initial []*Member) error {
	if err := r.cfg.Validate(); err != nil {
		return newError(KindSetupFailure, NoMember, "config", err)
	}
	if r.deps.Launcher == nil || r.deps.Transfer == nil || r.deps.Validator == nil {
		return newError(KindSetupFailure, NoMember, "config", ErrMissingDependency)
	}
	set, err := NewClusterSet(initial)
	if err != nil {
		return newError(KindSetupFailure, NoMember, "members", err)
	}
	r.set = set
	if len(set.IDs()) < 2 {
		return newError(KindSetupFailure, NoMember, "members", ErrClusterTooSmall)
	}
	r.metrics.RolloverStoppedMembers.Set(0)
	r.metrics.RolloverMigratedMembers.Set(float64(set.Migrated()))

	if err := r.verifySetup(ctx); err != nil {
		return err
	}

	leaderID, err := r.findLeader(ctx, "leader")
	if err != nil {
		return err
	}
	leader, _ := set.Get(leaderID)
	r.emit(Event{Phase: PhaseLeader, MemberID: leaderID})

	plan, err := BuildPlan(set.IDs(), leaderID)
	if err != nil {
		return newError(KindSetupFailure, leaderID, "plan", err)
	}
	plan.From = leader.Version
	plan.To = r.cfg.Target
	r.plan = plan
	r.logger.Info("migration planned",
		logging.Int("members", len(plan.Entries)),
		logging.MemberID(leaderID),
		logging.Version(plan.To.String()))
	r.emit(Event{Phase: PhasePlan, MemberID: leaderID, Detail: plan.PrettyPrint()})

	r.fixture, err = r.initProbe(ctx, leader)
	if err != nil {
		return err
	}

	for i, entry := range plan.Entries {
		step := i + 1
		if err := r.replace(ctx, step, entry); err != nil {
			return err
		}
		if err := r.converge(ctx, step, entry); err != nil {
			return err
		}
	}

	return r.validateAll(ctx)
}

// verifySetup checks every member has joined and that a node written
// through each member becomes visible on all of them
func (r *run) verifySetup(ctx context.Context) error {
	members := r.set.Members()
	for _, m := range members {
		if m.Handle == nil || m.State != StateRunningOld {
			return &Error{Kind: KindSetupFailure, MemberID: m.ID, Step: "setup",
				Expected: string(StateRunningOld), Actual: string(m.State), Err: ErrInvalidMember}
		}
		if err := r.awaitJoined(ctx, m.Handle); err != nil {
			return newError(KindSetupFailure, m.ID, "setup", err)
		}
	}

	for _, m := range members {
		id, err := m.Handle.CreateNode(ctx, map[string]string{"joincheck": m.Handle.Name()})
		if err != nil {
			return newError(KindSetupFailure, m.ID, "join-check", err)
		}
		for _, other := range members {
			if err := r.visible(ctx, other, id); err != nil {
				return err
			}
		}
	}
	r.emit(Event{Phase: PhaseSetup, MemberID: NoMember, Detail: fmt.Sprintf("%d members joined", len(members))})
	r.logger.Info("cluster setup verified", logging.Int("members", len(members)))
	return nil
}

func (r *run) visible(ctx context.Context, m *Member, nodeID uint64) error {
	if err := m.Handle.PullUpdates(ctx); err != nil {
		return newError(KindSetupFailure, m.ID, "join-check", err)
	}
	err := m.Handle.View(ctx, func(tx graph.Tx) error {
		_, err := tx.Node(nodeID)
		return err
	})
	if errors.Is(err, graph.ErrNodeNotFound) {
		return &Error{Kind: KindSetupFailure, MemberID: m.ID, Step: "join-check",
			Expected: fmt.Sprintf("node %d", nodeID), Actual: "missing", Err: ErrNodeNotVisible}
	}
	if err != nil {
		return newError(KindSetupFailure, m.ID, "join-check", err)
	}
	return nil
}

func (r *run) findLeader(ctx context.Context, step string) (int, error) {
	id, err := r.deps.View.FindLeader(ctx, r.set.Members())
	if err != nil {
		return NoMember, newError(KindLeaderResolutionFailure, NoMember, step, err)
	}
	if _, ok := r.set.Get(id); !ok {
		return NoMember, newError(KindLeaderResolutionFailure, id, step, fmt.Errorf("%w: %d", ErrUnknownMember, id))
	}
	return id, nil
}

func (r *run) initProbe(ctx context.Context, leader *Member) (probe.Fixture, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()
	f, err := r.deps.Probe.Initialize(ctx, target(leader), r.cfg.FixtureSize)
	if err != nil {
		return probe.Fixture{}, newError(KindSetupFailure, leader.ID, "probe-init", err)
	}
	return f, nil
}

// converge runs one probe round through the current leader and verifies it
// on every live member
func (r *run) converge(ctx context.Context, step int, entry PlanEntry) error {
	leaderID, err := r.findLeader(ctx, "probe")
	if err != nil {
		return err
	}
	leader, _ := r.set.Get(leaderID)

	applyCtx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	marker, err := r.deps.Probe.Apply(applyCtx, target(leader), r.fixture)
	cancel()
	if err != nil {
		r.metrics.RecordProbeRound(err)
		return probeError(leaderID, "probe-apply", err)
	}
	r.emit(Event{Step: step, MemberID: leaderID, Strategy: entry.Strategy, Phase: PhaseProbeApply,
		Detail: fmt.Sprintf("marker %d", marker)})

	for _, m := range r.set.Live() {
		verifyCtx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
		err := r.deps.Probe.Verify(verifyCtx, target(m), r.fixture, marker)
		cancel()
		if err != nil {
			r.metrics.RecordProbeRound(err)
			return probeError(m.ID, "probe-verify", err)
		}
	}
	r.metrics.RecordProbeRound(nil)
	r.emit(Event{Step: step, MemberID: entry.MemberID, Strategy: entry.Strategy, Phase: PhaseProbeVerify,
		Detail: fmt.Sprintf("marker %d on %d members", marker, len(r.set.Live()))})
	return nil
}

func probeError(memberID int, step string, err error) *Error {
	e := newError(KindProbeDivergence, memberID, step, err)
	var d *probe.Divergence
	if errors.As(err, &d) {
		e.Expected = d.Expected
		e.Actual = d.Actual
	}
	return e
}

// validateAll checks every member's store at rest, one member at a time,
// restarting each on the same storage before moving to the next
func (r *run) validateAll(ctx context.Context) error {
	for _, m := range r.set.Members() {
		if err := r.stop(ctx, m, "final-stop"); err != nil {
			return err
		}

		err := r.deps.Validator.Check(ctx, m.StoragePath)
		r.metrics.RecordValidation(err)
		if err != nil {
			return newError(KindFinalValidationFailure, m.ID, "validate", err)
		}
		r.emit(Event{MemberID: m.ID, Phase: PhaseValidate, Detail: m.StoragePath})
		r.logger.Info("store validated", logging.MemberID(m.ID), logging.Path(m.StoragePath))

		if err := r.start(ctx, m, m.StoragePath, "restart"); err != nil {
			return err
		}
	}
	return nil
}

// stop ends m's process and records it as stopped
func (r *run) stop(ctx context.Context, m *Member, step string) error {
	stopCtx, cancel := context.WithTimeout(ctx, r.cfg.StopTimeout)
	defer cancel()
	if err := m.Handle.Stop(stopCtx); err != nil {
		return newError(KindStepFailure, m.ID, step, err)
	}
	if err := r.set.MarkStopped(m.ID); err != nil {
		return newError(KindStepFailure, m.ID, step, err)
	}
	r.metrics.RolloverStoppedMembers.Set(float64(r.set.Stopped()))
	return nil
}

// start launches the target version on storagePath and waits for m to join
func (r *run) start(ctx context.Context, m *Member, storagePath, step string) error {
	h, err := r.deps.Launcher.Start(ctx, r.cfg.Target, r.cfg.memberConfig(r.set, m, storagePath))
	if err != nil {
		return newError(KindStepFailure, m.ID, step, err)
	}
	if err := r.awaitJoined(ctx, h); err != nil {
		return newError(KindJoinTimeout, m.ID, step, err)
	}
	if err := r.set.MarkRunningNew(m.ID, h, storagePath, r.cfg.Target); err != nil {
		return newError(KindStepFailure, m.ID, step, err)
	}
	r.metrics.RolloverStoppedMembers.Set(float64(r.set.Stopped()))
	r.metrics.RolloverMigratedMembers.Set(float64(r.set.Migrated()))
	return nil
}

func (r *run) awaitJoined(ctx context.Context, h MemberHandle) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.JoinTimeout)
	defer cancel()
	return h.AwaitJoined(ctx)
}

// cooldown waits out the stabilization window
func (r *run) cooldown(ctx context.Context) error {
	if r.cfg.StabilizationWindow <= 0 {
		return nil
	}
	select {
	case <-r.clock.After(r.cfg.StabilizationWindow):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *run) emit(e Event) {
	if r.deps.Observer == nil {
		return
	}
	e.RunID = r.id
	e.Time = r.clock.Now()
	r.deps.Observer.Observe(e)
}

// memberOf returns the member an error is about
func memberOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.MemberID
	}
	return NoMember
}

// elapsed measures a step on the coordinator's clock
func (r *run) elapsed(start time.Time) time.Duration {
	return r.clock.Now().Sub(start)
}
