package rollover

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	dto "github.com/prometheus/client_model/go"

	"github.com/dd0wney/cluso-rollover/pkg/consistency"
	"github.com/dd0wney/cluso-rollover/pkg/graph"
	"github.com/dd0wney/cluso-rollover/pkg/metrics"
	"github.com/dd0wney/cluso-rollover/pkg/probe"
)

// eventLog collects coordinator events
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Observe(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) phases(phase Phase) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Phase == phase {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	cluster  *fakeCluster
	members  []*Member
	cfg      Config
	deps     Dependencies
	events   *eventLog
	registry *metrics.Registry
}

// newHarness starts n legacy members with preferredLeader as leader
func newHarness(t *testing.T, n, preferredLeader int) *harness {
	t.Helper()
	c := newFakeCluster(t, preferredLeader)
	t.Cleanup(c.closeAll)

	members := c.members(n)
	if err := StartCluster(context.Background(), c, members, DefaultConfig(legacy).Member, time.Second); err != nil {
		t.Fatalf("StartCluster failed: %v", err)
	}

	cfg := DefaultConfig(upgrade)
	cfg.StabilizationWindow = 0
	cfg.JoinTimeout = 5 * time.Second
	cfg.StopTimeout = 5 * time.Second
	cfg.LeaderTimeout = time.Second
	cfg.ProbeTimeout = 5 * time.Second
	cfg.FixtureSize = 6

	events := &eventLog{}
	registry := metrics.NewRegistry()
	return &harness{
		cluster: c,
		members: members,
		cfg:     cfg,
		deps: Dependencies{
			Launcher:  c,
			Transfer:  c,
			Validator: consistency.NewChecker(nil),
			Metrics:   registry,
			Observer:  events,
		},
		events:   events,
		registry: registry,
	}
}

func (h *harness) run(ctx context.Context) ([]*Member, error) {
	return NewCoordinator(h.cfg, h.deps).Run(ctx, h.members)
}

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Failed to read metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

// TestMigrateThreeMembers tests a full run over three members with member 2
// leading: 0 starts empty, 1 copies from 0 and the leader is wiped last
func TestMigrateThreeMembers(t *testing.T) {
	h := newHarness(t, 3, 2)

	final, err := h.run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, m := range final {
		if m.State != StateRunningNew {
			t.Errorf("Member %d: expected %s, got %s", m.ID, StateRunningNew, m.State)
		}
		if m.Version != upgrade {
			t.Errorf("Member %d: expected version %s, got %s", m.ID, upgrade, m.Version)
		}
	}
	if got := final[0].StoragePath; !strings.HasSuffix(got, "member-0-fresh") {
		t.Errorf("Expected member 0 on fresh storage, got %s", got)
	}

	wantSteps := []string{
		"stop 0", "start 0 2.1.0 member-0-fresh",
		"stop 1", "transfer 0 member-1", "start 1 2.1.0 member-1",
		"stop 2", "start 2 2.1.0 member-2",
	}
	events := since(h.cluster.events(), "stop 0")
	if len(events) < len(wantSteps) || !reflect.DeepEqual(events[:len(wantSteps)], wantSteps) {
		t.Fatalf("Expected replacement sequence %v, got %v", wantSteps, events)
	}
	if h.cluster.maxDown != 1 {
		t.Errorf("Expected at most one member down, got %d", h.cluster.maxDown)
	}

	if got := len(h.events.phases(PhaseProbeVerify)); got != 3 {
		t.Errorf("Expected 3 verified probe rounds, got %d", got)
	}
	if got := len(h.events.phases(PhaseValidate)); got != 3 {
		t.Errorf("Expected 3 validated stores, got %d", got)
	}
	if len(h.events.phases(PhaseDone)) != 1 {
		t.Error("Expected a done event")
	}

	// every member still holds the fixture with its counts unchanged
	plan := h.events.phases(PhasePlan)
	if len(plan) != 1 || plan[0].MemberID != 2 {
		t.Fatalf("Expected plan event for leader 2, got %v", plan)
	}
	for _, m := range final {
		if err := m.Handle.PullUpdates(context.Background()); err != nil {
			t.Fatalf("PullUpdates on %d failed: %v", m.ID, err)
		}
		err := m.Handle.View(context.Background(), func(tx graph.Tx) error {
			anchors := 0
			for id := uint64(1); ; id++ {
				n, err := tx.Node(id)
				if errors.Is(err, graph.ErrNodeNotFound) {
					break
				}
				if err != nil {
					return err
				}
				if _, ok := n.Property(probe.AnchorLabel); !ok {
					continue
				}
				anchors++
				for _, category := range probe.Categories {
					degree, err := tx.Degree(id, category)
					if err != nil {
						return err
					}
					if degree != h.cfg.FixtureSize {
						t.Errorf("Member %d: expected %d %s links, got %d", m.ID, h.cfg.FixtureSize, category, degree)
					}
				}
			}
			if anchors != 1 {
				t.Errorf("Member %d: expected one anchor, got %d", m.ID, anchors)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("View on %d failed: %v", m.ID, err)
		}
	}

	if got := counterValue(t, h.registry.RolloverRunsTotal.WithLabelValues(metrics.ResultSuccess)); got != 1 {
		t.Errorf("Expected 1 successful run, got %v", got)
	}
	if got := counterValue(t, h.registry.RolloverStepsTotal.WithLabelValues(string(StrategyCopyFromPeer), metrics.ResultSuccess)); got != 1 {
		t.Errorf("Expected 1 copy step, got %v", got)
	}
}

// TestInconsistentTransferAborts tests that a copy failing its self-check
// aborts before the member starts and before the leader is touched
func TestInconsistentTransferAborts(t *testing.T) {
	h := newHarness(t, 3, 2)
	h.cluster.consistent = false

	final, err := h.run(context.Background())
	if !errors.Is(err, ErrTransferFailure) {
		t.Fatalf("Expected ErrTransferFailure, got %v", err)
	}
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.MemberID != 1 {
		t.Fatalf("Expected failure on member 1, got %v", err)
	}
	if !errors.Is(err, ErrInconsistentCopy) {
		t.Errorf("Expected ErrInconsistentCopy in chain, got %v", err)
	}

	if h.cluster.has("stop 2") {
		t.Error("Leader must never be stopped")
	}
	if h.cluster.has("start 1 2.1.0 member-1") {
		t.Error("Member 1 must not start on an inconsistent copy")
	}
	if final[1].State != StateStopped || final[2].State != StateRunningOld {
		t.Errorf("Unexpected final states: %v", final)
	}
	if got := len(h.events.phases(PhaseAborted)); got != 1 {
		t.Errorf("Expected one aborted event, got %d", got)
	}
	if got := counterValue(t, h.registry.RolloverRunsTotal.WithLabelValues(metrics.ResultFailure)); got != 1 {
		t.Errorf("Expected 1 failed run, got %v", got)
	}
}

// TestRunFailures tests the failure kind and member reported for each way a
// run can abort
func TestRunFailures(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(h *harness)
		kind   error
		member int
	}{
		{
			name:   "join-check node not visible",
			setup:  func(h *harness) { h.cluster.blind[1] = true },
			kind:   ErrSetupFailure,
			member: 1,
		},
		{
			name:   "no leader",
			setup:  func(h *harness) { h.cluster.noLeader = true },
			kind:   ErrLeaderResolutionFailure,
			member: NoMember,
		},
		{
			name: "replaced member never joins",
			setup: func(h *harness) {
				h.cluster.hangJoin[0] = true
				h.cfg.JoinTimeout = 50 * time.Millisecond
			},
			kind:   ErrJoinTimeout,
			member: 0,
		},
		{
			name:   "replaced member misses the probe round",
			setup:  func(h *harness) { h.cluster.blindNew[1] = true },
			kind:   ErrProbeDivergence,
			member: 1,
		},
		{
			name: "final validation",
			setup: func(h *harness) {
				checker := consistency.NewChecker(nil)
				h.deps.Validator = validatorFunc(func(ctx context.Context, path string) error {
					if filepath.Base(path) == "member-1" {
						return fmt.Errorf("corrupt store at %s", path)
					}
					return checker.Check(ctx, path)
				})
			},
			kind:   ErrFinalValidationFailure,
			member: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 3, 2)
			tt.setup(h)

			_, err := h.run(context.Background())
			if !errors.Is(err, tt.kind) {
				t.Fatalf("Expected %v, got %v", tt.kind, err)
			}
			var rerr *Error
			if !errors.As(err, &rerr) {
				t.Fatalf("Expected *Error, got %T", err)
			}
			if rerr.MemberID != tt.member {
				t.Errorf("Expected member %d, got %d (%v)", tt.member, rerr.MemberID, err)
			}
			if h.cluster.maxDown > 1 {
				t.Errorf("Expected at most one member down, got %d", h.cluster.maxDown)
			}
		})
	}
}

// TestProbeDivergenceReportsMarkers tests that a stale member's error
// carries the expected and derived markers
func TestProbeDivergenceReportsMarkers(t *testing.T) {
	h := newHarness(t, 3, 2)
	h.cluster.blindNew[1] = true

	_, err := h.run(context.Background())
	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatalf("Expected *Error, got %v", err)
	}
	if rerr.Step != "probe-verify" || rerr.Expected == "" || rerr.Expected == rerr.Actual {
		t.Errorf("Expected marker mismatch on probe-verify, got %+v", rerr)
	}
	if !errors.Is(err, probe.ErrDivergence) {
		t.Errorf("Expected probe divergence in chain, got %v", err)
	}
}

// TestStabilizationWindow tests that no member is started until the
// cool-down after its stop has elapsed
func TestStabilizationWindow(t *testing.T) {
	h := newHarness(t, 3, 2)
	clk := testclock.NewClock(time.Now())
	h.cfg.StabilizationWindow = 30 * time.Second
	h.deps.Clock = clk

	done := make(chan error, 1)
	go func() {
		_, err := h.run(context.Background())
		done <- err
	}()

	for _, id := range []int{0, 1, 2} {
		if err := clk.WaitAdvance(29*time.Second, 10*time.Second, 1); err != nil {
			t.Fatalf("Coordinator never waited after stopping %d: %v", id, err)
		}
		if startedNew(h.cluster, id) {
			t.Fatalf("Member %d started before the window elapsed", id)
		}
		clk.Advance(time.Second)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("Run did not finish")
	}
}

func startedNew(c *fakeCluster, id int) bool {
	prefix := fmt.Sprintf("start %d %s", id, upgrade)
	for _, e := range c.events() {
		if strings.HasPrefix(e, prefix) {
			return true
		}
	}
	return false
}

// TestCancelDuringCooldown tests that cancelling the run aborts it
func TestCancelDuringCooldown(t *testing.T) {
	h := newHarness(t, 3, 2)
	clk := testclock.NewClock(time.Now())
	h.cfg.StabilizationWindow = time.Minute
	h.deps.Clock = clk

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.run(ctx)
		done <- err
	}()

	if err := clk.WaitAdvance(time.Second, 10*time.Second, 1); err != nil {
		t.Fatalf("Coordinator never entered the cool-down: %v", err)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, ErrStepFailure) || !errors.Is(err, context.Canceled) {
			t.Fatalf("Expected cancelled step failure, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not abort")
	}
	if startedNew(h.cluster, 0) {
		t.Error("Member 0 started after cancellation")
	}
}

// TestSingleMemberRejected tests that a cluster which cannot stay available
// while one member is down is refused before anything is stopped
func TestSingleMemberRejected(t *testing.T) {
	h := newHarness(t, 1, 0)

	_, err := h.run(context.Background())
	if !errors.Is(err, ErrSetupFailure) || !errors.Is(err, ErrClusterTooSmall) {
		t.Fatalf("Expected ErrClusterTooSmall, got %v", err)
	}
	if h.cluster.has("stop 0") {
		t.Error("The only member must not be stopped")
	}
}

// TestRunRejectsBadInput tests configuration and member errors
func TestRunRejectsBadInput(t *testing.T) {
	h := newHarness(t, 2, 0)

	tests := []struct {
		name    string
		mutate  func(cfg *Config, deps *Dependencies) []*Member
		wantErr error
	}{
		{
			name: "missing target",
			mutate: func(cfg *Config, deps *Dependencies) []*Member {
				cfg.Target = Version{}
				return h.members
			},
			wantErr: ErrNoTargetVersion,
		},
		{
			name: "missing transfer",
			mutate: func(cfg *Config, deps *Dependencies) []*Member {
				deps.Transfer = nil
				return h.members
			},
			wantErr: ErrMissingDependency,
		},
		{
			name: "duplicate member",
			mutate: func(cfg *Config, deps *Dependencies) []*Member {
				return []*Member{h.members[0], {ID: 0}}
			},
			wantErr: ErrDuplicateMember,
		},
		{
			name: "no members",
			mutate: func(cfg *Config, deps *Dependencies) []*Member {
				return nil
			},
			wantErr: ErrEmptyCluster,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, deps := h.cfg, h.deps
			members := tt.mutate(&cfg, &deps)
			_, err := NewCoordinator(cfg, deps).Run(context.Background(), members)
			if !errors.Is(err, ErrSetupFailure) || !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected setup failure wrapping %v, got %v", tt.wantErr, err)
			}
		})
	}
	if h.cluster.maxDown != 0 {
		t.Error("No member should be stopped on bad input")
	}
}
