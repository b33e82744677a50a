package rollover

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/dd0wney/cluso-rollover/pkg/cluster"
	"github.com/dd0wney/cluso-rollover/pkg/graph"
	"github.com/dd0wney/cluso-rollover/pkg/logging"
)

// stubHandle is a MemberHandle that only answers role queries
type stubHandle struct {
	leader bool
	err    error
}

func (s *stubHandle) Name() string                                       { return "stub" }
func (s *stubHandle) BackupAddr() string                                 { return "" }
func (s *stubHandle) Stop(context.Context) error                         { return nil }
func (s *stubHandle) AwaitJoined(context.Context) error                  { return nil }
func (s *stubHandle) PullUpdates(context.Context) error                  { return nil }
func (s *stubHandle) View(context.Context, func(graph.Tx) error) error   { return nil }
func (s *stubHandle) Update(context.Context, func(graph.Tx) error) error { return nil }

func (s *stubHandle) CreateNode(context.Context, map[string]string) (uint64, error) {
	return 0, nil
}

func (s *stubHandle) IsLeader(ctx context.Context) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.leader, ctx.Err()
}

func runningMembers(ids ...int) []*Member {
	out := make([]*Member, len(ids))
	for i, id := range ids {
		out[i] = &Member{ID: id, Handle: &stubHandle{}}
	}
	return out
}

// TestClusterSet tests ordering, lookup and the lifecycle transitions
func TestClusterSet(t *testing.T) {
	set, err := NewClusterSet(runningMembers(2, 0, 1))
	if err != nil {
		t.Fatalf("NewClusterSet failed: %v", err)
	}

	if got := set.IDs(); !reflect.DeepEqual(got, []int{0, 1, 2}) {
		t.Errorf("Expected ids in order, got %v", got)
	}
	for _, m := range set.Members() {
		if m.State != StateRunningOld {
			t.Errorf("Member %d: expected %s, got %s", m.ID, StateRunningOld, m.State)
		}
	}
	if _, ok := set.Get(7); ok {
		t.Error("Expected no member 7")
	}

	if err := set.MarkStopped(1); err != nil {
		t.Fatalf("MarkStopped failed: %v", err)
	}
	if err := set.MarkStopped(1); err != nil {
		t.Errorf("Stopping a stopped member should be a no-op: %v", err)
	}
	if set.Stopped() != 1 || len(set.Live()) != 2 {
		t.Errorf("Expected 1 stopped and 2 live, got %d and %d", set.Stopped(), len(set.Live()))
	}

	// a second stop while one member is down is refused
	if err := set.MarkStopped(2); !errors.Is(err, ErrSecondStop) {
		t.Errorf("Expected ErrSecondStop, got %v", err)
	}
	if err := set.MarkRunningNew(2, &stubHandle{}, "/data/2", upgrade); !errors.Is(err, ErrNotStopped) {
		t.Errorf("Expected ErrNotStopped, got %v", err)
	}

	if err := set.MarkRunningNew(1, &stubHandle{}, "/data/1-fresh", upgrade); err != nil {
		t.Fatalf("MarkRunningNew failed: %v", err)
	}
	m, _ := set.Get(1)
	if m.State != StateRunningNew || m.StoragePath != "/data/1-fresh" || m.Version != upgrade {
		t.Errorf("Unexpected member after restart: %+v", m)
	}
	if set.Migrated() != 1 || set.Stopped() != 0 {
		t.Errorf("Expected 1 migrated and 0 stopped, got %d and %d", set.Migrated(), set.Stopped())
	}

	if err := set.MarkStopped(2); err != nil {
		t.Errorf("Expected stop to succeed once nothing is down: %v", err)
	}
	if err := set.MarkStopped(9); !errors.Is(err, ErrUnknownMember) {
		t.Errorf("Expected ErrUnknownMember, got %v", err)
	}
}

// TestNewClusterSetErrors tests rejected member lists
func TestNewClusterSetErrors(t *testing.T) {
	tests := []struct {
		name    string
		members []*Member
		wantErr error
	}{
		{"empty", nil, ErrEmptyCluster},
		{"duplicate", runningMembers(0, 1, 0), ErrDuplicateMember},
		{"nil member", []*Member{{ID: 0}, nil}, ErrInvalidMember},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClusterSet(tt.members); !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

// TestMemberConfig tests the launch config derived for a member
func TestMemberConfig(t *testing.T) {
	members := make([]*Member, 3)
	for i := range members {
		d := cluster.DefaultMemberConfig(i, "10.0.0.1")
		members[i] = &Member{ID: i, Host: d.Host, ClusterPort: d.ClusterPort,
			ReplicationPort: d.ReplicationPort, BackupPort: d.BackupPort, Handle: &stubHandle{}}
	}
	set, err := NewClusterSet(members)
	if err != nil {
		t.Fatalf("NewClusterSet failed: %v", err)
	}

	cfg := DefaultConfig(upgrade)
	cfg.Member.HeartbeatInterval = 42 * time.Millisecond
	cfg.Member.BackupSecret = "secret"

	mc := cfg.memberConfig(set, members[1], "/data/member-1")
	if mc.ID != 1 || mc.ClusterPort != 5001 || mc.ReplicationPort != 6001 || mc.BackupPort != 6363 {
		t.Errorf("Unexpected endpoints: %+v", mc)
	}
	if mc.StoragePath != "/data/member-1" || !mc.AllowStoreUpgrade {
		t.Errorf("Unexpected storage settings: %+v", mc)
	}
	if mc.HeartbeatInterval != 42*time.Millisecond || mc.BackupSecret != "secret" {
		t.Errorf("Template settings not carried: %+v", mc)
	}
	if len(mc.Peers) != 2 || mc.Peers[0].ID != 0 || mc.Peers[1].ID != 2 {
		t.Errorf("Expected peers 0 and 2, got %v", mc.Peers)
	}
	if err := mc.Validate(); err != nil {
		t.Errorf("Derived config invalid: %v", err)
	}
	if got := members[1].BackupAddr(); got != "10.0.0.1:6363" {
		t.Errorf("Expected backup addr 10.0.0.1:6363, got %s", got)
	}
}

// TestRoleView tests leader discovery over reachable, unreachable and
// stopped members
func TestRoleView(t *testing.T) {
	errDown := errors.New("connection refused")

	tests := []struct {
		name    string
		members []*Member
		want    int
		wantErr error
	}{
		{
			name: "first leader wins",
			members: []*Member{
				{ID: 0, Handle: &stubHandle{}},
				{ID: 1, Handle: &stubHandle{leader: true}},
				{ID: 2, Handle: &stubHandle{leader: true}},
			},
			want: 1,
		},
		{
			name: "unreachable members are skipped",
			members: []*Member{
				{ID: 0, Handle: &stubHandle{err: errDown}},
				{ID: 1, Handle: &stubHandle{leader: true}},
			},
			want: 1,
		},
		{
			name: "stopped members are not asked",
			members: []*Member{
				{ID: 0, State: StateStopped, Handle: &stubHandle{leader: true}},
				{ID: 1, Handle: &stubHandle{leader: true}},
			},
			want: 1,
		},
		{
			name: "no leader",
			members: []*Member{
				{ID: 0, Handle: &stubHandle{}},
				{ID: 1, Handle: &stubHandle{err: errDown}},
			},
			want:    NoMember,
			wantErr: ErrNoLeaderFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := logging.NewCaptureLogger()
			view := NewRoleView(time.Second, logger)
			got, err := view.FindLeader(context.Background(), tt.members)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected %v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("Expected leader %d, got %d", tt.want, got)
			}
			unreachable := 0
			for _, m := range tt.members {
				if s := m.Handle.(*stubHandle); s.err != nil {
					unreachable++
				}
			}
			if logger.Count(logging.WarnLevel) != unreachable {
				t.Errorf("Expected %d warnings, got %d", unreachable, logger.Count(logging.WarnLevel))
			}
		})
	}
}

// TestErrorMatching tests kind matching and the rendered message
func TestErrorMatching(t *testing.T) {
	err := error(&Error{
		Kind:     KindTransferFailure,
		MemberID: 1,
		Step:     "transfer",
		Expected: "consistent copy",
		Actual:   "inconsistent copy",
		Err:      ErrInconsistentCopy,
	})

	if !errors.Is(err, ErrTransferFailure) {
		t.Error("Expected ErrTransferFailure to match")
	}
	if errors.Is(err, ErrJoinTimeout) {
		t.Error("Expected ErrJoinTimeout not to match")
	}
	if !errors.Is(err, ErrInconsistentCopy) {
		t.Error("Expected the cause to match")
	}
	if kind, ok := KindOf(err); !ok || kind != KindTransferFailure {
		t.Errorf("Expected kind %s, got %s", KindTransferFailure, kind)
	}
	msg := err.Error()
	for _, want := range []string{"transfer-failure", "member 1", "during transfer", "expected consistent copy, got inconsistent copy"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected %q in %q", want, msg)
		}
	}

	wrapped := newError(KindLeaderResolutionFailure, NoMember, "leader", ErrNoLeaderFound)
	if strings.Contains(wrapped.Error(), "member") && !strings.Contains(wrapped.Error(), "reports") {
		t.Errorf("Cluster-wide error should not name a member: %q", wrapped.Error())
	}
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Error("Expected no kind for a plain error")
	}
}
