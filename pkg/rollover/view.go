package rollover

import (
	"context"
	"time"

	"github.com/dd0wney/cluso-rollover/pkg/logging"
)

// RoleView finds the leader by asking each member for its role
type RoleView struct {
	Timeout time.Duration // per member query
	Logger  logging.Logger
}

var _ ClusterView = (*RoleView)(nil)

// NewRoleView creates a view that gives each member timeout to answer
func NewRoleView(timeout time.Duration, logger logging.Logger) *RoleView {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RoleView{Timeout: timeout, Logger: logger.With(logging.Component("cluster-view"))}
}

// FindLeader returns the id of the first member in id order that reports
// itself as leader. Stopped and unreachable members are skipped.
func (v *RoleView) FindLeader(ctx context.Context, members []*Member) (int, error) {
	for _, m := range members {
		if !m.Running() {
			continue
		}
		isLeader, err := v.ask(ctx, m)
		if err != nil {
			if ctx.Err() != nil {
				return NoMember, ctx.Err()
			}
			v.log().Warn("member did not answer role query",
				logging.MemberID(m.ID),
				logging.Error(err))
			continue
		}
		if isLeader {
			return m.ID, nil
		}
	}
	return NoMember, ErrNoLeaderFound
}

func (v *RoleView) log() logging.Logger {
	if v.Logger == nil {
		return logging.NewNopLogger()
	}
	return v.Logger
}

func (v *RoleView) ask(ctx context.Context, m *Member) (bool, error) {
	if v.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.Timeout)
		defer cancel()
	}
	return m.Handle.IsLeader(ctx)
}
