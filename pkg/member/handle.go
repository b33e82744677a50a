package member

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dd0wney/cluso-rollover/pkg/cluster"
	"github.com/dd0wney/cluso-rollover/pkg/graph"
	"github.com/dd0wney/cluso-rollover/pkg/logging"
	"github.com/dd0wney/cluso-rollover/pkg/rollover"
)

const (
	joinPollInterval = 50 * time.Millisecond
	rollbackTimeout  = time.Second
)

// Handle controls one running member over its cluster port. It implements
// rollover.MemberHandle.
type Handle struct {
	peer   cluster.Peer
	name   string
	rpc    *rpcClient
	logger logging.Logger

	stopFn  func(ctx context.Context) error
	stopMu  sync.Mutex
	stopped bool
}

var _ rollover.MemberHandle = (*Handle)(nil)

func newHandle(peer cluster.Peer, factory SocketFactory, logger logging.Logger, stop func(ctx context.Context) error) *Handle {
	if factory == nil {
		factory = DefaultSocketFactory()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	name := fmt.Sprintf("member-%d", peer.ID)
	return &Handle{
		peer:   peer,
		name:   name,
		rpc:    newRPCClient(peer.ClusterAddr(), factory, DefaultCallTimeout),
		logger: logger.With(logging.MemberID(peer.ID)),
		stopFn: stop,
	}
}

// Attach returns a handle for a member that is already running. Stop asks
// the member to shut down and waits until its port stops answering.
func Attach(peer cluster.Peer, factory SocketFactory, logger logging.Logger) *Handle {
	h := newHandle(peer, factory, logger, nil)
	h.stopFn = h.remoteShutdown
	return h
}

// Name identifies the member in logs and errors
func (h *Handle) Name() string {
	return h.name
}

// Peer returns the member's endpoints
func (h *Handle) Peer() cluster.Peer {
	return h.peer
}

// BackupAddr returns host:port of the member's backup endpoint
func (h *Handle) BackupAddr() string {
	return h.peer.BackupAddr()
}

// Stop stops the member. Stopping a stopped member is not an error.
func (h *Handle) Stop(ctx context.Context) error {
	h.stopMu.Lock()
	defer h.stopMu.Unlock()
	if h.stopped {
		return nil
	}
	if err := h.stopFn(ctx); err != nil && !errors.Is(err, ErrUnreachable) {
		return err
	}
	h.stopped = true
	if err := h.rpc.Close(); err != nil {
		h.logger.Warn("failed to close member socket", logging.Error(err))
	}
	h.logger.Info("member stopped")
	return nil
}

func (h *Handle) remoteShutdown(ctx context.Context) error {
	if err := h.rpc.call(ctx, OpShutdown, "", nil, nil); err != nil {
		return err
	}
	for {
		if err := h.rpc.call(ctx, OpPing, "", nil, nil); err != nil {
			if errors.Is(err, ErrUnreachable) {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("member %d still answering: %w", h.peer.ID, ctx.Err())
		case <-time.After(joinPollInterval):
		}
	}
}

// Status fetches the member's status
func (h *Handle) Status(ctx context.Context) (Status, error) {
	var st Status
	err := h.rpc.call(ctx, OpStatus, "", nil, &st)
	return st, err
}

// AwaitJoined blocks until the member reports itself joined or ctx ends
func (h *Handle) AwaitJoined(ctx context.Context) error {
	var last error
	for {
		st, err := h.Status(ctx)
		switch {
		case err == nil && st.Joined:
			h.logger.Info("member joined",
				logging.Role(st.Role),
				logging.Int("leader_id", st.LeaderID),
				logging.Seq(st.Seq))
			return nil
		case err == nil:
			last = fmt.Errorf("role %s, leader %d, seq %d of %d", st.Role, st.LeaderID, st.Seq, st.LeaderSeq)
		default:
			last = err
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: member %d: %v", ErrNotJoined, h.peer.ID, last)
		case <-time.After(joinPollInterval):
		}
	}
}

// IsLeader reports whether the member currently leads. It fails when the
// member cannot be reached.
func (h *Handle) IsLeader(ctx context.Context) (bool, error) {
	st, err := h.Status(ctx)
	if err != nil {
		return false, err
	}
	return st.Role == cluster.RoleLeader.String(), nil
}

// PullUpdates makes a follower catch up with the leader
func (h *Handle) PullUpdates(ctx context.Context) error {
	return h.rpc.call(ctx, OpPull, "", nil, nil)
}

// CreateNode creates a node through this member; followers forward to
// the leader
func (h *Handle) CreateNode(ctx context.Context, props map[string]string) (uint64, error) {
	var res CreateNodeResult
	if err := h.rpc.call(ctx, OpCreateNode, "", CreateNodeArgs{Props: props}, &res); err != nil {
		return 0, err
	}
	return res.ID, nil
}

// Update runs fn in a remote writable unit of work and commits it when fn
// returns nil
func (h *Handle) Update(ctx context.Context, fn func(graph.Tx) error) error {
	return h.session(ctx, true, fn)
}

// View runs fn in a remote read-only unit of work
func (h *Handle) View(ctx context.Context, fn func(graph.Tx) error) error {
	return h.session(ctx, false, fn)
}

func (h *Handle) session(ctx context.Context, writable bool, fn func(graph.Tx) error) error {
	var begin BeginResult
	if err := h.rpc.call(ctx, OpBegin, "", BeginArgs{Writable: writable}, &begin); err != nil {
		return err
	}
	tx := &remoteTx{ctx: ctx, rpc: h.rpc, session: begin.Session}

	if err := fn(tx); err != nil {
		h.rollback(ctx, begin.Session)
		return err
	}
	if !writable {
		h.rollback(ctx, begin.Session)
		return nil
	}
	var res CommitResult
	if err := h.rpc.call(ctx, OpCommit, begin.Session, nil, &res); err != nil {
		return err
	}
	return nil
}

// rollback closes a session even when ctx is already done
func (h *Handle) rollback(ctx context.Context, sessionID string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	if err := h.rpc.call(rctx, OpRollback, sessionID, nil, nil); err != nil {
		h.logger.Debug("rollback failed", logging.String("session", sessionID), logging.Error(err))
	}
}
