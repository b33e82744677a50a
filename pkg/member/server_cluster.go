package member

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-rollover/pkg/cluster"
	"github.com/dd0wney/cluso-rollover/pkg/graph"
	"github.com/dd0wney/cluso-rollover/pkg/logging"
)

// session is a remote unit of work held open between requests
type session struct {
	id       string
	txn      *graph.Txn
	writable bool
	lastUsed time.Time
}

// handleCluster serves the coordinator channel
func (s *Server) handleCluster(ctx context.Context, req Request) (any, error) {
	switch req.Op {
	case OpPing, OpShutdown:
		return nil, nil
	case OpStatus:
		return s.Status(), nil
	case OpPull:
		return nil, s.handlePull(ctx)
	case OpCreateNode:
		return s.handleCreateNode(ctx, req)
	case OpBegin:
		return s.handleBegin(req)
	case OpTx:
		return s.handleTx(req)
	case OpCommit:
		return s.handleCommit(req)
	case OpRollback:
		return nil, s.handleRollback(req)
	default:
		return nil, ErrUnknownOp
	}
}

func (s *Server) handlePull(ctx context.Context) error {
	if s.session != nil {
		return ErrBusy
	}
	s.work.Lock()
	defer s.work.Unlock()
	_, err := s.pullOnce(ctx)
	return err
}

// handleCreateNode writes locally on the leader and forwards otherwise
func (s *Server) handleCreateNode(ctx context.Context, req Request) (any, error) {
	var args CreateNodeArgs
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}

	if !s.election.IsLeader() {
		leaderID := s.election.LeaderID()
		if leaderID == cluster.NoLeader {
			return nil, cluster.ErrNoLeader
		}
		var res CreateNodeResult
		if err := s.peers.forward(ctx, leaderID, OpCreateNode, args, &res); err != nil {
			return nil, err
		}
		s.logger.Debug("create forwarded", logging.Int("leader_id", leaderID), logging.Uint64("node", res.ID))
		return res, nil
	}

	if s.session != nil {
		return nil, ErrBusy
	}
	s.work.Lock()
	defer s.work.Unlock()

	txn, err := s.store.Begin(true)
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()
	id, err := txn.CreateNode(args.Props)
	if err != nil {
		return nil, err
	}
	seq, err := txn.Commit()
	if err != nil {
		return nil, err
	}
	s.committed(seq)
	return CreateNodeResult{ID: id}, nil
}

func (s *Server) handleBegin(req Request) (any, error) {
	var args BeginArgs
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}
	if s.session != nil {
		return nil, ErrBusy
	}
	if args.Writable && !s.election.IsLeader() {
		return nil, cluster.ErrNotLeader
	}

	s.work.Lock()
	txn, err := s.store.Begin(args.Writable)
	if err != nil {
		s.work.Unlock()
		return nil, err
	}
	s.session = &session{
		id:       uuid.NewString(),
		txn:      txn,
		writable: args.Writable,
		lastUsed: s.opts.Clock.Now(),
	}
	s.opts.Metrics.MemberSessionsOpen.Set(1)
	s.logger.Debug("session opened", logging.String("session", s.session.id), logging.Bool("writable", args.Writable))
	return BeginResult{Session: s.session.id}, nil
}

// lookup returns the open session named by req
func (s *Server) lookup(req Request) (*session, error) {
	if s.session == nil || req.Session == "" || s.session.id != req.Session {
		return nil, ErrNoSession
	}
	s.session.lastUsed = s.opts.Clock.Now()
	return s.session, nil
}

func (s *Server) handleTx(req Request) (any, error) {
	sess, err := s.lookup(req)
	if err != nil {
		return nil, err
	}
	var call TxCall
	if err := decodeArgs(req, &call); err != nil {
		return nil, err
	}
	return execTx(sess.txn, call)
}

func (s *Server) handleCommit(req Request) (any, error) {
	sess, err := s.lookup(req)
	if err != nil {
		return nil, err
	}
	if sess.writable && !s.election.IsLeader() {
		s.endSession("leadership lost")
		return nil, cluster.ErrNotLeader
	}
	seq, err := sess.txn.Commit()
	s.endSession("")
	if err != nil {
		return nil, err
	}
	s.committed(seq)
	return CommitResult{Seq: seq}, nil
}

func (s *Server) handleRollback(req Request) error {
	if _, err := s.lookup(req); err != nil {
		return err
	}
	s.endSession("")
	return nil
}

// endSession rolls back and releases any open session. reason is logged
// when non-empty.
func (s *Server) endSession(reason string) {
	if s.session == nil {
		return
	}
	if err := s.session.txn.Rollback(); err != nil {
		s.logger.Warn("session rollback failed", logging.String("session", s.session.id), logging.Error(err))
	}
	if reason != "" {
		s.logger.Info("session closed", logging.String("session", s.session.id), logging.String("reason", reason))
	}
	s.session = nil
	s.opts.Metrics.MemberSessionsOpen.Set(0)
	s.work.Unlock()
}

// expireSession drops a session idle for longer than the session timeout
func (s *Server) expireSession() {
	if s.session == nil {
		return
	}
	if s.opts.Clock.Now().Sub(s.session.lastUsed) > s.opts.SessionTimeout {
		s.endSession("idle timeout")
	}
}

// committed records a local commit
func (s *Server) committed(seq uint64) {
	if seq == 0 {
		return
	}
	s.opts.Metrics.MemberCommitsTotal.Inc()
	s.opts.Metrics.MemberAppliedSeq.Set(float64(seq))
}
