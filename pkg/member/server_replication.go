package member

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dd0wney/cluso-rollover/pkg/cluster"
	"github.com/dd0wney/cluso-rollover/pkg/logging"
)

// handleReplication serves the peer channel. Handlers here never call
// out to other members.
func (s *Server) handleReplication(_ context.Context, req Request) (any, error) {
	switch req.Op {
	case OpPing:
		return nil, nil
	case OpPeerStatus:
		return s.election.Status(), nil
	case OpVote:
		var vote cluster.VoteRequest
		if err := decodeArgs(req, &vote); err != nil {
			return nil, err
		}
		return s.election.HandleVoteRequest(vote), nil
	case OpEntries:
		var args EntriesArgs
		if err := decodeArgs(req, &args); err != nil {
			return nil, err
		}
		return s.entries(args)
	default:
		return nil, ErrUnknownOp
	}
}

// entries answers a follower's log pull
func (s *Server) entries(args EntriesArgs) (EntriesResult, error) {
	status := s.election.Status()
	if status.Role != cluster.RoleLeader {
		return EntriesResult{}, cluster.ErrNotLeader
	}
	limit := args.Limit
	if limit <= 0 || limit > s.opts.PullBatch {
		limit = s.opts.PullBatch
	}
	entries, err := s.store.Entries(args.After, limit)
	if err != nil {
		return EntriesResult{}, err
	}
	return EntriesResult{
		LeaderID:  s.cfg.ID,
		Term:      status.Term,
		LeaderSeq: status.Seq,
		Entries:   entries,
	}, nil
}

// pullLoop keeps a follower's store caught up with the leader
func (s *Server) pullLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.opts.Clock.After(s.cfg.PullInterval):
		}
		if s.election.IsLeader() || s.election.LeaderID() == cluster.NoLeader {
			continue
		}
		if !s.work.TryLock() {
			continue
		}
		if _, err := s.pullOnce(s.ctx); err != nil && s.ctx.Err() == nil {
			s.logger.Debug("pull failed", logging.Error(err))
		}
		s.work.Unlock()
	}
}

// pullOnce applies leader entries until the local sequence reaches the
// leader's. The caller holds s.work.
func (s *Server) pullOnce(ctx context.Context) (applied int, err error) {
	if s.election.IsLeader() {
		return 0, nil
	}
	leaderID := s.election.LeaderID()
	if leaderID == cluster.NoLeader {
		return 0, cluster.ErrNoLeader
	}

	start := time.Now()
	defer func() {
		s.opts.Metrics.RecordPull(applied, err)
		if applied > 0 {
			s.logger.Debug("pulled entries",
				logging.Int("leader_id", leaderID),
				logging.Int("applied", applied),
				logging.Latency(time.Since(start)))
		}
	}()

	for {
		res, err := s.peers.Entries(ctx, leaderID, EntriesArgs{After: s.store.Seq(), Limit: s.opts.PullBatch})
		if err != nil {
			return applied, err
		}
		if res.LeaderID != leaderID {
			return applied, fmt.Errorf("%w: member %d answered for %d", cluster.ErrNotLeader, res.LeaderID, leaderID)
		}
		s.election.Contact(res.LeaderID, res.Term)

		for _, entry := range res.Entries {
			ok, err := s.store.Apply(entry)
			if err != nil {
				return applied, err
			}
			if ok {
				applied++
				s.opts.Metrics.MemberAppliedSeq.Set(float64(entry.Seq))
			}
		}

		seq := s.store.Seq()
		if seq >= res.LeaderSeq || len(res.Entries) == 0 {
			s.mu.Lock()
			s.leaderSeq = res.LeaderSeq
			if seq >= res.LeaderSeq {
				s.syncedWith = leaderID
			}
			s.mu.Unlock()
			if seq < res.LeaderSeq {
				return applied, fmt.Errorf("leader %d has no entries after %d but reports sequence %d", leaderID, seq, res.LeaderSeq)
			}
			return applied, nil
		}
	}
}

// peerClient reaches other members on their cluster and replication
// ports. It implements cluster.PeerClient.
type peerClient struct {
	replication map[int]*rpcClient
	cluster     map[int]*rpcClient
}

var _ cluster.PeerClient = (*peerClient)(nil)

func newPeerClient(peers []cluster.Peer, factory SocketFactory, timeout time.Duration) *peerClient {
	p := &peerClient{
		replication: make(map[int]*rpcClient, len(peers)),
		cluster:     make(map[int]*rpcClient, len(peers)),
	}
	for _, peer := range peers {
		p.replication[peer.ID] = newRPCClient(peer.ReplicationAddr(), factory, timeout)
		p.cluster[peer.ID] = newRPCClient(peer.ClusterAddr(), factory, timeout)
	}
	return p
}

func (p *peerClient) replicationFor(id int) (*rpcClient, error) {
	c, ok := p.replication[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", cluster.ErrMemberNotFound, id)
	}
	return c, nil
}

// Status asks a peer for its status
func (p *peerClient) Status(ctx context.Context, peer cluster.Peer) (cluster.PeerStatus, error) {
	var status cluster.PeerStatus
	c, err := p.replicationFor(peer.ID)
	if err != nil {
		return status, err
	}
	err = c.call(ctx, OpPeerStatus, "", nil, &status)
	return status, err
}

// RequestVote asks a peer for its vote
func (p *peerClient) RequestVote(ctx context.Context, peer cluster.Peer, req cluster.VoteRequest) (cluster.VoteResponse, error) {
	var resp cluster.VoteResponse
	c, err := p.replicationFor(peer.ID)
	if err != nil {
		return resp, err
	}
	err = c.call(ctx, OpVote, "", req, &resp)
	return resp, err
}

// Entries pulls log entries from the leader
func (p *peerClient) Entries(ctx context.Context, leaderID int, args EntriesArgs) (EntriesResult, error) {
	var res EntriesResult
	c, err := p.replicationFor(leaderID)
	if err != nil {
		return res, err
	}
	err = c.call(ctx, OpEntries, "", args, &res)
	return res, err
}

// forward relays a coordinator request to another member's cluster port
func (p *peerClient) forward(ctx context.Context, id int, op string, args, out any) error {
	c, ok := p.cluster[id]
	if !ok {
		return fmt.Errorf("%w: %d", cluster.ErrMemberNotFound, id)
	}
	return c.call(ctx, op, "", args, out)
}

// Close releases every peer socket
func (p *peerClient) Close() error {
	var errs []error
	for _, c := range p.replication {
		errs = append(errs, c.Close())
	}
	for _, c := range p.cluster {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
