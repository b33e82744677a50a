package cluster

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-rollover/pkg/logging"
	"github.com/dd0wney/cluso-rollover/pkg/metrics"
)

// NewElectionManager creates an election manager for the member described by
// cfg. seq reports the local applied sequence number. The manager shares the
// clock of membership. Nil logger and registry are replaced by no-op ones.
func NewElectionManager(cfg MemberConfig, membership *Membership, client PeerClient, seq func() uint64, logger logging.Logger, reg *metrics.Registry) *ElectionManager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	return &ElectionManager{
		cfg:         cfg,
		membership:  membership,
		client:      client,
		seq:         seq,
		clock:       membership.clock,
		logger:      logger.With(logging.Component("election"), logging.MemberID(cfg.ID)),
		metrics:     reg,
		role:        RoleFollower,
		leaderID:    NoLeader,
		votedFor:    NoLeader,
		lastContact: membership.clock.Now(),
	}
}

// OnRoleChange registers fn to be told about role and leader changes.
// It must be called before Run.
func (em *ElectionManager) OnRoleChange(fn RoleChangeFunc) {
	em.onChange = fn
}

// Run ticks the manager once per heartbeat interval until ctx is done
func (em *ElectionManager) Run(ctx context.Context) error {
	em.metrics.SetMemberRole(em.Role().String())
	for {
		em.Tick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-em.clock.After(em.cfg.HeartbeatInterval):
		}
	}
}

// Tick polls every peer for its status and then advances the role state
// machine by one step. A follower that has not heard from a leader for the
// election timeout schedules a candidacy staggered by its member id, so that
// lower ids stand first; the leader search is repeated on every tick until
// the scheduled time arrives.
func (em *ElectionManager) Tick(ctx context.Context) {
	em.pollPeers(ctx)

	stand := false
	em.update(func(now time.Time) {
		stand = em.evaluateLocked(now)
	})
	if stand {
		em.runElection(ctx)
	}
}

// HandleVoteRequest answers a candidate
func (em *ElectionManager) HandleVoteRequest(req VoteRequest) VoteResponse {
	var resp VoteResponse
	em.update(func(now time.Time) {
		resp = em.voteLocked(req, now)
	})
	if resp.Granted {
		em.logger.Info("vote granted", logging.Int("candidate", req.CandidateID), logging.Uint64("term", req.Term))
	} else {
		em.logger.Debug("vote denied",
			logging.Int("candidate", req.CandidateID),
			logging.Uint64("term", req.Term),
			logging.String("reason", resp.Reason))
	}
	return resp
}

// Contact records that leaderID was reachable in term, typically after a
// successful log pull.
func (em *ElectionManager) Contact(leaderID int, term uint64) {
	em.update(func(now time.Time) {
		if em.role == RoleLeader {
			return
		}
		em.followLocked(leaderID, term, now)
	})
}

// Status returns what this member reports about itself
func (em *ElectionManager) Status() PeerStatus {
	em.mu.Lock()
	defer em.mu.Unlock()
	return PeerStatus{
		ID:       em.cfg.ID,
		Role:     em.role,
		LeaderID: em.leaderID,
		Term:     em.term,
		Seq:      em.seq(),
		Version:  em.cfg.Version,
	}
}

// Role returns the current role
func (em *ElectionManager) Role() Role {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.role
}

// IsLeader returns true if this member is the leader
func (em *ElectionManager) IsLeader() bool {
	return em.Role() == RoleLeader
}

// LeaderID returns the id of the known leader or NoLeader
func (em *ElectionManager) LeaderID() int {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.leaderID
}

// Term returns the current term
func (em *ElectionManager) Term() uint64 {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.term
}

// update runs fn with the lock held and reports any role or leader change
// once the lock is released
func (em *ElectionManager) update(fn func(now time.Time)) {
	em.mu.Lock()
	role, leader := em.role, em.leaderID
	fn(em.clock.Now())
	newRole, newLeader, term := em.role, em.leaderID, em.term
	em.mu.Unlock()

	if role == newRole && leader == newLeader {
		return
	}
	em.metrics.SetMemberRole(newRole.String())
	em.logger.Info("role changed",
		logging.Role(newRole.String()),
		logging.Int("leader_id", newLeader),
		logging.Uint64("term", term))
	if em.onChange != nil {
		em.onChange(newRole, newLeader, term)
	}
}

func (em *ElectionManager) pollPeers(ctx context.Context) {
	var g errgroup.Group
	for _, p := range em.membership.Peers() {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, em.cfg.HeartbeatInterval)
			defer cancel()
			status, err := em.client.Status(cctx, p.Peer)
			if err != nil {
				_ = em.membership.MarkUnreachable(p.ID)
				return nil
			}
			status.ID = p.ID
			_ = em.membership.MarkSeen(status)
			return nil
		})
	}
	_ = g.Wait()
}

// liveLeaderLocked returns the reachable peer claiming leadership with the
// highest term
func (em *ElectionManager) liveLeaderLocked() (PeerInfo, bool) {
	var (
		best  PeerInfo
		found bool
	)
	for _, p := range em.membership.LivePeers(em.cfg.ElectionTimeout) {
		if p.Status.Role != RoleLeader {
			continue
		}
		if !found || p.Status.Term > best.Status.Term {
			best, found = p, true
		}
	}
	return best, found
}

// evaluateLocked returns true when this member should stand for election now
func (em *ElectionManager) evaluateLocked(now time.Time) bool {
	leader, found := em.liveLeaderLocked()

	switch em.role {
	case RoleLeader:
		if found && outranks(leader.Status.Term, leader.ID, em.term, em.cfg.ID) {
			em.logger.Warn("another leader outranks this one, stepping down",
				logging.Int("leader_id", leader.ID),
				logging.Uint64("term", leader.Status.Term))
			em.followLocked(leader.ID, leader.Status.Term, now)
		}
		return false
	case RoleCandidate:
		return false
	}

	if found {
		em.followLocked(leader.ID, leader.Status.Term, now)
		return false
	}
	if now.Sub(em.lastContact) < em.cfg.ElectionTimeout {
		return false
	}
	if em.leaderID != NoLeader {
		em.logger.Warn("leader lost", logging.Int("leader_id", em.leaderID), logging.Duration("silence", now.Sub(em.lastContact)))
		em.leaderID = NoLeader
	}
	if em.candidateAt.IsZero() {
		em.candidateAt = now.Add(time.Duration(em.cfg.ID) * em.cfg.HeartbeatInterval)
		em.logger.Debug("candidacy scheduled", logging.Duration("in", em.candidateAt.Sub(now)))
	}
	if now.Before(em.candidateAt) {
		return false
	}
	em.candidateAt = time.Time{}
	return true
}

// outranks reports whether leader a should win over leader b
func outranks(termA uint64, idA int, termB uint64, idB int) bool {
	if termA != termB {
		return termA > termB
	}
	return idA < idB
}

func (em *ElectionManager) followLocked(leaderID int, term uint64, now time.Time) {
	em.role = RoleFollower
	em.leaderID = leaderID
	if term > em.term {
		em.term = term
	}
	em.lastContact = now
	em.candidateAt = time.Time{}
}

func (em *ElectionManager) voteLocked(req VoteRequest, now time.Time) VoteResponse {
	resp := VoteResponse{VoterID: em.cfg.ID, Term: em.term}
	deny := func(reason string) VoteResponse {
		resp.Reason = reason
		return resp
	}

	switch {
	case em.role == RoleLeader:
		return deny(ErrVoteDenied.Error() + ": voter is leader")
	case req.Term < em.term:
		return deny(ErrVoteDenied.Error() + ": candidate term is stale")
	case em.leaderID != NoLeader && em.leaderID != req.CandidateID && now.Sub(em.lastContact) < em.cfg.ElectionTimeout:
		return deny(ErrVoteDenied.Error() + ": voter follows a live leader")
	case em.votedFor != NoLeader && em.votedFor != req.CandidateID && now.Sub(em.votedAt) < em.cfg.ElectionTimeout:
		return deny(ErrVoteDenied.Error() + ": voter already voted")
	case req.Seq < em.seq():
		return deny(ErrVoteDenied.Error() + ": candidate is behind")
	}

	em.term = req.Term
	em.role = RoleFollower
	em.leaderID = NoLeader
	em.votedFor = req.CandidateID
	em.votedAt = now
	em.lastContact = now
	em.candidateAt = time.Time{}

	resp.Term = em.term
	resp.Granted = true
	return resp
}

func (em *ElectionManager) runElection(ctx context.Context) {
	var req VoteRequest
	em.update(func(now time.Time) {
		term := em.term
		for _, p := range em.membership.Peers() {
			if p.Status.Term > term {
				term = p.Status.Term
			}
		}
		em.term = term + 1
		em.role = RoleCandidate
		em.votedFor = em.cfg.ID
		em.votedAt = now
		req = VoteRequest{CandidateID: em.cfg.ID, Term: em.term, Seq: em.seq()}
	})
	em.logger.Info("election started", logging.Uint64("term", req.Term), logging.Seq(req.Seq))

	votes, highest := em.requestVotes(ctx, req)
	quorum := em.membership.Quorum()

	won := false
	em.update(func(now time.Time) {
		if highest > em.term {
			em.term = highest
		}
		if em.role != RoleCandidate {
			return
		}
		if em.term == req.Term && votes >= quorum {
			em.role = RoleLeader
			em.leaderID = em.cfg.ID
			won = true
			return
		}
		em.role = RoleFollower
		em.leaderID = NoLeader
		em.lastContact = now
	})
	em.metrics.RecordElection(won)
	if won {
		em.logger.Info("election won", logging.Uint64("term", req.Term), logging.Int("votes", votes))
	} else {
		em.logger.Info("election lost", logging.Uint64("term", req.Term), logging.Int("votes", votes), logging.Int("quorum", quorum))
	}
}

// requestVotes asks every peer for its vote and returns the votes granted,
// including this member's own, and the highest term seen in the answers
func (em *ElectionManager) requestVotes(ctx context.Context, req VoteRequest) (int, uint64) {
	var (
		mu      sync.Mutex
		votes   = 1
		highest uint64
		g       errgroup.Group
	)
	for _, p := range em.membership.Peers() {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, em.cfg.ElectionTimeout/2)
			defer cancel()
			resp, err := em.client.RequestVote(cctx, p.Peer, req)
			if err != nil {
				em.logger.Debug("vote request failed", logging.Int("peer", p.ID), logging.Error(err))
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			if resp.Granted {
				votes++
			}
			if resp.Term > highest {
				highest = resp.Term
			}
			return nil
		})
	}
	_ = g.Wait()
	return votes, highest
}
