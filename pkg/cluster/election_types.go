package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/dd0wney/cluso-rollover/pkg/logging"
	"github.com/dd0wney/cluso-rollover/pkg/metrics"
)

// VoteRequest is sent by candidates to request votes
type VoteRequest struct {
	CandidateID int    `json:"candidate_id"`
	Term        uint64 `json:"term"`
	Seq         uint64 `json:"seq"`
}

// VoteResponse is returned in response to a vote request
type VoteResponse struct {
	VoterID int    `json:"voter_id"`
	Term    uint64 `json:"term"`
	Granted bool   `json:"granted"`
	Reason  string `json:"reason,omitempty"`
}

// PeerClient reaches other members over the replication channel
type PeerClient interface {
	Status(ctx context.Context, p Peer) (PeerStatus, error)
	RequestVote(ctx context.Context, p Peer, req VoteRequest) (VoteResponse, error)
}

// RoleChangeFunc is told about every role or leader change
type RoleChangeFunc func(role Role, leaderID int, term uint64)

// ElectionManager decides this member's role. It is driven by Tick, which
// Run calls once per heartbeat interval.
//
// Concurrent Safety:
// 1. All state access protected by sync.Mutex
// 2. Peer requests are made without the lock held
// 3. Role change callbacks run after the lock is released
type ElectionManager struct {
	cfg        MemberConfig
	membership *Membership
	client     PeerClient
	seq        func() uint64
	clock      clock.Clock
	logger     logging.Logger
	metrics    *metrics.Registry
	onChange   RoleChangeFunc

	mu          sync.Mutex
	role        Role
	term        uint64
	leaderID    int
	lastContact time.Time
	votedFor    int
	votedAt     time.Time
	candidateAt time.Time // zero unless a candidacy is scheduled
}
