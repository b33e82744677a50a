package cluster

import (
	"sync"
	"time"

	"github.com/juju/clock"
)

// Role represents the role of a member in the cluster
type Role int

const (
	// RoleFollower replicates from the leader
	RoleFollower Role = iota
	// RoleCandidate is requesting votes
	RoleCandidate
	// RoleLeader accepts writes
	RoleLeader
)

// String returns the string representation of a Role
func (r Role) String() string {
	switch r {
	case RoleFollower:
		return "follower"
	case RoleCandidate:
		return "candidate"
	case RoleLeader:
		return "leader"
	default:
		return "unknown"
	}
}

// NoLeader is the leader id when none is known
const NoLeader = -1

// PeerStatus is what a member reports about itself on the replication channel
type PeerStatus struct {
	ID       int    `json:"id"`
	Role     Role   `json:"role"`
	LeaderID int    `json:"leader_id"`
	Term     uint64 `json:"term"`
	Seq      uint64 `json:"seq"`
	Version  string `json:"version,omitempty"`
}

// PeerInfo is the local record of one peer
type PeerInfo struct {
	Peer
	Status    PeerStatus
	LastSeen  time.Time
	Reachable bool
}

// IsLive returns true if the peer answered within timeout of now
func (p *PeerInfo) IsLive(now time.Time, timeout time.Duration) bool {
	return p.Reachable && now.Sub(p.LastSeen) < timeout
}

// Membership tracks the status of every peer of one member
//
// Concurrent Safety:
// 1. All public methods use RWMutex for thread-safe access
// 2. Getters return copies so callers never hold references into the table
type Membership struct {
	self  Peer
	peers map[int]*PeerInfo
	order []int
	clock clock.Clock
	mu    sync.RWMutex
}
