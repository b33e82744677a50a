package cluster

import (
	"sort"

	"github.com/juju/clock"
)

// NewMembership creates the peer table for cfg. A nil clock uses the wall clock.
func NewMembership(cfg MemberConfig, clk clock.Clock) *Membership {
	if clk == nil {
		clk = clock.WallClock
	}
	m := &Membership{
		self:  cfg.Self(),
		peers: make(map[int]*PeerInfo, len(cfg.Peers)),
		clock: clk,
	}
	for _, p := range cfg.Peers {
		m.peers[p.ID] = &PeerInfo{Peer: p, Status: PeerStatus{ID: p.ID, LeaderID: NoLeader}}
		m.order = append(m.order, p.ID)
	}
	sort.Ints(m.order)
	return m
}

// MarkSeen records a status answer from a peer
func (m *Membership) MarkSeen(status PeerStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.peers[status.ID]
	if !ok {
		return ErrMemberNotFound
	}
	p.Status = status
	p.LastSeen = m.clock.Now()
	p.Reachable = true
	return nil
}

// MarkUnreachable records a failed request to a peer
func (m *Membership) MarkUnreachable(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.peers[id]
	if !ok {
		return ErrMemberNotFound
	}
	p.Reachable = false
	return nil
}
