package cluster

import (
	"time"
)

// Self returns the local member as a Peer
func (m *Membership) Self() Peer {
	return m.self
}

// Get returns info about a specific peer
func (m *Membership) Get(id int) (PeerInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.peers[id]
	if !ok {
		return PeerInfo{}, ErrMemberNotFound
	}
	return *p, nil
}

// Peers returns every peer in id order
func (m *Membership) Peers() []PeerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]PeerInfo, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.peers[id])
	}
	return out
}

// LivePeers returns peers that answered within timeout
func (m *Membership) LivePeers(timeout time.Duration) []PeerInfo {
	now := m.clock.Now()
	var live []PeerInfo
	for _, p := range m.Peers() {
		if p.IsLive(now, timeout) {
			live = append(live, p)
		}
	}
	return live
}

// Size returns the cluster size including the local member
func (m *Membership) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers) + 1
}

// Quorum returns the majority size
func (m *Membership) Quorum() int {
	return m.Size()/2 + 1
}

// HasQuorum reports whether the local member plus its live peers form a majority
func (m *Membership) HasQuorum(timeout time.Duration) bool {
	return len(m.LivePeers(timeout))+1 >= m.Quorum()
}
