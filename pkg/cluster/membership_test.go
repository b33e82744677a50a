package cluster

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
)

func threeMemberConfig() MemberConfig {
	cfg := DefaultMemberConfig(1, "localhost")
	cfg.StoragePath = "/tmp/member-1"
	cfg.Peers = []Peer{
		DefaultMemberConfig(3, "localhost").Self(),
		DefaultMemberConfig(2, "localhost").Self(),
	}
	return cfg
}

// TestNewMembership tests creation of the peer table
func TestNewMembership(t *testing.T) {
	m := NewMembership(threeMemberConfig(), nil)

	if m.Self().ID != 1 {
		t.Errorf("Expected self 1, got %d", m.Self().ID)
	}
	if m.Size() != 3 {
		t.Errorf("Expected size 3, got %d", m.Size())
	}
	if m.Quorum() != 2 {
		t.Errorf("Expected quorum 2, got %d", m.Quorum())
	}

	peers := m.Peers()
	if len(peers) != 2 || peers[0].ID != 2 || peers[1].ID != 3 {
		t.Fatalf("Expected peers 2,3 in order, got %+v", peers)
	}
	for _, p := range peers {
		if p.Reachable {
			t.Errorf("Peer %d reachable before any contact", p.ID)
		}
		if p.Status.LeaderID != NoLeader {
			t.Errorf("Peer %d: expected no leader, got %d", p.ID, p.Status.LeaderID)
		}
	}
}

// TestMarkSeen tests status recording
func TestMarkSeen(t *testing.T) {
	clk := testclock.NewClock(time.Unix(1000, 0))
	m := NewMembership(threeMemberConfig(), clk)

	if err := m.MarkSeen(PeerStatus{ID: 2, Role: RoleLeader, LeaderID: 2, Term: 4, Seq: 9}); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}

	p, err := m.Get(2)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !p.Reachable || !p.LastSeen.Equal(clk.Now()) {
		t.Errorf("Expected peer seen now, got %+v", p)
	}
	if p.Status.Role != RoleLeader || p.Status.Term != 4 || p.Status.Seq != 9 {
		t.Errorf("Unexpected status %+v", p.Status)
	}

	if err := m.MarkSeen(PeerStatus{ID: 7}); !errors.Is(err, ErrMemberNotFound) {
		t.Errorf("Expected ErrMemberNotFound, got %v", err)
	}
	if _, err := m.Get(7); !errors.Is(err, ErrMemberNotFound) {
		t.Errorf("Expected ErrMemberNotFound, got %v", err)
	}
}

// TestLivePeers tests liveness by contact age and reachability
func TestLivePeers(t *testing.T) {
	clk := testclock.NewClock(time.Unix(1000, 0))
	m := NewMembership(threeMemberConfig(), clk)
	timeout := 3 * time.Second

	_ = m.MarkSeen(PeerStatus{ID: 2})
	_ = m.MarkSeen(PeerStatus{ID: 3})
	if got := len(m.LivePeers(timeout)); got != 2 {
		t.Fatalf("Expected 2 live peers, got %d", got)
	}
	if !m.HasQuorum(timeout) {
		t.Error("Expected quorum")
	}

	_ = m.MarkUnreachable(3)
	live := m.LivePeers(timeout)
	if len(live) != 1 || live[0].ID != 2 {
		t.Errorf("Expected only peer 2 live, got %+v", live)
	}

	clk.Advance(timeout)
	if got := len(m.LivePeers(timeout)); got != 0 {
		t.Errorf("Expected no live peers after timeout, got %d", got)
	}
	if m.HasQuorum(timeout) {
		t.Error("Expected no quorum with every peer silent")
	}

	if err := m.MarkUnreachable(9); !errors.Is(err, ErrMemberNotFound) {
		t.Errorf("Expected ErrMemberNotFound, got %v", err)
	}
}

// TestMembershipCopies tests that getters do not expose the table
func TestMembershipCopies(t *testing.T) {
	m := NewMembership(threeMemberConfig(), nil)

	peers := m.Peers()
	peers[0].Status.Term = 99

	p, _ := m.Get(peers[0].ID)
	if p.Status.Term != 0 {
		t.Errorf("Table modified through a copy: term %d", p.Status.Term)
	}
}

// TestConcurrentAccess tests thread-safe access to membership
func TestConcurrentAccess(t *testing.T) {
	m := NewMembership(threeMemberConfig(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := 2 + (i+j)%2
				if j%3 == 0 {
					_ = m.MarkUnreachable(id)
				} else {
					_ = m.MarkSeen(PeerStatus{ID: id, Seq: uint64(j)})
				}
				_ = m.LivePeers(time.Second)
				_ = m.HasQuorum(time.Second)
			}
		}(i)
	}
	wg.Wait()
}
