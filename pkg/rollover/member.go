package rollover

import (
	"fmt"
	"sort"

	"github.com/dd0wney/cluso-rollover/pkg/cluster"
)

// MemberState is where a member is in its migration lifecycle
type MemberState string

const (
	StateRunningOld MemberState = "running-old"
	StateStopped    MemberState = "stopped"
	StateRunningNew MemberState = "running-new"
)

// Member is the coordinator's record of one cluster member
type Member struct {
	ID              int
	Host            string
	ClusterPort     int
	ReplicationPort int
	BackupPort      int
	Version         Version
	State           MemberState
	StoragePath     string
	Handle          MemberHandle
}

// Peer returns the member's endpoints as a cluster peer
func (m *Member) Peer() cluster.Peer {
	return cluster.Peer{
		ID:              m.ID,
		Host:            m.Host,
		ClusterPort:     m.ClusterPort,
		ReplicationPort: m.ReplicationPort,
		BackupPort:      m.BackupPort,
	}
}

// BackupAddr returns host:port of the member's backup endpoint
func (m *Member) BackupAddr() string {
	return m.Peer().BackupAddr()
}

// Running reports whether the member has a live process
func (m *Member) Running() bool {
	return m.State != StateStopped && m.Handle != nil
}

func (m *Member) String() string {
	return fmt.Sprintf("member-%d(%s, %s)", m.ID, m.Version, m.State)
}

// ClusterSet holds one record per member, ordered by id
type ClusterSet struct {
	members []*Member
	byID    map[int]*Member
}

// NewClusterSet builds a set from members. Ids must be unique.
func NewClusterSet(members []*Member) (*ClusterSet, error) {
	if len(members) == 0 {
		return nil, ErrEmptyCluster
	}
	s := &ClusterSet{
		members: make([]*Member, 0, len(members)),
		byID:    make(map[int]*Member, len(members)),
	}
	for _, m := range members {
		if m == nil {
			return nil, fmt.Errorf("%w: nil member", ErrInvalidMember)
		}
		if _, ok := s.byID[m.ID]; ok {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateMember, m.ID)
		}
		if m.State == "" {
			m.State = StateRunningOld
		}
		s.byID[m.ID] = m
		s.members = append(s.members, m)
	}
	sort.Slice(s.members, func(i, j int) bool { return s.members[i].ID < s.members[j].ID })
	return s, nil
}

// Get returns the member with id
func (s *ClusterSet) Get(id int) (*Member, bool) {
	m, ok := s.byID[id]
	return m, ok
}

// IDs returns member ids in ascending order
func (s *ClusterSet) IDs() []int {
	ids := make([]int, len(s.members))
	for i, m := range s.members {
		ids[i] = m.ID
	}
	return ids
}

// Members returns the records in id order
func (s *ClusterSet) Members() []*Member {
	out := make([]*Member, len(s.members))
	copy(out, s.members)
	return out
}

// Live returns the members with a running process in id order
func (s *ClusterSet) Live() []*Member {
	var out []*Member
	for _, m := range s.members {
		if m.Running() {
			out = append(out, m)
		}
	}
	return out
}

// Stopped returns the number of stopped members
func (s *ClusterSet) Stopped() int {
	n := 0
	for _, m := range s.members {
		if m.State == StateStopped {
			n++
		}
	}
	return n
}

// Migrated returns the number of members running the new version
func (s *ClusterSet) Migrated() int {
	n := 0
	for _, m := range s.members {
		if m.State == StateRunningNew {
			n++
		}
	}
	return n
}

// MarkStopped records that id's process is gone. It fails when another
// member is already stopped.
func (s *ClusterSet) MarkStopped(id int) error {
	m, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMember, id)
	}
	if m.State == StateStopped {
		return nil
	}
	for _, other := range s.members {
		if other.State == StateStopped {
			return fmt.Errorf("%w: member %d is stopped", ErrSecondStop, other.ID)
		}
	}
	m.State = StateStopped
	m.Handle = nil
	return nil
}

// MarkRunningNew records that id runs version v from storagePath
func (s *ClusterSet) MarkRunningNew(id int, h MemberHandle, storagePath string, v Version) error {
	m, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMember, id)
	}
	if m.State != StateStopped {
		return fmt.Errorf("%w: member %d is %s", ErrNotStopped, id, m.State)
	}
	m.State = StateRunningNew
	m.Handle = h
	m.StoragePath = storagePath
	m.Version = v
	return nil
}

// peersOf returns every member except id as cluster peers
func (s *ClusterSet) peersOf(id int) []cluster.Peer {
	peers := make([]cluster.Peer, 0, len(s.members)-1)
	for _, m := range s.members {
		if m.ID != id {
			peers = append(peers, m.Peer())
		}
	}
	return peers
}
