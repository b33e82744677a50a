package cluster

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Base ports; a member listens on base+id
const (
	ClusterPortBase     = 5000
	ReplicationPortBase = 6000
	BackupPortBase      = 6362
)

// Peer is another member of the same cluster
type Peer struct {
	ID              int    `json:"id" yaml:"id"`
	Host            string `json:"host" yaml:"host"`
	ClusterPort     int    `json:"cluster_port" yaml:"cluster_port"`
	ReplicationPort int    `json:"replication_port" yaml:"replication_port"`
	BackupPort      int    `json:"backup_port" yaml:"backup_port"`
}

// ClusterAddr returns host:port of the peer's coordinator channel
func (p Peer) ClusterAddr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.ClusterPort))
}

// ReplicationAddr returns host:port of the peer's replication channel
func (p Peer) ReplicationAddr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.ReplicationPort))
}

// BackupAddr returns host:port of the peer's backup endpoint
func (p Peer) BackupAddr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.BackupPort))
}

// String encodes the peer as id@host:cluster:replication:backup
func (p Peer) String() string {
	return fmt.Sprintf("%d@%s:%d:%d:%d", p.ID, p.Host, p.ClusterPort, p.ReplicationPort, p.BackupPort)
}

// ParsePeer decodes a peer written by Peer.String
func ParsePeer(s string) (Peer, error) {
	id, rest, ok := strings.Cut(strings.TrimSpace(s), "@")
	if !ok {
		return Peer{}, fmt.Errorf("%w: %q", ErrInvalidPeerSpec, s)
	}
	parts := strings.Split(rest, ":")
	if len(parts) != 4 {
		return Peer{}, fmt.Errorf("%w: %q", ErrInvalidPeerSpec, s)
	}
	nums := make([]int, 0, 4)
	for _, field := range []string{id, parts[1], parts[2], parts[3]} {
		n, err := strconv.Atoi(field)
		if err != nil {
			return Peer{}, fmt.Errorf("%w: %q: %v", ErrInvalidPeerSpec, s, err)
		}
		nums = append(nums, n)
	}
	return Peer{ID: nums[0], Host: parts[0], ClusterPort: nums[1], ReplicationPort: nums[2], BackupPort: nums[3]}, nil
}

// ParsePeers decodes a comma separated peer list
func ParsePeers(s string) ([]Peer, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var peers []Peer
	for _, spec := range strings.Split(s, ",") {
		p, err := ParsePeer(spec)
		if err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	return peers, nil
}

// FormatPeers encodes peers for ParsePeers
func FormatPeers(peers []Peer) string {
	specs := make([]string, len(peers))
	for i, p := range peers {
		specs[i] = p.String()
	}
	return strings.Join(specs, ",")
}

// MemberConfig is everything one member process needs to start
type MemberConfig struct {
	// Identity and endpoints
	ID              int
	Host            string
	ClusterPort     int // coordinator requests
	ReplicationPort int // peer status, votes and log pulls
	BackupPort      int // state transfer, health and metrics over HTTP

	// Storage
	StoragePath       string
	AllowStoreUpgrade bool
	StoreFormat       int    // format this software writes; 0 means the build's current format
	Version           string // software version tag recorded in the store

	// Every other member of the cluster
	Peers []Peer

	// Timing
	HeartbeatInterval time.Duration // peer status polling and election stagger unit
	ElectionTimeout   time.Duration // silence from the leader before looking for a new one
	PullInterval      time.Duration // follower log pull period

	// BackupSecret enables bearer token auth on the backup endpoint
	BackupSecret string
}

// DefaultMemberConfig returns a config with the conventional ports for id
func DefaultMemberConfig(id int, host string) MemberConfig {
	return MemberConfig{
		ID:                id,
		Host:              host,
		ClusterPort:       ClusterPortBase + id,
		ReplicationPort:   ReplicationPortBase + id,
		BackupPort:        BackupPortBase + id,
		AllowStoreUpgrade: true,
		HeartbeatInterval: 500 * time.Millisecond,
		ElectionTimeout:   3 * time.Second,
		PullInterval:      200 * time.Millisecond,
	}
}

// Self returns this member as a Peer
func (c MemberConfig) Self() Peer {
	return Peer{
		ID:              c.ID,
		Host:            c.Host,
		ClusterPort:     c.ClusterPort,
		ReplicationPort: c.ReplicationPort,
		BackupPort:      c.BackupPort,
	}
}

// Size returns the number of members including this one
func (c MemberConfig) Size() int {
	return len(c.Peers) + 1
}

// Quorum returns the majority size for the cluster
func (c MemberConfig) Quorum() int {
	return c.Size()/2 + 1
}

// Validate checks if configuration is valid
func (c *MemberConfig) Validate() error {
	if c.ID < 0 {
		return ErrInvalidMemberID
	}
	if c.Host == "" {
		return ErrInvalidHost
	}
	for _, port := range []int{c.ClusterPort, c.ReplicationPort, c.BackupPort} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%w: %d", ErrInvalidPort, port)
		}
	}
	if c.ClusterPort == c.ReplicationPort || c.ClusterPort == c.BackupPort || c.ReplicationPort == c.BackupPort {
		return ErrPortConflict
	}
	if c.StoragePath == "" {
		return ErrStoragePathRequired
	}
	if c.ElectionTimeout <= c.HeartbeatInterval {
		return ErrElectionTimeoutTooSmall
	}
	if c.PullInterval <= 0 {
		return ErrInvalidPullInterval
	}
	seen := make(map[int]bool, len(c.Peers))
	for _, p := range c.Peers {
		if p.ID == c.ID {
			return fmt.Errorf("%w: %d", ErrPeerIsSelf, p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("%w: %d", ErrDuplicatePeer, p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}
