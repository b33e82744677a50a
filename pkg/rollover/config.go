package rollover

import (
	"errors"
	"time"

	"github.com/dd0wney/cluso-rollover/pkg/cluster"
	"github.com/dd0wney/cluso-rollover/pkg/probe"
)

// Configuration errors
var (
	ErrNoTargetVersion  = errors.New("target version is required")
	ErrInvalidTimeout   = errors.New("timeouts must be positive")
	ErrInvalidFixture   = errors.New("fixture size must not be negative")
	ErrEmptyFreshSuffix = errors.New("fresh storage suffix is required")
)

// Config controls one migration run
type Config struct {
	// Target is the version every member ends up running
	Target Version

	// StabilizationWindow is the fixed cool-down after each stop
	StabilizationWindow time.Duration
	JoinTimeout         time.Duration
	StopTimeout         time.Duration
	LeaderTimeout       time.Duration // per leader query
	ProbeTimeout        time.Duration // per probe apply or verify

	FixtureSize int

	// FreshStorageSuffix is appended to a member's storage path when it
	// bootstraps empty; its old store stays in place
	FreshStorageSuffix string

	// RunID names the run in events and logs; a uuid when empty
	RunID string

	// Member carries the timing and auth settings for started members.
	// Identity, endpoints, storage and peers come from the cluster set.
	Member cluster.MemberConfig
}

// DefaultConfig returns the default run configuration for target
func DefaultConfig(target Version) Config {
	return Config{
		Target:              target,
		StabilizationWindow: 30 * time.Second,
		JoinTimeout:         2 * time.Minute,
		StopTimeout:         30 * time.Second,
		LeaderTimeout:       10 * time.Second,
		ProbeTimeout:        2 * time.Minute,
		FixtureSize:         probe.DefaultSize,
		FreshStorageSuffix:  "-fresh",
		Member:              cluster.DefaultMemberConfig(0, "127.0.0.1"),
	}
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Target.Tag.Major == 0 && c.Target.Tag.Minor == 0 && c.Target.Tag.Patch == 0 {
		return ErrNoTargetVersion
	}
	if c.StabilizationWindow < 0 {
		return ErrInvalidTimeout
	}
	for _, d := range []time.Duration{c.JoinTimeout, c.StopTimeout, c.LeaderTimeout, c.ProbeTimeout} {
		if d <= 0 {
			return ErrInvalidTimeout
		}
	}
	if c.FixtureSize < 0 {
		return ErrInvalidFixture
	}
	if c.FreshStorageSuffix == "" {
		return ErrEmptyFreshSuffix
	}
	return nil
}

// memberConfig builds the launch config for m on storagePath
func (c *Config) memberConfig(set *ClusterSet, m *Member, storagePath string) cluster.MemberConfig {
	cfg := c.Member
	cfg.ID = m.ID
	cfg.Host = m.Host
	cfg.ClusterPort = m.ClusterPort
	cfg.ReplicationPort = m.ReplicationPort
	cfg.BackupPort = m.BackupPort
	cfg.StoragePath = storagePath
	cfg.AllowStoreUpgrade = true
	cfg.Peers = set.peersOf(m.ID)
	return cfg
}
