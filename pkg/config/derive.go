package config

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/dd0wney/cluso-rollover/pkg/cluster"
	"github.com/dd0wney/cluso-rollover/pkg/logging"
	"github.com/dd0wney/cluso-rollover/pkg/rollover"
)

func clusterPort(id int) int     { return cluster.ClusterPortBase + id }
func replicationPort(id int) int { return cluster.ReplicationPortBase + id }
func backupPort(id int) int      { return cluster.BackupPortBase + id }

// Versions returns the running and target releases
func (f *File) Versions() (from, to rollover.Version, err error) {
	from, err = rollover.ParseVersion(f.From.Version, f.From.StoreFormat, f.From.Binary)
	if err != nil {
		return from, to, fmt.Errorf("from: %w", err)
	}
	to, err = rollover.ParseVersion(f.To.Version, f.To.StoreFormat, f.To.Binary)
	if err != nil {
		return from, to, fmt.Errorf("to: %w", err)
	}
	return from, to, nil
}

// Level returns the log level, honouring LOG_LEVEL
func (f *File) Level() logging.Level {
	return logging.ResolveLevel(f.LogLevel)
}

// StoragePath returns the store directory of a member entry
func (f *File) StoragePath(m MemberEntry) string {
	if m.DataDir != "" {
		return m.DataDir
	}
	return filepath.Join(f.DataDir, "member-"+strconv.Itoa(m.ID))
}

func (f *File) entry(id int) (MemberEntry, bool) {
	for _, m := range f.Members {
		if m.ID == id {
			return m, true
		}
	}
	return MemberEntry{}, false
}

// template returns the member settings shared by every member
func (f *File) template() cluster.MemberConfig {
	cfg := cluster.DefaultMemberConfig(0, f.Host)
	cfg.HeartbeatInterval = f.Timing.Heartbeat
	cfg.ElectionTimeout = f.Timing.ElectionTimeout
	cfg.PullInterval = f.Timing.PullInterval
	cfg.BackupSecret = f.BackupSecret
	return cfg
}

// MemberConfig derives the launch config of member id running v, with
// every other member as a peer
func (f *File) MemberConfig(id int, v rollover.Version) (cluster.MemberConfig, error) {
	m, ok := f.entry(id)
	if !ok {
		return cluster.MemberConfig{}, fmt.Errorf("%w: %d", ErrUnknownMember, id)
	}
	cfg := f.template()
	cfg.ID = m.ID
	cfg.Host = m.Host
	cfg.ClusterPort = m.ClusterPort
	cfg.ReplicationPort = m.ReplicationPort
	cfg.BackupPort = m.BackupPort
	cfg.StoragePath = f.StoragePath(m)
	cfg.Version = v.String()
	cfg.StoreFormat = v.StoreFormat
	for _, p := range f.Members {
		if p.ID == id {
			continue
		}
		cfg.Peers = append(cfg.Peers, cluster.Peer{
			ID:              p.ID,
			Host:            p.Host,
			ClusterPort:     p.ClusterPort,
			ReplicationPort: p.ReplicationPort,
			BackupPort:      p.BackupPort,
		})
	}
	return cfg, cfg.Validate()
}

// ClusterMembers returns the members as running the source release,
// without handles
func (f *File) ClusterMembers() ([]*rollover.Member, error) {
	from, _, err := f.Versions()
	if err != nil {
		return nil, err
	}
	members := make([]*rollover.Member, len(f.Members))
	for i, m := range f.Members {
		members[i] = &rollover.Member{
			ID:              m.ID,
			Host:            m.Host,
			ClusterPort:     m.ClusterPort,
			ReplicationPort: m.ReplicationPort,
			BackupPort:      m.BackupPort,
			Version:         from,
			State:           rollover.StateRunningOld,
			StoragePath:     f.StoragePath(m),
		}
	}
	return members, nil
}

// Rollover returns the run configuration
func (f *File) Rollover() (rollover.Config, error) {
	_, to, err := f.Versions()
	if err != nil {
		return rollover.Config{}, err
	}
	cfg := rollover.DefaultConfig(to)
	cfg.StabilizationWindow = f.Timeouts.Stabilization
	cfg.JoinTimeout = f.Timeouts.Join
	cfg.StopTimeout = f.Timeouts.Stop
	cfg.LeaderTimeout = f.Timeouts.Leader
	cfg.ProbeTimeout = f.Timeouts.Probe
	cfg.FixtureSize = f.FixtureSize
	cfg.FreshStorageSuffix = f.FreshSuffix
	cfg.RunID = f.RunID
	cfg.Member = f.template()
	return cfg, cfg.Validate()
}
