// Package config loads the cluster file that describes a migration: the
// running and target versions, the members and the run settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-rollover/pkg/backup"
	"github.com/dd0wney/cluso-rollover/pkg/journal"
	"github.com/dd0wney/cluso-rollover/pkg/probe"
)

// VersionConfig names one release and its member binary
type VersionConfig struct {
	Version     string `yaml:"version" validate:"required"`
	StoreFormat int    `yaml:"store_format" validate:"min=1"`
	Binary      string `yaml:"binary"`
}

// MemberEntry is one member entry. Zero ports and an empty host take the
// cluster defaults.
type MemberEntry struct {
	ID              int    `yaml:"id" validate:"min=0"`
	Host            string `yaml:"host" validate:"omitempty,hostname_rfc1123|ip"`
	ClusterPort     int    `yaml:"cluster_port" validate:"min=0,max=65535"`
	ReplicationPort int    `yaml:"replication_port" validate:"min=0,max=65535"`
	BackupPort      int    `yaml:"backup_port" validate:"min=0,max=65535"`
	DataDir         string `yaml:"data_dir"` // defaults to <data_dir>/member-<id>
}

// Timeouts bounds each phase of a run
type Timeouts struct {
	Stabilization time.Duration `yaml:"stabilization" validate:"min=0"`
	Join          time.Duration `yaml:"join" validate:"gt=0"`
	Stop          time.Duration `yaml:"stop" validate:"gt=0"`
	Leader        time.Duration `yaml:"leader" validate:"gt=0"`
	Probe         time.Duration `yaml:"probe" validate:"gt=0"`
}

// Timing is passed to every started member
type Timing struct {
	Heartbeat       time.Duration `yaml:"heartbeat" validate:"gt=0"`
	ElectionTimeout time.Duration `yaml:"election_timeout" validate:"gtfield=Heartbeat"`
	PullInterval    time.Duration `yaml:"pull_interval" validate:"gt=0"`
}

// File is the cluster file
type File struct {
	From        VersionConfig `yaml:"from"`
	To          VersionConfig `yaml:"to"`
	DataDir     string        `yaml:"data_dir" validate:"required"`
	Host        string        `yaml:"host" validate:"required,hostname_rfc1123|ip"`
	Members     []MemberEntry `yaml:"members" validate:"min=2,unique=ID,dive"`
	Timeouts    Timeouts      `yaml:"timeouts"`
	Timing      Timing        `yaml:"timing"`
	FixtureSize int           `yaml:"fixture_size" validate:"min=0"`
	FreshSuffix string        `yaml:"fresh_suffix" validate:"required,excludesall=/\\"`
	RunID       string        `yaml:"run_id"`
	LogLevel    string        `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	BackupSecret string               `yaml:"backup_secret"`
	Archive      backup.ArchiveConfig `yaml:"archive"`
	Journal      journal.Config       `yaml:"journal"`
}

// Default returns a file with every optional setting filled in
func Default() *File {
	return &File{
		DataDir: "./dbs",
		Host:    "127.0.0.1",
		Timeouts: Timeouts{
			Stabilization: 30 * time.Second,
			Join:          2 * time.Minute,
			Stop:          30 * time.Second,
			Leader:        10 * time.Second,
			Probe:         2 * time.Minute,
		},
		Timing: Timing{
			Heartbeat:       500 * time.Millisecond,
			ElectionTimeout: 3 * time.Second,
			PullInterval:    200 * time.Millisecond,
		},
		FixtureSize: probe.DefaultSize,
		FreshSuffix: "-fresh",
		LogLevel:    "info",
		Archive:     backup.ArchiveConfig{Prefix: "rollover"},
		Journal:     journal.Config{Path: "rollover.jsonl"},
	}
}

// Load reads and validates a cluster file
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a cluster file over the defaults and validates it
func Parse(data []byte) (*File, error) {
	f := Default()
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	f.applyDefaults()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// applyDefaults fills member hosts and ports from the cluster settings
func (f *File) applyDefaults() {
	for i := range f.Members {
		m := &f.Members[i]
		if m.Host == "" {
			m.Host = f.Host
		}
		if m.ClusterPort == 0 {
			m.ClusterPort = clusterPort(m.ID)
		}
		if m.ReplicationPort == 0 {
			m.ReplicationPort = replicationPort(m.ID)
		}
		if m.BackupPort == 0 {
			m.BackupPort = backupPort(m.ID)
		}
	}
}
