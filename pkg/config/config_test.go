package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dd0wney/cluso-rollover/pkg/logging"
	"github.com/dd0wney/cluso-rollover/pkg/rollover"
)

const sampleFile = `
from: {version: "2.0.1", store_format: 1, binary: /opt/graphdb-2.0.1/graphdb-member}
to:   {version: "2.1.0", store_format: 2, binary: ./graphdb-member}
data_dir: /var/lib/graphdb
host: 10.0.0.5
members:
  - {id: 0}
  - {id: 1, backup_port: 7001}
  - {id: 2, host: 10.0.0.6, data_dir: /mnt/fast/member-2}
timeouts: {stabilization: 5s, join: 1m}
fixture_size: 20
backup_secret: s3cret
archive: {bucket: graphdb-snapshots, region: eu-west-1}
journal: {path: /var/log/rollover.jsonl}
log_level: debug
`

// TestParse tests decoding, defaults and member derivation
func TestParse(t *testing.T) {
	f, err := Parse([]byte(sampleFile))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if f.Timeouts.Stabilization != 5*time.Second || f.Timeouts.Join != time.Minute {
		t.Errorf("Timeouts not decoded: %+v", f.Timeouts)
	}
	if f.Timeouts.Stop != 30*time.Second || f.Timing.Heartbeat != 500*time.Millisecond {
		t.Errorf("Defaults not kept: %+v %+v", f.Timeouts, f.Timing)
	}
	if f.Archive.Prefix != "rollover" || f.Archive.Bucket != "graphdb-snapshots" {
		t.Errorf("Archive defaults not merged: %+v", f.Archive)
	}

	m0 := f.Members[0]
	if m0.Host != "10.0.0.5" || m0.ClusterPort != 5000 || m0.ReplicationPort != 6000 || m0.BackupPort != 6362 {
		t.Errorf("Member 0 defaults not applied: %+v", m0)
	}
	if f.Members[1].BackupPort != 7001 || f.Members[2].Host != "10.0.0.6" {
		t.Errorf("Member overrides lost: %+v %+v", f.Members[1], f.Members[2])
	}

	from, to, err := f.Versions()
	if err != nil {
		t.Fatalf("Versions failed: %v", err)
	}
	if from.String() != "2.0.1" || to.String() != "2.1.0" || to.StoreFormat != 2 || to.Binary != "./graphdb-member" {
		t.Errorf("Unexpected versions: %+v %+v", from, to)
	}

	members, err := f.ClusterMembers()
	if err != nil {
		t.Fatalf("ClusterMembers failed: %v", err)
	}
	if members[0].StoragePath != "/var/lib/graphdb/member-0" || members[2].StoragePath != "/mnt/fast/member-2" {
		t.Errorf("Unexpected storage paths: %s %s", members[0].StoragePath, members[2].StoragePath)
	}
	if members[1].Version != from || members[1].State != rollover.StateRunningOld {
		t.Errorf("Unexpected member: %v", members[1])
	}
}

// TestMemberConfig tests the per member launch config
func TestMemberConfig(t *testing.T) {
	f, err := Parse([]byte(sampleFile))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	_, to, _ := f.Versions()

	cfg, err := f.MemberConfig(1, to)
	if err != nil {
		t.Fatalf("MemberConfig failed: %v", err)
	}
	if cfg.ID != 1 || cfg.BackupPort != 7001 || cfg.StoragePath != "/var/lib/graphdb/member-1" {
		t.Errorf("Unexpected identity: %+v", cfg)
	}
	if cfg.Version != "2.1.0" || cfg.StoreFormat != 2 || cfg.BackupSecret != "s3cret" {
		t.Errorf("Unexpected version settings: %+v", cfg)
	}
	if len(cfg.Peers) != 2 || cfg.Peers[0].ID != 0 || cfg.Peers[1].Host != "10.0.0.6" {
		t.Errorf("Unexpected peers: %v", cfg.Peers)
	}

	if _, err := f.MemberConfig(9, to); !errors.Is(err, ErrUnknownMember) {
		t.Errorf("Expected ErrUnknownMember, got %v", err)
	}
}

// TestRollover tests the run config conversion
func TestRollover(t *testing.T) {
	f, err := Parse([]byte(sampleFile))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	cfg, err := f.Rollover()
	if err != nil {
		t.Fatalf("Rollover failed: %v", err)
	}
	if cfg.Target.String() != "2.1.0" || cfg.StabilizationWindow != 5*time.Second || cfg.FixtureSize != 20 {
		t.Errorf("Unexpected run config: %+v", cfg)
	}
	if cfg.FreshStorageSuffix != "-fresh" || cfg.Member.BackupSecret != "s3cret" || cfg.Member.ElectionTimeout != 3*time.Second {
		t.Errorf("Unexpected member template: %+v", cfg.Member)
	}
}

// TestParseErrors tests rejected cluster files
func TestParseErrors(t *testing.T) {
	base := "from: {version: 2.0.1, store_format: 1}\nto: {version: 2.1.0, store_format: 2}\n"

	tests := []struct {
		name    string
		yaml    string
		wantErr error
		field   string
	}{
		{
			name:    "single member",
			yaml:    base + "members: [{id: 0}]\n",
			wantErr: ErrInvalidConfig,
			field:   "Members",
		},
		{
			name:    "duplicate member",
			yaml:    base + "members: [{id: 0}, {id: 0}]\n",
			wantErr: ErrInvalidConfig,
			field:   "Members",
		},
		{
			name:    "missing target",
			yaml:    "from: {version: 2.0.1, store_format: 1}\nmembers: [{id: 0}, {id: 1}]\n",
			wantErr: ErrInvalidConfig,
			field:   "To.Version",
		},
		{
			name:    "downgrade",
			yaml:    "from: {version: 2.1.0, store_format: 2}\nto: {version: 2.0.1, store_format: 1}\nmembers: [{id: 0}, {id: 1}]\n",
			wantErr: ErrVersionNotNewer,
		},
		{
			name:    "port clash",
			yaml:    base + "members: [{id: 0}, {id: 1, cluster_port: 5000}]\n",
			wantErr: ErrPortInUse,
		},
		{
			name:    "bad log level",
			yaml:    base + "members: [{id: 0}, {id: 1}]\nlog_level: loud\n",
			wantErr: ErrInvalidConfig,
			field:   "LogLevel",
		},
		{
			name:    "election faster than heartbeat",
			yaml:    base + "members: [{id: 0}, {id: 1}]\ntiming: {heartbeat: 2s, election_timeout: 1s}\n",
			wantErr: ErrInvalidConfig,
			field:   "Timing.ElectionTimeout",
		},
		{
			name:    "not yaml",
			yaml:    "members: [",
			wantErr: ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected %v, got %v", tt.wantErr, err)
			}
			if tt.field != "" && !strings.Contains(err.Error(), tt.field) {
				t.Errorf("Expected %q in %q", tt.field, err.Error())
			}
		})
	}
}

// TestLoad tests reading from disk and the LOG_LEVEL override
func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cluster.yaml")
	if err := os.WriteFile(path, []byte(sampleFile), 0644); err != nil {
		t.Fatal(err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	t.Setenv(logging.EnvLevel, "")
	if f.Level() != logging.DebugLevel {
		t.Errorf("Expected debug level, got %s", f.Level())
	}
	t.Setenv(logging.EnvLevel, "error")
	if f.Level() != logging.ErrorLevel {
		t.Errorf("Expected LOG_LEVEL to win, got %s", f.Level())
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected ErrNotExist, got %v", err)
	}
}
