package rollover

import (
	"context"

	"github.com/dd0wney/cluso-rollover/pkg/cluster"
	"github.com/dd0wney/cluso-rollover/pkg/graph"
	"github.com/dd0wney/cluso-rollover/pkg/probe"
)

// MemberHandle controls one running member process of a specific version
type MemberHandle interface {
	Name() string
	BackupAddr() string

	// Stop ends the process. Stopping a member that is already gone is not an error.
	Stop(ctx context.Context) error
	// AwaitJoined blocks until the member has joined the cluster or ctx ends
	AwaitJoined(ctx context.Context) error
	// IsLeader fails when the member cannot be reached
	IsLeader(ctx context.Context) (bool, error)

	PullUpdates(ctx context.Context) error
	CreateNode(ctx context.Context, props map[string]string) (uint64, error)
	Update(ctx context.Context, fn func(graph.Tx) error) error
	View(ctx context.Context, fn func(graph.Tx) error) error
}

// Launcher starts member processes
type Launcher interface {
	Start(ctx context.Context, v Version, cfg cluster.MemberConfig) (MemberHandle, error)
}

// StateTransfer copies a member's store from its backup endpoint
type StateTransfer interface {
	Transfer(ctx context.Context, sourceAddr, destDir string) (consistent bool, err error)
}

// Validator checks a store at rest
type Validator interface {
	Check(ctx context.Context, storagePath string) error
}

// ClusterView finds the current leader
type ClusterView interface {
	FindLeader(ctx context.Context, members []*Member) (int, error)
}

// WorkloadProbe mutates the fixture and verifies the result on each member
type WorkloadProbe interface {
	Initialize(ctx context.Context, m probe.Target, size int) (probe.Fixture, error)
	Apply(ctx context.Context, m probe.Target, f probe.Fixture) (uint64, error)
	Verify(ctx context.Context, m probe.Target, f probe.Fixture, roundMarker uint64) error
}
