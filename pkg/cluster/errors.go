package cluster

import "errors"

// Configuration errors
var (
	ErrInvalidMemberID         = errors.New("member id must not be negative")
	ErrInvalidHost             = errors.New("member host cannot be empty")
	ErrInvalidPort             = errors.New("port must be between 1 and 65535")
	ErrPortConflict            = errors.New("cluster, replication and backup ports must differ")
	ErrStoragePathRequired     = errors.New("storage path is required")
	ErrElectionTimeoutTooSmall = errors.New("election timeout must be greater than heartbeat interval")
	ErrInvalidPullInterval     = errors.New("pull interval must be positive")
	ErrDuplicatePeer           = errors.New("peer listed more than once")
	ErrPeerIsSelf              = errors.New("peer list contains the member itself")
	ErrInvalidPeerSpec         = errors.New("peer spec must be id@host:cluster:replication:backup")
)

// Election errors
var (
	ErrNotLeader   = errors.New("not the current leader")
	ErrNoLeader    = errors.New("no leader known")
	ErrVoteDenied  = errors.New("vote denied")
	ErrLostQuorum  = errors.New("election did not reach a majority")
	ErrStaleLeader = errors.New("leader term is older than local term")
)

// Membership errors
var (
	ErrMemberNotFound = errors.New("member not found in membership")
)
