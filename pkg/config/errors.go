package config

import "errors"

// Cluster file errors
var (
	ErrInvalidConfig   = errors.New("invalid cluster file")
	ErrVersionNotNewer = errors.New("target version must be newer than the running version")
	ErrUnknownMember   = errors.New("member not in cluster file")
	ErrPortInUse       = errors.New("port used by more than one member")
)
