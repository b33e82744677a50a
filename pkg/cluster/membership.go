// Package cluster provides a member's view of its peers.
//
// This package handles:
//   - The per-member configuration surface and its peer list
//   - Peer status tracking and quorum detection
//   - Vote-based leader election
package cluster
