// Package probe mutates a fixed anchor in the graph and checks that every
// member converges on the result.
//
// One round deletes the lowest half of the anchor's links in each probed
// category, recreates as many links to fresh endpoints, and labels every
// remaining link and endpoint with "<link id>-<round marker>", where the
// round marker is the highest link id created in the round. A member has
// converged when its category counts are unchanged and every label carries
// the marker it derives from its own data.
package probe

import (
	"context"
	"fmt"

	"github.com/dd0wney/cluso-rollover/pkg/graph"
)

// Probed link categories
const (
	CategoryA = "type1"
	CategoryB = "type2"
)

// Label keys
const (
	LinkLabel     = "probe.link"
	EndpointLabel = "probe.endpoint"
	AnchorLabel   = "probe.anchor"
)

// DefaultSize is the number of links created per category
const DefaultSize = 100

// Categories lists the probed link categories in check order
var Categories = []string{CategoryA, CategoryB}

// Target is a member the probe can read from and write through
type Target interface {
	Name() string
	Update(ctx context.Context, fn func(graph.Tx) error) error
	View(ctx context.Context, fn func(graph.Tx) error) error
	PullUpdates(ctx context.Context) error
}

// Fixture names the anchor and the link counts every round must preserve
type Fixture struct {
	AnchorID  uint64 `json:"anchor_id"`
	ExpectedA int    `json:"expected_a"`
	ExpectedB int    `json:"expected_b"`
}

// Expected returns the preserved count for category
func (f Fixture) Expected(category string) int {
	switch category {
	case CategoryA:
		return f.ExpectedA
	case CategoryB:
		return f.ExpectedB
	default:
		return 0
	}
}

// Label encodes a link or endpoint id and the round marker
func Label(ownID, marker uint64) string {
	return fmt.Sprintf("%d-%d", ownID, marker)
}

// StoreTarget adapts a local store to Target. PullUpdates is a no-op.
type StoreTarget struct {
	Store *graph.Store
	Label string
}

// Name returns the target label
func (t StoreTarget) Name() string {
	if t.Label == "" {
		return t.Store.Path()
	}
	return t.Label
}

// Update runs fn in a writable unit of work on the store
func (t StoreTarget) Update(_ context.Context, fn func(graph.Tx) error) error {
	return t.Store.Update(fn)
}

// View runs fn in a read-only unit of work on the store
func (t StoreTarget) View(_ context.Context, fn func(graph.Tx) error) error {
	return t.Store.View(fn)
}

// PullUpdates does nothing; a local store is always current
func (StoreTarget) PullUpdates(context.Context) error {
	return nil
}
