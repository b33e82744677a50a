// Package consistency runs offline structural checks against a member's
// durable state.
package consistency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dd0wney/cluso-rollover/pkg/graph"
	"github.com/dd0wney/cluso-rollover/pkg/logging"
)

// ErrInconsistent is matched by every *Report
var ErrInconsistent = errors.New("store is inconsistent")

// maxProblems caps how many problems a report collects
const maxProblems = 100

// Problem is one structural defect found in a store
type Problem struct {
	Check  string `json:"check"`
	Detail string `json:"detail"`
}

// Report is the result of checking one store. A report with problems is
// also an error.
type Report struct {
	Path      string        `json:"path"`
	Format    int           `json:"format"`
	Seq       uint64        `json:"seq"`
	Nodes     int           `json:"nodes"`
	Edges     int           `json:"edges"`
	Problems  []Problem     `json:"problems,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// OK reports whether no problems were found
func (r *Report) OK() bool {
	return len(r.Problems) == 0
}

// Error implements the error interface
func (r *Report) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d problem(s)", r.Path, len(r.Problems))
	for i, p := range r.Problems {
		if i == 3 {
			fmt.Fprintf(&b, "; ...")
			break
		}
		fmt.Fprintf(&b, "; %s: %s", p.Check, p.Detail)
	}
	return b.String()
}

// Is lets errors.Is match ErrInconsistent
func (r *Report) Is(target error) bool {
	return target == ErrInconsistent
}

func (r *Report) add(check, format string, args ...any) {
	if len(r.Problems) >= maxProblems {
		r.Truncated = true
		return
	}
	r.Problems = append(r.Problems, Problem{Check: check, Detail: fmt.Sprintf(format, args...)})
}

// Checker validates stores at rest
type Checker struct {
	logger  logging.Logger
	timeout time.Duration
}

// NewChecker creates a checker. A nil logger disables logging.
func NewChecker(logger logging.Logger) *Checker {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Checker{logger: logger.With(logging.Component("consistency")), timeout: 5 * time.Second}
}

// Check validates the store in storagePath and returns its *Report as an
// error when any problem is found
func (c *Checker) Check(ctx context.Context, storagePath string) error {
	report, err := c.Inspect(ctx, storagePath)
	if err != nil {
		return err
	}
	if !report.OK() {
		return report
	}
	return nil
}

// Inspect validates the store in storagePath and returns the report. The
// error is non-nil only when the store cannot be read at all.
func (c *Checker) Inspect(ctx context.Context, storagePath string) (*Report, error) {
	start := time.Now()
	report := &Report{Path: storagePath}

	store, err := graph.Open(graph.Options{Path: storagePath, ReadOnly: true, Timeout: c.timeout})
	if err != nil {
		if errors.Is(err, graph.ErrCorruptStore) || errors.Is(err, graph.ErrUnknownFormat) {
			report.add("meta", "%v", err)
			report.Duration = time.Since(start)
			return report, nil
		}
		return nil, fmt.Errorf("open %s: %w", storagePath, err)
	}
	defer store.Close()

	err = store.Inspect(func(r *graph.Reader) error {
		return c.walk(ctx, r, report)
	})
	if err != nil {
		return nil, err
	}
	report.Duration = time.Since(start)

	c.logger.Info("consistency check finished",
		logging.Path(storagePath),
		logging.Int("format", report.Format),
		logging.Seq(report.Seq),
		logging.Int("problems", len(report.Problems)),
		logging.Latency(report.Duration),
	)
	return report, nil
}

func (c *Checker) walk(ctx context.Context, r *graph.Reader, report *Report) error {
	for _, err := range r.Check() {
		report.add("pages", "%v", err)
	}

	meta, err := r.Meta()
	if err != nil {
		report.add("meta", "%v", err)
		return nil
	}
	report.Format = meta.Format
	report.Seq = meta.Seq
	if meta.Format < graph.MinFormat || meta.Format > graph.CurrentFormat {
		report.add("meta", "unsupported format %d", meta.Format)
		return nil
	}
	for _, name := range []string{"nodes", "edges", "out", "in", "log"} {
		if !r.HasBucket(name) {
			report.add("meta", "missing bucket %s", name)
		}
	}
	if meta.Format >= 2 && !r.HasBucket("degree") {
		report.add("meta", "missing bucket degree")
	}
	if !report.OK() {
		return nil
	}

	steps := []func(context.Context, *graph.Reader, graph.Meta, *Report) error{
		checkNodes,
		checkEdges,
		checkLog,
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step(ctx, r, meta, report); err != nil {
			return err
		}
	}
	return nil
}

func checkNodes(_ context.Context, r *graph.Reader, meta graph.Meta, report *Report) error {
	return r.ForEachNode(func(id uint64, n graph.Node, err error) error {
		report.Nodes++
		if err != nil {
			report.add("nodes", "node %d: %v", id, err)
			return nil
		}
		if n.ID != id {
			report.add("nodes", "node key %d holds record for %d", id, n.ID)
		}
		if id >= meta.NextNode {
			report.add("counters", "node %d not below next node id %d", id, meta.NextNode)
		}
		return nil
	})
}

type adjacencyKey struct {
	node, edge uint64
}

func checkEdges(ctx context.Context, r *graph.Reader, meta graph.Meta, report *Report) error {
	outgoing := make(map[adjacencyKey]string)
	incoming := make(map[adjacencyKey]string)
	if err := r.ForEachOutgoing(func(a graph.Adjacency) error {
		outgoing[adjacencyKey{a.NodeID, a.EdgeID}] = a.Type
		return nil
	}); err != nil {
		return err
	}
	if err := r.ForEachIncoming(func(a graph.Adjacency) error {
		incoming[adjacencyKey{a.NodeID, a.EdgeID}] = a.Type
		return nil
	}); err != nil {
		return err
	}

	degrees := make(map[string]uint64)
	err := r.ForEachEdge(func(id uint64, e graph.Edge, err error) error {
		report.Edges++
		if err != nil {
			report.add("edges", "edge %d: %v", id, err)
			return nil
		}
		if e.ID != id {
			report.add("edges", "edge key %d holds record for %d", id, e.ID)
		}
		if id >= meta.NextEdge {
			report.add("counters", "edge %d not below next edge id %d", id, meta.NextEdge)
		}
		if !r.NodeExists(e.From) {
			report.add("edges", "edge %d starts at missing node %d", id, e.From)
		}
		if !r.NodeExists(e.To) {
			report.add("edges", "edge %d ends at missing node %d", id, e.To)
		}

		out := adjacencyKey{e.From, id}
		if typ, ok := outgoing[out]; !ok {
			report.add("adjacency", "edge %d missing from outgoing index of node %d", id, e.From)
		} else {
			if typ != e.Type {
				report.add("adjacency", "edge %d outgoing type %q, record type %q", id, typ, e.Type)
			}
			delete(outgoing, out)
		}
		in := adjacencyKey{e.To, id}
		if typ, ok := incoming[in]; !ok {
			report.add("adjacency", "edge %d missing from incoming index of node %d", id, e.To)
		} else {
			if typ != e.Type {
				report.add("adjacency", "edge %d incoming type %q, record type %q", id, typ, e.Type)
			}
			delete(incoming, in)
		}
		degrees[degreeKey(e.From, e.Type)]++
		return ctx.Err()
	})
	if err != nil {
		return err
	}

	for k := range outgoing {
		report.add("adjacency", "outgoing index of node %d references missing edge %d", k.node, k.edge)
	}
	for k := range incoming {
		report.add("adjacency", "incoming index of node %d references missing edge %d", k.node, k.edge)
	}

	if meta.Format < 2 {
		return nil
	}
	err = r.ForEachDegree(func(nodeID uint64, edgeType string, count uint64) error {
		k := degreeKey(nodeID, edgeType)
		if want := degrees[k]; want != count {
			report.add("degree", "node %d type %q counter %d, actual %d", nodeID, edgeType, count, want)
		}
		delete(degrees, k)
		return nil
	})
	if err != nil {
		return err
	}
	for k, n := range degrees {
		report.add("degree", "no counter for %s (actual %d)", k, n)
	}
	return nil
}

func degreeKey(nodeID uint64, edgeType string) string {
	return fmt.Sprintf("node %d type %q", nodeID, edgeType)
}

func checkLog(_ context.Context, r *graph.Reader, meta graph.Meta, report *Report) error {
	var expect, last uint64
	err := r.ForEachLogEntry(func(seq uint64, entry graph.LogEntry, err error) error {
		if err != nil {
			report.add("log", "entry %d: %v", seq, err)
		} else if entry.Seq != seq {
			report.add("log", "entry key %d holds sequence %d", seq, entry.Seq)
		}
		// A store seeded from a peer snapshot may start its log anywhere,
		// but it must be gapless from there on.
		if expect != 0 && seq != expect {
			report.add("log", "gap before sequence %d (expected %d)", seq, expect)
		}
		expect = seq + 1
		last = seq
		return nil
	})
	if err != nil {
		return err
	}
	if last != meta.Seq {
		report.add("log", "last log entry %d, applied sequence %d", last, meta.Seq)
	}
	return nil
}
