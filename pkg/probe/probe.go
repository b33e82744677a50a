package probe

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/dd0wney/cluso-rollover/pkg/graph"
	"github.com/dd0wney/cluso-rollover/pkg/logging"
)

// Probe runs probe rounds
type Probe struct {
	logger logging.Logger
}

// New creates a probe. A nil logger disables logging.
func New(logger logging.Logger) *Probe {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Probe{logger: logger.With(logging.Component("probe"))}
}

// Initialize creates the anchor with size links of each category on m
func (p *Probe) Initialize(ctx context.Context, m Target, size int) (Fixture, error) {
	if size < 0 {
		return Fixture{}, fmt.Errorf("fixture size must not be negative: %d", size)
	}
	var f Fixture
	err := m.Update(ctx, func(tx graph.Tx) error {
		anchor, err := tx.CreateNode(map[string]string{AnchorLabel: "true"})
		if err != nil {
			return err
		}
		for _, category := range Categories {
			for i := 0; i < size; i++ {
				if _, err := link(tx, anchor, category); err != nil {
					return err
				}
			}
		}
		f = Fixture{AnchorID: anchor, ExpectedA: size, ExpectedB: size}
		return nil
	})
	if err != nil {
		return Fixture{}, fmt.Errorf("failed to create probe fixture on %s: %w", m.Name(), err)
	}
	p.logger.Info("probe fixture created",
		logging.String("member", m.Name()),
		logging.Uint64("anchor", f.AnchorID),
		logging.Int("size", size))
	return f, nil
}

// Apply runs one probe round against m in a single unit of work and
// returns the round marker
func (p *Probe) Apply(ctx context.Context, m Target, f Fixture) (uint64, error) {
	var marker uint64
	var replaced int
	err := m.Update(ctx, func(tx graph.Tx) error {
		marker, replaced = 0, 0
		for _, category := range Categories {
			edges, err := tx.OutgoingEdges(f.AnchorID, category)
			if err != nil {
				return err
			}
			sortByID(edges)

			half := len(edges) / 2
			for _, e := range edges[:half] {
				if err := tx.DeleteEdge(e.ID); err != nil {
					return err
				}
			}
			for i := 0; i < half; i++ {
				id, err := link(tx, f.AnchorID, category)
				if err != nil {
					return err
				}
				marker = max(marker, id)
			}
			replaced += half
		}

		if marker == 0 {
			// nothing was replaced; the newest link of any type marks the round
			all, err := tx.OutgoingEdges(f.AnchorID)
			if err != nil {
				return err
			}
			for _, e := range all {
				marker = max(marker, e.ID)
			}
		}
		remaining, err := tx.OutgoingEdges(f.AnchorID, Categories...)
		if err != nil {
			return err
		}
		for _, e := range remaining {
			if err := tx.SetEdgeProperty(e.ID, LinkLabel, Label(e.ID, marker)); err != nil {
				return err
			}
			if err := tx.SetNodeProperty(e.To, EndpointLabel, Label(e.To, marker)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("probe round on %s failed: %w", m.Name(), err)
	}
	p.logger.Debug("probe round applied",
		logging.String("member", m.Name()),
		logging.Uint64("marker", marker),
		logging.Int("replaced", replaced))
	return marker, nil
}

// Verify brings m up to date and checks it converged on the round marked
// by roundMarker
func (p *Probe) Verify(ctx context.Context, m Target, f Fixture, roundMarker uint64) error {
	if err := m.PullUpdates(ctx); err != nil {
		return fmt.Errorf("failed to bring %s up to date: %w", m.Name(), err)
	}

	var divergence *Divergence
	err := m.View(ctx, func(tx graph.Tx) error {
		divergence = nil
		edges, err := tx.OutgoingEdges(f.AnchorID)
		if err != nil {
			return err
		}

		var derived uint64
		for _, e := range edges {
			derived = max(derived, e.ID)
		}
		if derived != roundMarker {
			divergence = &Divergence{
				Member:   m.Name(),
				Kind:     KindMarker,
				Expected: strconv.FormatUint(roundMarker, 10),
				Actual:   strconv.FormatUint(derived, 10),
			}
			return nil
		}

		byCategory := make(map[string][]graph.Edge, len(Categories))
		for _, e := range edges {
			byCategory[e.Type] = append(byCategory[e.Type], e)
		}

		for _, category := range Categories {
			got := byCategory[category]
			if want := f.Expected(category); len(got) != want {
				divergence = &Divergence{
					Member:   m.Name(),
					Category: category,
					Kind:     KindCount,
					Expected: strconv.Itoa(want),
					Actual:   strconv.Itoa(len(got)),
				}
				return nil
			}
			for _, e := range got {
				if divergence = checkLink(tx, m.Name(), e, derived); divergence != nil {
					return nil
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to read probe fixture on %s: %w", m.Name(), err)
	}
	if divergence != nil {
		p.logger.Error("probe divergence", logging.Error(divergence))
		return divergence
	}
	p.logger.Debug("probe verified", logging.String("member", m.Name()), logging.Uint64("marker", roundMarker))
	return nil
}

// checkLink compares the labels of one link and its endpoint, each carrying
// its own id
func checkLink(tx graph.Tx, member string, e graph.Edge, marker uint64) *Divergence {
	want := Label(e.ID, marker)
	if got, _ := e.Property(LinkLabel); got != want {
		return &Divergence{
			Member: member, Category: e.Type, Kind: KindLinkLabel,
			Subject: e.ID, Expected: want, Actual: got,
		}
	}
	want = Label(e.To, marker)
	endpoint, err := tx.Node(e.To)
	if err != nil {
		return &Divergence{
			Member: member, Category: e.Type, Kind: KindEndpointLabel,
			Subject: e.To, Expected: want, Actual: err.Error(),
		}
	}
	if got, _ := endpoint.Property(EndpointLabel); got != want {
		return &Divergence{
			Member: member, Category: e.Type, Kind: KindEndpointLabel,
			Subject: e.To, Expected: want, Actual: got,
		}
	}
	return nil
}

// link creates a fresh endpoint and links the anchor to it
func link(tx graph.Tx, anchor uint64, category string) (uint64, error) {
	endpoint, err := tx.CreateNode(nil)
	if err != nil {
		return 0, err
	}
	return tx.CreateEdge(anchor, endpoint, category)
}

func sortByID(edges []graph.Edge) {
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
}
