package probe

import (
	"errors"
	"fmt"
)

// ErrDivergence matches every *Divergence
var ErrDivergence = errors.New("probe divergence")

// Divergence kinds
const (
	KindCount         = "count"
	KindLinkLabel     = "link-label"
	KindEndpointLabel = "endpoint-label"
	KindMarker        = "marker"
)

// Divergence is a probe check that failed on one member
type Divergence struct {
	Member   string
	Category string // empty for marker checks
	Kind     string
	Subject  uint64 // link or endpoint id for label checks
	Expected string
	Actual   string
}

func (d *Divergence) Error() string {
	switch {
	case d.Subject != 0:
		return fmt.Sprintf("%v on %s: %s %s %d: expected %q, got %q",
			ErrDivergence, d.Member, d.Category, d.Kind, d.Subject, d.Expected, d.Actual)
	case d.Category != "":
		return fmt.Sprintf("%v on %s: %s %s: expected %s, got %s",
			ErrDivergence, d.Member, d.Category, d.Kind, d.Expected, d.Actual)
	default:
		return fmt.Sprintf("%v on %s: %s: expected %s, got %s",
			ErrDivergence, d.Member, d.Kind, d.Expected, d.Actual)
	}
}

// Is reports whether target is ErrDivergence
func (d *Divergence) Is(target error) bool {
	return target == ErrDivergence
}
