package rollover

import (
	"fmt"
	"sort"
	"strings"
)

// Strategy is how a member gets its store on the new version
type Strategy string

const (
	// StrategyBootstrapEmpty starts the member on fresh storage and lets it
	// catch up from the leader
	StrategyBootstrapEmpty Strategy = "bootstrap-empty-and-join"
	// StrategyCopyFromPeer seeds the member's storage from a migrated peer
	StrategyCopyFromPeer Strategy = "copy-from-peer"
	// StrategyWipeAndRejoin clears the member's storage before it rejoins
	StrategyWipeAndRejoin Strategy = "wipe-and-rejoin"
)

// PlanEntry is one member replacement
type PlanEntry struct {
	MemberID int      `json:"member_id"`
	Strategy Strategy `json:"strategy"`
	SourceID int      `json:"source_id,omitempty"` // copy-from-peer only
}

func (e PlanEntry) String() string {
	if e.Strategy == StrategyCopyFromPeer {
		return fmt.Sprintf("replace member %d: %s from member %d", e.MemberID, e.Strategy, e.SourceID)
	}
	return fmt.Sprintf("replace member %d: %s", e.MemberID, e.Strategy)
}

// Plan is the ordered replacement of every member, leader last
type Plan struct {
	From     Version
	To       Version
	LeaderID int
	Entries  []PlanEntry
}

// BuildPlan orders the replacement of ids. Non-leaders go first in
// ascending id order: the first starts empty and each later one copies
// from the non-leader replaced before it. The leader is wiped last.
func BuildPlan(ids []int, leaderID int) (*Plan, error) {
	if len(ids) == 0 {
		return nil, ErrEmptyCluster
	}

	sorted := append([]int(nil), ids...)
	sort.Ints(sorted)

	found := false
	for i, id := range sorted {
		if i > 0 && sorted[i-1] == id {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateMember, id)
		}
		if id == leaderID {
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %d", ErrLeaderNotMember, leaderID)
	}

	plan := &Plan{LeaderID: leaderID, Entries: make([]PlanEntry, 0, len(sorted))}
	previous := NoMember
	for _, id := range sorted {
		if id == leaderID {
			continue
		}
		entry := PlanEntry{MemberID: id, Strategy: StrategyBootstrapEmpty}
		if previous != NoMember {
			entry.Strategy = StrategyCopyFromPeer
			entry.SourceID = previous
		}
		plan.Entries = append(plan.Entries, entry)
		previous = id
	}
	plan.Entries = append(plan.Entries, PlanEntry{MemberID: leaderID, Strategy: StrategyWipeAndRejoin})
	return plan, nil
}

const (
	branchString       = "├──"
	lastBranchString   = "└──"
	nestedBranchString = "│   "
	lastBranchPadding  = "    "
)

// PrettyPrint renders the plan as a tree with one numbered step per member
func (p *Plan) PrettyPrint() string {
	var out strings.Builder
	fmt.Fprintf(&out, "rolling migration plan from %s to %s (leader: member %d):\n", p.From, p.To, p.LeaderID)
	for i, entry := range p.Entries {
		prefix := treeBranch(i, len(p.Entries))
		fmt.Fprintf(&out, "%s %s (%d)\n", prefix, entry, i+1)

		nested := nestedBranchString
		if i == len(p.Entries)-1 {
			nested = lastBranchPadding
		}
		actions := entry.actions()
		for j, action := range actions {
			fmt.Fprintf(&out, "%s%s %s\n", nested, treeBranch(j, len(actions)), action)
		}
	}
	return out.String()
}

// actions lists what the coordinator does for the entry
func (e PlanEntry) actions() []string {
	actions := []string{"stop", "wait for stabilization"}
	switch e.Strategy {
	case StrategyBootstrapEmpty:
		actions = append(actions, "start on fresh storage")
	case StrategyCopyFromPeer:
		actions = append(actions, fmt.Sprintf("copy store from member %d", e.SourceID), "start on copied storage")
	case StrategyWipeAndRejoin:
		actions = append(actions, "wipe storage", "start on empty storage")
	}
	return append(actions, "wait for join", "apply and verify probe round")
}

func treeBranch(idx, n int) string {
	if idx == n-1 {
		return lastBranchString
	}
	return branchString
}
