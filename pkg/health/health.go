// Package health serves a member's /health endpoints. Each check is
// registered once with the scopes it feeds.
package health

import (
	"slices"
	"time"
)

// NewChecker returns a checker reporting for memberID
func NewChecker(memberID int) *Checker {
	return &Checker{memberID: memberID, started: time.Now()}
}

// Add registers fn under name for the given scopes. Adding a name twice
// replaces the earlier check.
func (c *Checker) Add(name string, scope Scope, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = slices.DeleteFunc(c.entries, func(e entry) bool { return e.name == name })
	c.entries = append(c.entries, entry{name: name, scope: scope, fn: fn})
}

// Run evaluates every check in scope. The report takes the worst status;
// an empty scope is healthy.
func (c *Checker) Run(scope Scope) Report {
	c.mu.RLock()
	var selected []entry
	for _, e := range c.entries {
		if e.scope&scope != 0 {
			selected = append(selected, e)
		}
	}
	c.mu.RUnlock()

	report := Report{
		MemberID:  c.memberID,
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]Check, len(selected)),
		Uptime:    time.Since(c.started).Seconds(),
	}
	for _, e := range selected {
		start := time.Now()
		check := e.fn()
		check.Duration = time.Since(start)
		check.LastChecked = start
		if check.Name == "" {
			check.Name = e.name
		}
		report.Checks[e.name] = check
		if check.Status.worse(report.Status) {
			report.Status = check.Status
		}
	}
	return report
}
