package health

import (
	"sync"
	"time"
)

// Status is the outcome of a member check
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// worse reports whether s outranks other
func (s Status) worse(other Status) bool {
	return rank[s] > rank[other]
}

var rank = map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}

// Scope selects the endpoints a check contributes to
type Scope uint8

const (
	ScopeStatus Scope = 1 << iota // /health
	ScopeReady                    // /health/ready
	ScopeLive                     // /health/live

	ScopeAll = ScopeStatus | ScopeReady | ScopeLive
)

// Check is the result of one member check
type Check struct {
	Name        string         `json:"name"`
	Status      Status         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	LastChecked time.Time      `json:"last_checked"`
	Duration    time.Duration  `json:"duration_ms"`
}

// CheckFunc produces one check result
type CheckFunc func() Check

type entry struct {
	name  string
	scope Scope
	fn    CheckFunc
}

// Checker runs the checks a member exposes over HTTP
type Checker struct {
	memberID int
	started  time.Time

	mu      sync.RWMutex
	entries []entry
}

// Report is the body served by every health endpoint
type Report struct {
	MemberID  int              `json:"member_id"`
	Status    Status           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Checks    map[string]Check `json:"checks"`
	Uptime    float64          `json:"uptime_seconds"`
}
