package health

import "fmt"

// Member health check functions

// StoreCheck reports whether the member's store answers reads
func StoreCheck(ping func() error) CheckFunc {
	return func() Check {
		check := Check{Name: "store"}
		if err := ping(); err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
		} else {
			check.Status = StatusHealthy
			check.Message = "Open"
		}
		return check
	}
}

// RoleCheck reports whether the member knows its role. A follower
// without a leader is degraded until an election settles.
func RoleCheck(getRole func() (role string, leaderID int)) CheckFunc {
	return func() Check {
		role, leaderID := getRole()
		check := Check{
			Name:    "role",
			Details: map[string]any{"role": role, "leader_id": leaderID},
		}

		switch {
		case role == "leader":
			check.Status = StatusHealthy
			check.Message = "Leading"
		case role == "follower" && leaderID >= 0:
			check.Status = StatusHealthy
			check.Message = fmt.Sprintf("Following member %d", leaderID)
		case role == "candidate" || role == "follower":
			check.Status = StatusDegraded
			check.Message = "No leader known"
		default:
			check.Status = StatusUnhealthy
			check.Message = "Role unknown"
		}
		return check
	}
}

// ReplicationLagCheck compares the applied sequence with the last leader
// sequence seen. Leaders report no lag.
func ReplicationLagCheck(maxLag uint64, getState func() (leader bool, applied, leaderSeq uint64)) CheckFunc {
	return func() Check {
		leader, applied, leaderSeq := getState()
		check := Check{
			Name:    "replication",
			Details: map[string]any{"applied_seq": applied, "leader_seq": leaderSeq},
		}

		var lag uint64
		if !leader && leaderSeq > applied {
			lag = leaderSeq - applied
		}
		check.Details["lag"] = lag

		switch {
		case leader:
			check.Status = StatusHealthy
			check.Message = "Leader"
		case lag > maxLag:
			check.Status = StatusDegraded
			check.Message = "High replication lag"
		default:
			check.Status = StatusHealthy
			check.Message = "Replication healthy"
		}
		return check
	}
}
