package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initMemberMetrics() {
	r.MemberRole = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "graphdb_member_role",
			Help: "Member role in cluster (1 for current role, 0 otherwise)",
		},
		[]string{"role"}, // leader, follower, candidate
	)

	r.MemberAppliedSeq = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "graphdb_member_applied_seq",
			Help: "Last replication log sequence applied to the local store",
		},
	)

	r.MemberCommitsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "graphdb_member_commits_total",
			Help: "Total number of log entries committed or applied locally",
		},
	)

	r.MemberPullsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphdb_member_pulls_total",
			Help: "Total number of replication pulls from the leader",
		},
		[]string{"result"},
	)

	r.MemberSessionsOpen = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "graphdb_member_sessions_open",
			Help: "Number of remote units of work currently open",
		},
	)

	r.MemberRequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphdb_member_requests_total",
			Help: "Total number of RPC requests handled",
		},
		[]string{"op", "result"},
	)

	r.MemberElectionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphdb_member_elections_total",
			Help: "Total number of elections started by this member",
		},
		[]string{"result"}, // won, lost
	)
}
