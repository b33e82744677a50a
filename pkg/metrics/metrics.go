package metrics

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Member roles as exported on MemberRole
var memberRoles = []string{"leader", "follower", "candidate"}

// DefaultRegistry returns the process-wide registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a registry with every metric registered
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		started:  time.Now(),
	}

	r.initRolloverMetrics()
	r.initMemberMetrics()
	r.initTransferMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// RecordStep records one replace step of the given strategy
func (r *Registry) RecordStep(strategy string, duration time.Duration, err error) {
	r.RolloverStepsTotal.WithLabelValues(strategy, result(err)).Inc()
	r.RolloverStepDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordProbeRound records one probe round
func (r *Registry) RecordProbeRound(err error) {
	r.RolloverProbeRoundsTotal.WithLabelValues(result(err)).Inc()
}

// RecordValidation records one final consistency validation
func (r *Registry) RecordValidation(err error) {
	r.RolloverValidationsTotal.WithLabelValues(result(err)).Inc()
}

// RecordRun records the outcome of a whole migration
func (r *Registry) RecordRun(err error) {
	r.RolloverRunsTotal.WithLabelValues(result(err)).Inc()
}

// SetMemberRole marks the member's current role
func (r *Registry) SetMemberRole(role string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, known := range memberRoles {
		r.MemberRole.WithLabelValues(known).Set(0)
	}
	r.MemberRole.WithLabelValues(role).Set(1)
}

// RecordRequest records one RPC request handled by a member
func (r *Registry) RecordRequest(op string, err error) {
	r.MemberRequestsTotal.WithLabelValues(op, result(err)).Inc()
}

// RecordPull records one replication pull with the entries applied
func (r *Registry) RecordPull(applied int, err error) {
	r.MemberPullsTotal.WithLabelValues(result(err)).Inc()
	if err == nil && applied > 0 {
		r.MemberCommitsTotal.Add(float64(applied))
	}
}

// RecordTransfer records one snapshot transfer. direction is "sent" or
// "received".
func (r *Registry) RecordTransfer(direction string, bytes int64, duration time.Duration, err error) {
	r.TransfersTotal.WithLabelValues(direction, result(err)).Inc()
	r.TransferDuration.WithLabelValues(direction).Observe(duration.Seconds())
	if bytes > 0 {
		r.TransferBytesTotal.WithLabelValues(direction).Add(float64(bytes))
	}
}

// RecordArchive records one snapshot archive upload
func (r *Registry) RecordArchive(err error) {
	r.ArchiveUploadsTotal.WithLabelValues(result(err)).Inc()
}

// UpdateSystemMetrics refreshes the process gauges and the store counts
func (r *Registry) UpdateSystemMetrics(nodes, edges int) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	r.UptimeSeconds.Set(time.Since(r.started).Seconds())
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))
	r.HeapAllocBytes.Set(float64(ms.HeapAlloc))
	r.StoreObjects.WithLabelValues("node").Set(float64(nodes))
	r.StoreObjects.WithLabelValues("edge").Set(float64(edges))
}

// SetStoreInfo publishes the version and store format a member runs.
// Earlier label sets are dropped so only the current pair reads 1.
func (r *Registry) SetStoreInfo(version string, format int) {
	r.StoreInfo.Reset()
	r.StoreInfo.WithLabelValues(version, strconv.Itoa(format)).Set(1)
}

// RecordElection records the outcome of an election this member started
func (r *Registry) RecordElection(won bool) {
	label := "lost"
	if won {
		label = "won"
	}
	r.MemberElectionsTotal.WithLabelValues(label).Inc()
}
