package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for one process or one in-process member
type Registry struct {
	// Rollover Metrics (coordinator)
	RolloverStepsTotal       *prometheus.CounterVec
	RolloverStepDuration     *prometheus.HistogramVec
	RolloverStoppedMembers   prometheus.Gauge
	RolloverMigratedMembers  prometheus.Gauge
	RolloverProbeRoundsTotal *prometheus.CounterVec
	RolloverValidationsTotal *prometheus.CounterVec
	RolloverRunsTotal        *prometheus.CounterVec

	// Member Metrics (daemon)
	MemberRole           *prometheus.GaugeVec
	MemberAppliedSeq     prometheus.Gauge
	MemberCommitsTotal   prometheus.Counter
	MemberPullsTotal     *prometheus.CounterVec
	MemberSessionsOpen   prometheus.Gauge
	MemberRequestsTotal  *prometheus.CounterVec
	MemberElectionsTotal *prometheus.CounterVec

	// Transfer Metrics (backup endpoint and client)
	TransferBytesTotal  *prometheus.CounterVec
	TransferDuration    *prometheus.HistogramVec
	TransfersTotal      *prometheus.CounterVec
	ArchiveUploadsTotal *prometheus.CounterVec

	// System Metrics
	UptimeSeconds  prometheus.Gauge
	GoRoutines     prometheus.Gauge
	HeapAllocBytes prometheus.Gauge
	StoreObjects   *prometheus.GaugeVec
	StoreInfo      *prometheus.GaugeVec

	registry *prometheus.Registry
	started  time.Time
	mu       sync.Mutex
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)
