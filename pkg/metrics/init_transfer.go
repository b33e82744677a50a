package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initTransferMetrics() {
	r.TransferBytesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphdb_transfer_bytes_total",
			Help: "Total snapshot bytes moved by state transfer",
		},
		[]string{"direction"}, // sent, received
	)

	r.TransferDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graphdb_transfer_duration_seconds",
			Help:    "Duration of snapshot transfers in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"direction"},
	)

	r.TransfersTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphdb_transfers_total",
			Help: "Total number of snapshot transfers",
		},
		[]string{"direction", "result"},
	)

	r.ArchiveUploadsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphdb_transfer_archive_uploads_total",
			Help: "Total number of snapshot uploads to the archive bucket",
		},
		[]string{"result"},
	)
}
