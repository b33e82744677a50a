package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// initSystemMetrics registers process and store gauges sampled on a timer
func (r *Registry) initSystemMetrics() {
	f := promauto.With(r.registry)

	r.UptimeSeconds = f.NewGauge(prometheus.GaugeOpts{
		Name: "graphdb_process_uptime_seconds",
		Help: "Seconds since the member process started",
	})
	r.GoRoutines = f.NewGauge(prometheus.GaugeOpts{
		Name: "graphdb_process_goroutines",
		Help: "Goroutines currently running",
	})
	r.HeapAllocBytes = f.NewGauge(prometheus.GaugeOpts{
		Name: "graphdb_process_heap_alloc_bytes",
		Help: "Heap bytes in use",
	})
	r.StoreObjects = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "graphdb_store_objects",
		Help: "Nodes and edges held by the member store",
	}, []string{"kind"})
	r.StoreInfo = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "graphdb_store_info",
		Help: "Constant 1, labelled with the running version and store format",
	}, []string{"version", "format"})
}
