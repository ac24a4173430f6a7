package hub

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	cycles   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	events   *prometheus.CounterVec
	devices  prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicekit_cycles_total",
			Help: "Acquisition cycles by device and result code.",
		}, []string{"device", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "devicekit_cycle_seconds",
			Help:    "Duration of full acquisition cycles.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"device"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicekit_events_total",
			Help: "Device notifications delivered to the hub.",
		}, []string{"device", "type"}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "devicekit_devices",
			Help: "Devices owned by the hub.",
		}),
	}
	reg.MustRegister(m.cycles, m.duration, m.events, m.devices)
	return m
}
