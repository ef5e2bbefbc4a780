package metrics

import "github.com/prometheus/client_golang/prometheus"

// RealtimeMetrics tracks delivery through the realtime transport.
type RealtimeMetrics struct {
	delivered  *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	reconnects *prometheus.CounterVec
	channels   prometheus.Gauge
}

// NewRealtimeMetrics registers the realtime metrics on the provided registerer.
func NewRealtimeMetrics(reg prometheus.Registerer) *RealtimeMetrics {
	if reg == nil {
		return &RealtimeMetrics{}
	}
	delivered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "delivered_total",
		Help:      "Events delivered to subscribers by channel category.",
	}, []string{"category"})
	dropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "dropped_total",
		Help:      "Events dropped by channel category and reason.",
	}, []string{"category", "reason"})
	reconnects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "reconnects_total",
		Help:      "Reconnect attempts by channel category.",
	}, []string{"category"})
	channels := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "channels",
		Help:      "Currently registered channels.",
	})
	reg.MustRegister(delivered, dropped, reconnects, channels)
	return &RealtimeMetrics{
		delivered:  delivered,
		dropped:    dropped,
		reconnects: reconnects,
		channels:   channels,
	}
}

func (r *RealtimeMetrics) IncDelivered(category string) {
	if r == nil || r.delivered == nil {
		return
	}
	r.delivered.WithLabelValues(labelOrUnknown(category)).Inc()
}

func (r *RealtimeMetrics) IncDropped(category, reason string) {
	if r == nil || r.dropped == nil {
		return
	}
	r.dropped.WithLabelValues(labelOrUnknown(category), labelOrUnknown(reason)).Inc()
}

func (r *RealtimeMetrics) IncReconnect(category string) {
	if r == nil || r.reconnects == nil {
		return
	}
	r.reconnects.WithLabelValues(labelOrUnknown(category)).Inc()
}

func (r *RealtimeMetrics) SetChannels(n int) {
	if r == nil || r.channels == nil {
		return
	}
	r.channels.Set(float64(n))
}
