package metrics

import "github.com/prometheus/client_golang/prometheus"

// WorkflowMetrics counts status change attempts and scheduled automations.
type WorkflowMetrics struct {
	transitions *prometheus.CounterVec
	automations *prometheus.CounterVec
	bulkItems   *prometheus.CounterVec
}

// NewWorkflowMetrics registers the workflow metrics on the provided registerer.
func NewWorkflowMetrics(reg prometheus.Registerer) *WorkflowMetrics {
	if reg == nil {
		return &WorkflowMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "workflow",
		Name:      "transitions_total",
		Help:      "Order status change attempts by edge and outcome.",
	}, []string{"from", "to", "result"})
	automations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "workflow",
		Name:      "automations_total",
		Help:      "Scheduled automations by kind and final status.",
	}, []string{"kind", "status"})
	bulkItems := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bulk",
		Name:      "items_total",
		Help:      "Orders processed by bulk operations.",
	}, []string{"intent", "result"})
	reg.MustRegister(transitions, automations, bulkItems)
	return &WorkflowMetrics{
		transitions: transitions,
		automations: automations,
		bulkItems:   bulkItems,
	}
}

// ObserveTransition records one status change attempt. result is "ok" or a failure reason.
func (w *WorkflowMetrics) ObserveTransition(from, to, result string) {
	if w == nil || w.transitions == nil {
		return
	}
	w.transitions.WithLabelValues(labelOrUnknown(from), labelOrUnknown(to), labelOrUnknown(result)).Inc()
}

// ObserveAutomation records how a scheduled automation ended.
func (w *WorkflowMetrics) ObserveAutomation(kind, status string) {
	if w == nil || w.automations == nil {
		return
	}
	w.automations.WithLabelValues(labelOrUnknown(kind), labelOrUnknown(status)).Inc()
}

// ObserveBulkItem records the outcome of one order inside a bulk run.
func (w *WorkflowMetrics) ObserveBulkItem(intent string, ok bool) {
	if w == nil || w.bulkItems == nil {
		return
	}
	result := "failed"
	if ok {
		result = "successful"
	}
	w.bulkItems.WithLabelValues(labelOrUnknown(intent), result).Inc()
}
