// Package metrics holds the Prometheus collectors exported by the chat service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dmchat"

// Collectors groups the counters updated by message operations. A nil
// *Collectors is valid and records nothing.
type Collectors struct {
	MessagesCreated     *prometheus.CounterVec
	StatusTransitions   *prometheus.CounterVec
	InboxBuilds         prometheus.Counter
	BulkUpgradeFailures prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		MessagesCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_created_total",
			Help:      "Messages persisted, by kind and initial delivery status.",
		}, []string{"kind", "status"}),
		StatusTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Messages advanced to a delivery status.",
		}, []string{"to"}),
		InboxBuilds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbox_builds_total",
			Help:      "Completed inbox aggregations.",
		}),
		BulkUpgradeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_upgrade_failures_total",
			Help:      "Inbox sent->delivered batch writes that failed and were skipped.",
		}),
	}
}

// ObserveCreated counts one created message.
func (c *Collectors) ObserveCreated(kind, status string) {
	if c == nil {
		return
	}
	c.MessagesCreated.WithLabelValues(kind, status).Inc()
}

// ObserveTransitions counts n messages advanced to status.
func (c *Collectors) ObserveTransitions(status string, n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.StatusTransitions.WithLabelValues(status).Add(float64(n))
}

// ObserveInbox counts one inbox build.
func (c *Collectors) ObserveInbox() {
	if c == nil {
		return
	}
	c.InboxBuilds.Inc()
}

// ObserveBulkUpgradeFailure counts one skipped best-effort upgrade.
func (c *Collectors) ObserveBulkUpgradeFailure() {
	if c == nil {
		return
	}
	c.BulkUpgradeFailures.Inc()
}
