package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "clinicops"

var (
	// WebhookEventsTotal counts processed webhook events by kind and outcome.
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "webhook_events_total",
		Help:      "Webhook events by event kind and processing outcome.",
	}, []string{"kind", "outcome"})

	// WebhookDuration tracks webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	SignatureFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "webhook_signature_failures_total",
		Help:      "Webhook deliveries rejected by signature verification.",
	})

	UnmappedStatusTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "unmapped_remote_status_total",
		Help:      "Subscription events carrying a remote status with no local mapping.",
	}, []string{"status"})

	OrphanedEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "orphaned_events_total",
		Help:      "Events that could not be resolved to a tenant.",
	}, []string{"kind"})

	// TransitionsTotal counts applied lifecycle transitions.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "tenant_transitions_total",
		Help:      "Tenant lifecycle transitions by source and target status.",
	}, []string{"from", "to"})

	UpstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "upstream_requests_total",
		Help:      "Payment provider calls by operation and result.",
	}, []string{"operation", "result"})

	EntitlementRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "entitlement_rejections_total",
		Help:      "Resource creations rejected by plan limits.",
	}, []string{"resource"})

	AlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "alerts_total",
		Help:      "Operator alerts raised by name.",
	}, []string{"alert"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "notifications_total",
		Help:      "Billing notification emails by template and result.",
	}, []string{"template", "result"})
)
