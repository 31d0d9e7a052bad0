package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	auditEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_audit_events_total",
		Help: "Total number of audit events written, by severity",
	}, []string{"severity"})
	alertsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_alerts_created_total",
		Help: "Total number of security alerts created",
	})
	incidentsOpenedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_incidents_opened_total",
		Help: "Total number of security incidents opened",
	})
	notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_notifications_total",
		Help: "Total number of notification deliveries, by channel and status",
	}, []string{"channel", "status"})
	webhookEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_webhook_events_total",
		Help: "Total number of identity provider webhook events processed, by type",
	}, []string{"type"})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(
		auditEventsTotal,
		alertsCreatedTotal,
		incidentsOpenedTotal,
		notificationsTotal,
		webhookEventsTotal,
	)
}

// IncAuditEvent increments the audit event counter for a severity.
func IncAuditEvent(severity string) { auditEventsTotal.WithLabelValues(severity).Inc() }

// IncAlertCreated increments the alerts created counter.
func IncAlertCreated() { alertsCreatedTotal.Inc() }

// IncIncidentOpened increments the incidents opened counter.
func IncIncidentOpened() { incidentsOpenedTotal.Inc() }

// IncNotification increments the notification delivery counter.
func IncNotification(channel, status string) {
	notificationsTotal.WithLabelValues(channel, status).Inc()
}

// IncWebhookEvent increments the processed webhook event counter.
func IncWebhookEvent(eventType string) { webhookEventsTotal.WithLabelValues(eventType).Inc() }
