package metrics

import (
	"net/http"
	"time"
)

// Metrics interface for dependency injection
type Metrics interface {
	RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration)
	RecordSyncRun(syncer, status string, duration time.Duration)
	RecordWebhookEvent(eventType, status string)
	RecordRedirect(origin, outcome string)
	RecordStoreOp(operation, table, status string)
	SetDBConnectionsActive(count float64)
	RecordDBQuery(operation, status string)
	Handler() http.Handler
}

// NoOpMetrics provides a no-op implementation
type NoOpMetrics struct{}

func (m *NoOpMetrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
}
func (m *NoOpMetrics) RecordSyncRun(syncer, status string, duration time.Duration) {}
func (m *NoOpMetrics) RecordWebhookEvent(eventType, status string)                 {}
func (m *NoOpMetrics) RecordRedirect(origin, outcome string)                       {}
func (m *NoOpMetrics) RecordStoreOp(operation, table, status string)               {}
func (m *NoOpMetrics) SetDBConnectionsActive(count float64)                        {}
func (m *NoOpMetrics) RecordDBQuery(operation, status string)                      {}
func (m *NoOpMetrics) Handler() http.Handler                                       { return http.NotFoundHandler() }

// Global metrics instance
var globalMetrics Metrics = &NoOpMetrics{}

// Init installs m as the global sink. A nil m restores the no-op sink.
func Init(m Metrics) {
	if m == nil {
		m = &NoOpMetrics{}
	}
	globalMetrics = m
}

// Handler returns the metrics handler
func Handler() http.Handler {
	return globalMetrics.Handler()
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	globalMetrics.RecordHTTPRequest(method, endpoint, statusCode, duration)
}

// RecordSyncRun records one synchronizer run
func RecordSyncRun(syncer, status string, duration time.Duration) {
	globalMetrics.RecordSyncRun(syncer, status, duration)
}

// RecordWebhookEvent records a dispatched webhook event
func RecordWebhookEvent(eventType, status string) {
	globalMetrics.RecordWebhookEvent(eventType, status)
}

// RecordRedirect records the outcome of a signed redirect
func RecordRedirect(origin, outcome string) {
	globalMetrics.RecordRedirect(origin, outcome)
}

// RecordStoreOp records a dispatcher write
func RecordStoreOp(operation, table, status string) {
	globalMetrics.RecordStoreOp(operation, table, status)
}

// SetDBConnectionsActive sets the number of active database connections
func SetDBConnectionsActive(count float64) {
	globalMetrics.SetDBConnectionsActive(count)
}

// RecordDBQuery records database query metrics
func RecordDBQuery(operation, status string) {
	globalMetrics.RecordDBQuery(operation, status)
}
