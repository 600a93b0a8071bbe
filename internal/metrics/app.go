// Package metrics emits application metrics through the global telemetry
// system. All helpers are nil-safe so CLI commands that never initialize
// telemetry can share code paths with serve mode.
package metrics

import (
	"time"

	"github.com/quotapilot/quotapilot/internal/core"
	"github.com/quotapilot/quotapilot/internal/observability"
)

// Application-level metrics following Prometheus conventions
var (
	// Run journal metrics
	RunEventsTotal = "app_run_events_total"

	// Governor gauges, mirrored from core.Telemetry
	GovernedRequestsTotal = "app_governed_requests_total"
	ThrottlesTotal        = "app_throttles_total"
	SystemPausesTotal     = "app_system_pauses_total"
	GovernorDelayMs       = "app_governor_delay_ms"
	GovernorRateLimitPct  = "app_governor_rate_limit_rate"

	// Health check metrics
	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"

	// Server lifecycle metrics
	ServerStartTime = "app_server_start_time_seconds"
	ServerUptime    = "app_server_uptime_seconds"
)

// RecordRunEvent counts one journaled run event: rotations, system pauses,
// sweep deletions, exhaustion markers and resets all land here, labeled by
// kind and identity.
func RecordRunEvent(kind core.EventKind, identity string) {
	if observability.TelemetrySystem == nil {
		return
	}

	labels := map[string]string{"kind": string(kind)}
	if identity != "" {
		labels["identity"] = identity
	}
	_ = observability.TelemetrySystem.Counter(RunEventsTotal, 1, labels)
}

// SetGovernorTelemetry publishes the governor's live counters as gauges.
// The governor owns the counts; this mirrors them for scraping.
func SetGovernorTelemetry(stats core.Telemetry) {
	if observability.TelemetrySystem == nil {
		return
	}

	_ = observability.TelemetrySystem.Gauge(
		GovernedRequestsTotal,
		float64(stats.TotalRequests),
		nil,
	)
	_ = observability.TelemetrySystem.Gauge(
		ThrottlesTotal,
		float64(stats.Total429s),
		nil,
	)
	_ = observability.TelemetrySystem.Gauge(
		SystemPausesTotal,
		float64(stats.SystemPauses),
		nil,
	)
	_ = observability.TelemetrySystem.Gauge(
		GovernorDelayMs,
		float64(stats.CurrentDelay.Milliseconds()),
		nil,
	)
	_ = observability.TelemetrySystem.Gauge(
		GovernorRateLimitPct,
		stats.RateLimitRate,
		nil,
	)
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			HealthCheckDuration,
			duration,
			map[string]string{
				"check": checkName,
			},
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}

// SetServerUptime records the server uptime in seconds
func SetServerUptime(seconds int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerUptime,
			float64(seconds),
			nil,
		)
	}
}
