// Package observability provides an extension that records OpenTelemetry
// counters for job lifecycle and idempotency-lock events. The engine
// registers it automatically; construct one with NewMetricsExtensionWithMeter
// to attach a specific meter provider.
package observability
