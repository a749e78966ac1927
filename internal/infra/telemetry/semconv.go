// Package telemetry provides OpenTelemetry initialisation, semantic conventions and connection metrics
// for feedlink.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for feedlink telemetry.
// Following OpenTelemetry naming conventions: namespace.attribute_name

const (
	// AttrEnvironment specifies the deployment environment (dev/staging/prod) for every metric.
	AttrEnvironment = attribute.Key("environment")
	// AttrExchange identifies which exchange produced the signal.
	AttrExchange = attribute.Key("exchange")
	// AttrProcessor names the processor that handled a frame, or "none".
	AttrProcessor = attribute.Key("processor")
	// AttrOutcome records the dispatch outcome (success, warning, error).
	AttrOutcome = attribute.Key("outcome")
	// AttrResult records the outcome of a transport operation.
	AttrResult = attribute.Key("result")
	// AttrConnectionState labels connection lifecycle signals (CONNECTED, RECONNECTING, ...).
	AttrConnectionState = attribute.Key("connection.state")
	// AttrBreakerState labels circuit breaker transitions.
	AttrBreakerState = attribute.Key("breaker.state")
)

// Result values
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// ConnectionAttributes returns the attributes shared by connection metrics.
func ConnectionAttributes(environment, exchange string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrExchange.String(exchange),
	}
}

// FrameAttributes returns attributes for dispatched frame metrics.
func FrameAttributes(environment, exchange, processor, outcome string) []attribute.KeyValue {
	return append(ConnectionAttributes(environment, exchange),
		AttrProcessor.String(processor),
		AttrOutcome.String(outcome),
	)
}
