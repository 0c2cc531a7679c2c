package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RecordActionEvent adds a span event for a cloud call
func RecordActionEvent(span trace.Span, action, resourceID, outcome, message string) {
	if span == nil {
		return
	}

	span.AddEvent("snapwarden.action", trace.WithAttributes(
		attribute.String("event.type", "snapwarden.action"),
		attribute.String("action", action),
		attribute.String("resource.id", resourceID),
		attribute.String("outcome", outcome),
		attribute.String("message", message),
	))
}

// RecordSkipEvent adds a span event for a resource that was left alone
func RecordSkipEvent(span trace.Span, resourceID, reason string) {
	if span == nil {
		return
	}

	span.AddEvent("snapwarden.skip", trace.WithAttributes(
		attribute.String("event.type", "snapwarden.skip"),
		attribute.String("resource.id", resourceID),
		attribute.String("reason", reason),
	))
}
