// Package otel provides OpenTelemetry instrumentation utilities for the coordinator.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by spans across the coordination packages.
const (
	AttrProfileID = attribute.Key("ocr.profile_id")
	AttrUnitID    = attribute.Key("ocr.unit_id")
	AttrOwnerID   = attribute.Key("ocr.owner_id")
	AttrJobID     = attribute.Key("ocr.job_id")
	AttrWorkerID  = attribute.Key("ocr.worker_id")
	AttrDecision  = attribute.Key("ocr.decision")
	AttrReason    = attribute.Key("ocr.reason")
	AttrStatus    = attribute.Key("ocr.status")
	AttrCount     = attribute.Key("result.count")
)

// StartSpan starts a new span if the tracer is non-nil, otherwise returns a no-op span.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records an error on a span and sets the span status to error.
// It safely handles nil spans and nil errors. The status description stays
// generic so that query text and connection details never reach span status;
// the error itself is kept as a span event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
