package client

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "pkt.systems/fmg/client"

type telemetry struct {
	tracer   trace.Tracer
	requests metric.Int64Counter
	retries  metric.Int64Counter
	polls    metric.Int64Counter
}

func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) *telemetry {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	t := &telemetry{tracer: tp.Tracer(instrumentationName)}
	// Instrument creation only fails on invalid names; fall back to no-ops.
	var err error
	if t.requests, err = meter.Int64Counter("fmg.client.requests",
		metric.WithDescription("JSON-RPC requests sent, by method and outcome")); err != nil {
		t.requests = nil
	}
	if t.retries, err = meter.Int64Counter("fmg.client.retries",
		metric.WithDescription("Requests retried by the auth and lock policies")); err != nil {
		t.retries = nil
	}
	if t.polls, err = meter.Int64Counter("fmg.client.task_polls",
		metric.WithDescription("Task status polls")); err != nil {
		t.polls = nil
	}
	return t
}

func (t *telemetry) startRPC(ctx context.Context, method, url string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "fmg.rpc "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rpc.system", "jsonrpc"),
			attribute.String("rpc.method", method),
			attribute.String("fmg.url", url),
		),
	)
}

func (t *telemetry) endRPC(ctx context.Context, span trace.Span, method string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	if t.requests != nil {
		t.requests.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("outcome", outcome),
		))
	}
}

func (t *telemetry) retried(ctx context.Context, policy string) {
	trace.SpanFromContext(ctx).AddEvent("fmg.retry", trace.WithAttributes(attribute.String("policy", policy)))
	if t.retries != nil {
		t.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("policy", policy)))
	}
}

func (t *telemetry) polled(ctx context.Context, state string) {
	if t.polls != nil {
		t.polls.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
	}
}
