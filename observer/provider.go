package observer

import (
	"context"
	"time"

	castellan "github.com/castellan-ai/castellan"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedProvider wraps a castellan.Provider with OTEL instrumentation.
type ObservedProvider struct {
	inner castellan.Provider
	inst  *Instruments
	name  string
}

// Compile-time interface check.
var _ castellan.Provider = (*ObservedProvider)(nil)

// WrapProvider returns an instrumented provider that emits traces, metrics, and logs.
func WrapProvider(inner castellan.Provider, name string, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst, name: name}
}

func (o *ObservedProvider) Invoke(ctx context.Context, messages []castellan.ChatMessage) (string, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.invoke", trace.WithAttributes(
		AttrLLMProvider.String(o.name),
		attribute.Int("llm.message_count", len(messages)),
	))
	defer span.End()
	start := time.Now()

	reply, err := o.inner.Invoke(ctx, messages)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(AttrLLMStatus.String(status))

	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		AttrLLMProvider.String(o.name),
		attribute.String("status", status),
	))
	o.inst.LLMDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrLLMProvider.String(o.name),
	))

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("llm call completed"))
	rec.AddAttributes(
		otellog.String("llm.provider", o.name),
		otellog.String("status", status),
		otellog.Int("llm.reply_length", len(reply)),
		otellog.Float64("llm.duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return reply, err
}
