package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const runtimeTracerName = "acpbridge-runtime"

func runtimeTracer() trace.Tracer {
	return Tracer(runtimeTracerName)
}

// TraceHandshake starts a span covering initialize + session/new.
func TraceHandshake(ctx context.Context, root string, useCLIAuth bool) (context.Context, trace.Span) {
	ctx, span := runtimeTracer().Start(ctx, "acp.handshake",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("workspace_root", root),
		attribute.Bool("use_cli_auth", useCLIAuth),
	)
	return ctx, span
}

// TraceHandshakeResult records the negotiated session or the setup error.
func TraceHandshakeResult(span trace.Span, sessionID string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetAttributes(attribute.String("session_id", sessionID))
}

// TracePrompt starts a span for one prompt turn.
func TracePrompt(ctx context.Context, sessionID, promptID string, promptLength int) (context.Context, trace.Span) {
	ctx, span := runtimeTracer().Start(ctx, "acp.prompt",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("prompt_id", promptID),
		attribute.Int("prompt_length", promptLength),
	)
	return ctx, span
}

// TracePromptResult records the outcome of a prompt turn on its span.
func TracePromptResult(span trace.Span, stopReason string, textLength, chunks int, err error) {
	span.SetAttributes(
		attribute.Int("text_length", textLength),
		attribute.Int("chunks", chunks),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetAttributes(attribute.String("stop_reason", stopReason))
}
