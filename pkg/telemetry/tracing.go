package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rawproto/rawhttp/pkg/message"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// DefaultTracerName names the tracer used when none is configured.
const DefaultTracerName = "rawhttp"

// Tracer returns the global provider's tracer for name, or for
// DefaultTracerName when name is empty.
func Tracer(name string) trace.Tracer {
	if name == "" {
		name = DefaultTracerName
	}
	return otel.Tracer(name)
}

// StartRequest starts a client span for req.
func StartRequest(ctx context.Context, tracer trace.Tracer, req *message.Request) (context.Context, trace.Span) {
	return tracer.Start(ctx, "rawhttp "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.full", req.Target.String()),
			attribute.String("server.address", req.Target.Host),
			attribute.Int("server.port", int(req.Target.Port)),
		),
	)
}

// EndRequest records the outcome of a request span and ends it.
func EndRequest(span trace.Span, resp *message.Response, err error) {
	defer span.End()
	if err != nil {
		span.RecordError(err)
		if k := rerrors.KindOf(err); k != "" {
			span.SetAttributes(attribute.String("rawhttp.error.kind", string(k)))
		}
		span.SetStatus(codes.Error, err.Error())
		return
	}
	if resp != nil {
		span.SetAttributes(
			attribute.Int("http.response.status_code", resp.Status),
			attribute.Int("rawhttp.response.frames", len(resp.Frames)),
		)
		if resp.Partial {
			span.SetAttributes(attribute.Bool("rawhttp.response.partial", true))
		}
	}
	span.SetStatus(codes.Ok, "")
}
