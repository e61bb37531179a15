package core

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer starts spans around pipeline stages and external calls.
type Tracer interface {
	Start(c context.Context, name string) (context.Context, Spaner)
}

// Spaner is one started span.
type Spaner interface {
	SetAttributesString(attrs ...StringAttr)
	IsRecording() bool
	Error(err error)
	End()
}

// StringAttr is a span attribute key-value pair.
type StringAttr struct {
	Name  string
	Value string
}

// tracer is the default no-op implementation.
type tracer struct{}

func (t *tracer) Start(c context.Context, name string) (context.Context, Spaner) {
	return c, &span{}
}

type span struct{}

func (s *span) SetAttributesString(attrs ...StringAttr) {}
func (s *span) IsRecording() bool                       { return false }
func (s *span) Error(err error)                         {}
func (s *span) End()                                    {}

// NewOtelTracer returns a Tracer backed by the global OpenTelemetry
// provider.
func NewOtelTracer() Tracer {
	return &otelTracer{tr: otel.Tracer("askdb")}
}

type otelTracer struct {
	tr trace.Tracer
}

func (t *otelTracer) Start(c context.Context, name string) (context.Context, Spaner) {
	c1, s := t.tr.Start(c, name)
	return c1, &otelSpan{s: s}
}

type otelSpan struct {
	s trace.Span
}

func (s *otelSpan) SetAttributesString(attrs ...StringAttr) {
	for _, a := range attrs {
		s.s.SetAttributes(attribute.String(a.Name, a.Value))
	}
}

func (s *otelSpan) IsRecording() bool { return s.s.IsRecording() }

func (s *otelSpan) Error(err error) {
	if err == nil {
		return
	}
	s.s.RecordError(err)
	s.s.SetStatus(codes.Error, err.Error())
}

func (s *otelSpan) End() { s.s.End() }
