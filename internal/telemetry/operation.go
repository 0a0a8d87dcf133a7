// Package telemetry runs a multi-step operation under OpenTelemetry spans.
//
// The root span carries the planned steps as a JSON attribute so a span
// processor can render progress before any step has started. Each step runs
// under a child span named by its ID.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	StepsEventName = "wgsync.steps"
	StepsJSONKey   = "wgsync.steps.json"
	SkippedKey     = "wgsync.skipped"
)

// Step is one planned stage of an operation.
type Step struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Operation is a running root span.
type Operation struct {
	ctx    context.Context
	tracer trace.Tracer
	span   trace.Span
}

// Start opens the root span for name. A nil tracer records nothing.
func Start(ctx context.Context, tracer trace.Tracer, name string, steps []Step) (*Operation, error) {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	if err := validateSteps(steps); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return nil, fmt.Errorf("start %s: marshal steps: %w", name, err)
	}

	attrs := trace.WithAttributes(attribute.String(StepsJSONKey, string(stepsJSON)))
	spanCtx, span := tracer.Start(ctx, name, attrs)
	span.AddEvent(StepsEventName, attrs)

	return &Operation{ctx: spanCtx, tracer: tracer, span: span}, nil
}

// Context returns the context carrying the root span.
func (o *Operation) Context() context.Context {
	if o == nil {
		return context.Background()
	}
	return o.ctx
}

// Step runs fn under a child span. A failing fn marks the span as errored
// and its error is returned unchanged.
func (o *Operation) Step(id string, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	if o == nil {
		return fn(context.Background())
	}

	ctx, span := o.tracer.Start(o.ctx, id)
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
		return err
	}
	return nil
}

// Skip records a step that did not run.
func (o *Operation) Skip(id, reason string) {
	if o == nil {
		return
	}
	_, span := o.tracer.Start(o.ctx, id, trace.WithAttributes(attribute.String(SkippedKey, reason)))
	span.End()
}

// End closes the root span.
func (o *Operation) End(err error) {
	if o == nil || o.span == nil {
		return
	}
	if err != nil {
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
	}
	o.span.End()
}

func validateSteps(steps []Step) error {
	seen := make(map[string]struct{}, len(steps))
	for i, s := range steps {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			return fmt.Errorf("step %d has empty id", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate step id %q", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
