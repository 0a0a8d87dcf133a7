package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"wgsync/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TelemetryOutput turns a run's spans into progress lines on stderr.
type TelemetryOutput struct {
	provider *sdktrace.TracerProvider
	closeFn  func()
}

func NewTelemetryOutput() *TelemetryOutput {
	if IsInteractive() {
		checklist := NewChecklist(os.Stderr)
		observer := newStepObserver(checklist.OnSnapshot)
		provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(&stepSpanProcessor{observer: observer}))
		return &TelemetryOutput{provider: provider, closeFn: checklist.Close}
	}

	line := newLineTelemetry(os.Stderr)
	observer := newStepObserver(line.OnSnapshot)
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(&stepSpanProcessor{observer: observer}))
	return &TelemetryOutput{provider: provider, closeFn: func() {}}
}

func (o *TelemetryOutput) Tracer(name string) trace.Tracer {
	if o == nil || o.provider == nil {
		return nil
	}
	return o.provider.Tracer(name)
}

func (o *TelemetryOutput) Close() {
	if o == nil {
		return
	}
	if o.provider != nil {
		_ = o.provider.Shutdown(context.Background())
	}
	if o.closeFn != nil {
		o.closeFn()
	}
}

type lineTelemetry struct {
	mu       sync.Mutex
	out      io.Writer
	status   map[string]stepStatus
	messages map[string]string
}

func newLineTelemetry(out io.Writer) *lineTelemetry {
	return &lineTelemetry{
		out:      out,
		status:   make(map[string]stepStatus),
		messages: make(map[string]string),
	}
}

func (l *lineTelemetry) OnSnapshot(snapshot stepSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, step := range snapshot.Steps {
		if step.Status == stepPending {
			continue
		}
		prevStatus, seen := l.status[step.ID]
		if seen && prevStatus == step.Status && l.messages[step.ID] == step.Message {
			continue
		}
		l.status[step.ID] = step.Status
		l.messages[step.ID] = step.Message
		fmt.Fprintln(l.out, formatStepLine(step))
	}
}

func formatStepLine(step stepState) string {
	prefix := "[..]"
	switch step.Status {
	case stepRunning:
		prefix = "[->]"
	case stepDone:
		prefix = "[ok]"
	case stepSkipped:
		prefix = "[--]"
	case stepFailed:
		prefix = "[x]"
	}

	title := strings.TrimSpace(step.Title)
	if title == "" {
		title = step.ID
	}
	if step.Message != "" {
		return fmt.Sprintf("  %s %s (%s)", prefix, title, step.Message)
	}
	return fmt.Sprintf("  %s %s", prefix, title)
}

type stepSpanProcessor struct {
	observer *stepObserver
}

func (p *stepSpanProcessor) OnStart(_ context.Context, span sdktrace.ReadWriteSpan) {
	if p == nil || p.observer == nil {
		return
	}

	if !span.Parent().IsValid() {
		if stepsJSON := attributeValue(span.Attributes(), telemetry.StepsJSONKey); stepsJSON != "" {
			p.observer.onPlan(stepsJSON)
		}
		return
	}
	if reason := attributeValue(span.Attributes(), telemetry.SkippedKey); reason != "" {
		p.observer.onStepSkip(span.Name(), reason)
		return
	}
	p.observer.onStepStart(span.Name())
}

func (p *stepSpanProcessor) OnEnd(span sdktrace.ReadOnlySpan) {
	if p == nil || p.observer == nil {
		return
	}
	if !span.Parent().IsValid() {
		return
	}
	if attributeValue(span.Attributes(), telemetry.SkippedKey) != "" {
		return
	}

	status := span.Status()
	p.observer.onStepEnd(span.Name(), status.Code == codes.Error, status.Description)
}

func (p *stepSpanProcessor) Shutdown(context.Context) error {
	return nil
}

func (p *stepSpanProcessor) ForceFlush(context.Context) error {
	return nil
}

func attributeValue(attrs []attribute.KeyValue, key string) string {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return strings.TrimSpace(attr.Value.AsString())
		}
	}
	return ""
}
