package ui

import (
	"encoding/json"
	"strings"
	"sync"

	"wgsync/internal/telemetry"
)

type stepStatus string

const (
	stepPending stepStatus = "pending"
	stepRunning stepStatus = "running"
	stepDone    stepStatus = "done"
	stepSkipped stepStatus = "skipped"
	stepFailed  stepStatus = "failed"
)

type stepState struct {
	ID      string
	Title   string
	Status  stepStatus
	Message string
}

type stepSnapshot struct {
	Steps []stepState
}

// stepObserver folds span callbacks into ordered step snapshots.
type stepObserver struct {
	mu       sync.Mutex
	steps    map[string]stepState
	order    []string
	reporter func(stepSnapshot)
}

func newStepObserver(reporter func(stepSnapshot)) *stepObserver {
	return &stepObserver{
		steps:    make(map[string]stepState),
		order:    make([]string, 0, 8),
		reporter: reporter,
	}
}

func (o *stepObserver) onPlan(stepsJSON string) {
	var planned []telemetry.Step
	if err := json.Unmarshal([]byte(stepsJSON), &planned); err != nil {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	for _, p := range planned {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			continue
		}
		step, exists := o.steps[id]
		if !exists {
			o.order = append(o.order, id)
			step = stepState{ID: id, Status: stepPending}
		}
		step.Title = strings.TrimSpace(p.Title)
		if step.Title == "" {
			step.Title = id
		}
		o.steps[id] = step
	}
	o.emitLocked()
}

func (o *stepObserver) onStepStart(id string) {
	o.update(id, stepRunning, "")
}

func (o *stepObserver) onStepSkip(id, reason string) {
	o.update(id, stepSkipped, reason)
}

func (o *stepObserver) onStepEnd(id string, failed bool, message string) {
	if failed {
		o.update(id, stepFailed, message)
		return
	}
	o.update(id, stepDone, "")
}

func (o *stepObserver) update(id string, status stepStatus, message string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	step, exists := o.steps[id]
	if !exists {
		o.order = append(o.order, id)
		step = stepState{ID: id, Title: id}
	}
	step.Status = status
	step.Message = strings.TrimSpace(message)
	o.steps[id] = step
	o.emitLocked()
}

func (o *stepObserver) emitLocked() {
	if o.reporter == nil {
		return
	}
	steps := make([]stepState, 0, len(o.order))
	for _, id := range o.order {
		steps = append(steps, o.steps[id])
	}
	o.reporter(stepSnapshot{Steps: steps})
}
