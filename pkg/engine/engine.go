// Package engine provides a minimal iteration loop with event handlers.
// It stands in for a training or evaluation loop: each batch is passed to a
// step function and the result is exposed to handlers through State.
package engine

import (
	"fmt"

	"mriseg/internal/models"
)

// Event identifies a point in the run at which handlers fire.
type Event int

const (
	Started Event = iota
	IterationCompleted
	Completed
)

func (e Event) String() string {
	switch e {
	case Started:
		return "started"
	case IterationCompleted:
		return "iteration_completed"
	case Completed:
		return "completed"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// State is the mutable view handlers receive.
type State struct {
	// Iteration counts completed steps, starting at 1
	Iteration int

	// Batch is the batch most recently processed
	Batch models.Batch

	// Output is the step result for Batch, one tensor per item
	Output []models.Tensor
}

// Handler reacts to an event.
type Handler func(e *Engine) error

// StepFunc processes one batch.
type StepFunc func(batch models.Batch) ([]models.Tensor, error)

// Engine runs a StepFunc over batches and fires registered handlers.
type Engine struct {
	State    State
	handlers map[Event][]Handler
}

// New returns an Engine with no handlers.
func New() *Engine {
	return &Engine{handlers: make(map[Event][]Handler)}
}

// AddEventHandler registers h for event. Handlers fire in registration order.
func (e *Engine) AddEventHandler(event Event, h Handler) {
	e.handlers[event] = append(e.handlers[event], h)
}

// Fire runs every handler registered for event, stopping at the first error.
func (e *Engine) Fire(event Event) error {
	for _, h := range e.handlers[event] {
		if err := h(e); err != nil {
			return fmt.Errorf("%s handler: %w", event, err)
		}
	}
	return nil
}

// Run processes batches in order. A step or handler error stops the run.
func (e *Engine) Run(batches []models.Batch, step StepFunc) error {
	e.State = State{}
	if err := e.Fire(Started); err != nil {
		return err
	}

	for _, batch := range batches {
		out, err := step(batch)
		if err != nil {
			return fmt.Errorf("iteration %d: %w", e.State.Iteration+1, err)
		}
		e.State.Iteration++
		e.State.Batch = batch
		e.State.Output = out
		if err := e.Fire(IterationCompleted); err != nil {
			return err
		}
	}

	return e.Fire(Completed)
}
