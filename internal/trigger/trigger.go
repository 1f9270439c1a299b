package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sourcegraph/conc/panics"
)

// Step is one stage of an update.
type Step interface {
	Name() string
	Run(ctx context.Context) error
}

type funcStep struct {
	name string
	fn   func(ctx context.Context) error
}

func (s funcStep) Name() string                  { return s.name }
func (s funcStep) Run(ctx context.Context) error { return s.fn(ctx) }

// StepFunc adapts a plain function into a named Step.
func StepFunc(name string, fn func(ctx context.Context) error) Step {
	return funcStep{name: name, fn: fn}
}

// Result is what a caller of the update entry point sees.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Trigger runs a fixed sequence of steps on demand.
type Trigger struct {
	steps  []Step
	logger *slog.Logger
}

// New creates a Trigger running steps in order.
func New(logger *slog.Logger, steps ...Step) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trigger{steps: steps, logger: logger}
}

// Run executes the steps in order and stops at the first failure. A
// panicking step is reported as a failure; the panic value ends up in the
// message, the stack only in the log.
func (t *Trigger) Run(ctx context.Context) Result {
	names := make([]string, 0, len(t.steps))

	for _, s := range t.steps {
		t.logger.Info("running step", "step", s.Name())

		if err := t.runStep(ctx, s); err != nil {
			t.logger.Error("step failed", "step", s.Name(), "error", err)
			return Result{
				Success: false,
				Message: fmt.Sprintf("%s failed: %v", s.Name(), err),
			}
		}
		names = append(names, s.Name())
	}

	return Result{
		Success: true,
		Message: fmt.Sprintf("update completed: %s", strings.Join(names, ", ")),
	}
}

func (t *Trigger) runStep(ctx context.Context, s Step) (err error) {
	var pc panics.Catcher
	pc.Try(func() {
		err = s.Run(ctx)
	})

	if r := pc.Recovered(); r != nil {
		t.logger.Error("step panicked",
			"step", s.Name(),
			"panic", r.Value,
			"stack", string(r.Stack))
		return fmt.Errorf("panic: %v", r.Value)
	}
	return err
}
