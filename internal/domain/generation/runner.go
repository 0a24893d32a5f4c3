package generation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ragstudio/internal/domain/session"
	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/logging"
)

// Trigger starts a backend generation run and returns its task id.
type Trigger interface {
	TriggerGeneration(ctx context.Context, resource string) (string, error)
}

// RunChannel is the push channel dedicated to one run.
type RunChannel interface {
	Connect(ctx context.Context) error
	Close() error
}

// ChannelOpener builds the channel for a run. onDisconnect must be called
// when the connection drops without Close having been called.
type ChannelOpener func(resource, taskID string, onDisconnect func(error)) RunChannel

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	Resource       string
	Trigger        Trigger
	Opener         ChannelOpener
	Machine        *Machine
	ConnectTimeout time.Duration
	Logger         *zap.Logger
}

// Runner drives one resource: it triggers the run over REST, hands the
// task to the machine and opens the run's channel. Failures to connect
// and lost connections end the run in ERROR; nothing is retried
// automatically.
type Runner struct {
	resource       string
	trigger        Trigger
	open           ChannelOpener
	machine        *Machine
	connectTimeout time.Duration
	logger         *zap.Logger
}

// NewRunner creates a runner.
func NewRunner(cfg RunnerConfig) *Runner {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = session.DefaultConnectTimeout
	}
	return &Runner{
		resource:       cfg.Resource,
		trigger:        cfg.Trigger,
		open:           cfg.Opener,
		machine:        cfg.Machine,
		connectTimeout: timeout,
		logger:         logging.OrNop(cfg.Logger).Named("runner").With(zap.String("resource", cfg.Resource)),
	}
}

// Machine returns the machine the runner drives.
func (r *Runner) Machine() *Machine {
	return r.machine
}

// Start triggers a run and connects its channel. It returns the task id
// once the channel is up; progress then arrives through the dispatcher.
func (r *Runner) Start(ctx context.Context) (string, error) {
	taskID, err := r.trigger.TriggerGeneration(ctx, r.resource)
	if err != nil {
		return "", fmt.Errorf("trigger generation for %s: %w", r.resource, err)
	}

	channel := r.open(r.resource, taskID, r.onDisconnect)
	if err := r.machine.Begin(taskID, channel); err != nil {
		_ = channel.Close()
		return "", err
	}

	connectCtx, cancel := context.WithTimeout(ctx, r.connectTimeout)
	defer cancel()

	if err := channel.Connect(connectCtx); err != nil {
		chErr := &session.ChannelError{Op: "connect", Scope: r.resource, Err: err}
		r.logger.Warn("Run channel unavailable", zap.String("task_id", taskID), zap.Error(err))
		r.machine.Fail(chErr)
		return taskID, chErr
	}

	r.logger.Info("Run channel connected", zap.String("task_id", taskID))
	return taskID, nil
}

// Retry resets a failed machine and starts a new run.
func (r *Runner) Retry(ctx context.Context) (string, error) {
	if err := r.machine.Retry(); err != nil {
		return "", err
	}
	return r.Start(ctx)
}

// Wait blocks until the current run finishes or ctx is done.
func (r *Runner) Wait(ctx context.Context) (State, error) {
	select {
	case <-r.machine.Done():
		return r.machine.State(), nil
	case <-ctx.Done():
		return r.machine.State(), ctx.Err()
	}
}

func (r *Runner) onDisconnect(err error) {
	r.logger.Warn("Run channel lost", zap.Error(err))
	r.machine.Fail(&session.ChannelError{Op: "read", Scope: r.resource, Err: err})
}
