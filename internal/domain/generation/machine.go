package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ragstudio/internal/domain/events"
	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/logging"
	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/monitoring"
)

var (
	// ErrNotFailed is returned by Retry outside the ERROR state.
	ErrNotFailed = errors.New("retry is only allowed from ERROR")
	// ErrRetryRequired is returned by Begin while the machine is in ERROR.
	ErrRetryRequired = errors.New("failed run must be retried before a new one begins")
	// ErrRunActive is returned by Begin while another run is in flight.
	ErrRunActive = errors.New("a generation run is already active")
)

// Closer releases the channel of a run.
type Closer interface {
	Close() error
}

// StatusInvalidator drops a cached status snapshot.
type StatusInvalidator interface {
	Invalidate(resource string)
}

// Transition records one state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// View is a point-in-time copy of the machine.
type View struct {
	Resource    string           `json:"resource"`
	TaskID      string           `json:"task_id,omitempty"`
	State       State            `json:"state"`
	Progress    float64          `json:"progress"`
	Message     string           `json:"message,omitempty"`
	LastStatus  *events.Status   `json:"last_status,omitempty"`
	Transitions []Transition     `json:"transitions"`
	Rejected    int              `json:"rejected"`
	Snapshot    ProgressSnapshot `json:"snapshot"`
}

// Config wires a Machine.
type Config struct {
	Resource    string
	Primary     Surface
	Secondary   Surface
	Indicator   Indicator
	Invalidator StatusInvalidator
	Logger      *zap.Logger
	Metrics     *monitoring.Metrics
}

// Machine tracks one resource's generation run through READY, PARSER,
// GENERATION and then COMPLETED or ERROR. It only moves on events; the
// single exception is Retry, which leaves ERROR for READY.
type Machine struct {
	mu          sync.Mutex
	resource    string
	state       State
	taskID      string
	snapshot    ProgressSnapshot
	lastStatus  *events.Status
	transitions []Transition
	rejected    int
	closer      Closer
	finished    bool
	done        chan struct{}
	pending     []func()

	primary     Surface
	secondary   Surface
	indicator   Indicator
	invalidator StatusInvalidator
	logger      *zap.Logger
	metrics     *monitoring.Metrics
	now         func() time.Time
}

// NewMachine creates a machine in READY.
func NewMachine(cfg Config) *Machine {
	primary := cfg.Primary
	if primary == nil {
		primary = NewBuffer(0)
	}
	secondary := cfg.Secondary
	if secondary == nil {
		secondary = NewBuffer(0)
	}

	return &Machine{
		resource:    cfg.Resource,
		state:       StateReady,
		done:        make(chan struct{}),
		primary:     primary,
		secondary:   secondary,
		indicator:   cfg.Indicator,
		invalidator: cfg.Invalidator,
		logger:      logging.OrNop(cfg.Logger).Named("generation").With(zap.String("resource", cfg.Resource)),
		metrics:     cfg.Metrics,
		now:         time.Now,
	}
}

// Register subscribes the machine to the event types it consumes.
func (m *Machine) Register(d *events.Dispatcher) ([]*events.Registration, error) {
	types := []events.Type{
		events.TypeProgress,
		events.TypeTerminal,
		events.TypeStatus,
		events.TypeTaskComplete,
		events.TypeError,
	}

	regs := make([]*events.Registration, 0, len(types))
	for _, t := range types {
		reg, err := d.Register(t, m)
		if err != nil {
			for _, r := range regs {
				r.Cancel()
			}
			return nil, fmt.Errorf("register %s: %w", t, err)
		}
		regs = append(regs, reg)
	}
	return regs, nil
}

// HandlerName names the machine in dispatcher logs.
func (m *Machine) HandlerName() string {
	return "generation:" + m.resource
}

// Begin starts tracking a run. A machine left in COMPLETED is reset to
// READY first; a machine in ERROR must be retried explicitly. While a run
// is bound and unfinished, Begin fails and the caller keeps ownership of
// closer.
func (m *Machine) Begin(taskID string, closer Closer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.state == StateError:
		return fmt.Errorf("begin %s: %w", m.resource, ErrRetryRequired)
	case m.state == StateCompleted:
		m.resetLocked()
	case m.taskID != "":
		return fmt.Errorf("begin %s: task %s: %w", m.resource, m.taskID, ErrRunActive)
	}

	m.taskID = taskID
	m.closer = closer
	m.logger.Info("Generation run started", zap.String("task_id", taskID))
	return nil
}

// Retry leaves ERROR for READY. It is the only transition not driven by
// an event.
func (m *Machine) Retry() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateError {
		return ErrNotFailed
	}
	m.resetLocked()
	m.logger.Info("Generation reset for retry")
	return nil
}

func (m *Machine) resetLocked() {
	m.transitionLocked(StateReady)
	m.taskID = ""
	m.closer = nil
	m.finished = false
	m.snapshot = ProgressSnapshot{}
	m.done = make(chan struct{})
}

// Fail moves the machine to ERROR for a failure outside the event stream,
// such as a lost channel. It does nothing in a terminal state.
func (m *Machine) Fail(err error) {
	m.mu.Lock()
	defer m.unlock()

	if m.state.Terminal() {
		return
	}
	m.writeLocked(CategoryError, fmt.Sprintf("[ERROR] %v", err))
	m.transitionLocked(StateError)
	m.finishLocked()
}

// HandleEvent applies one dispatched event.
func (m *Machine) HandleEvent(ctx context.Context, event events.Event) error {
	m.mu.Lock()
	defer m.unlock()

	if event.Origin != "" && event.Origin != m.resource {
		return nil
	}
	if event.TaskID != "" && m.taskID != "" && event.TaskID != m.taskID {
		m.logger.Debug("Ignoring event for another task",
			zap.String("type", string(event.Type)),
			zap.String("task_id", event.TaskID),
		)
		return nil
	}
	if m.state.Terminal() {
		return nil
	}

	switch payload := event.Payload.(type) {
	case events.Progress:
		m.onProgressLocked(payload, event)
	case events.Terminal:
		m.writeLocked(categoryOr(event.Category, CategoryInfo), payload.Line)
	case events.Status:
		status := payload
		m.lastStatus = &status
		m.writeLocked(categoryOr(event.Category, CategoryStateful),
			fmt.Sprintf("[STATUS] %s: %d files, %d chunks", status.Resource, status.Files, status.Chunks))
	case events.TaskComplete:
		m.onCompleteLocked(payload, event)
	case events.Error:
		if payload.Code == events.CodeChannelUnavailable {
			return nil
		}
		m.writeLocked(CategoryError, "[ERROR] "+payload.Message)
		m.transitionLocked(StateError)
		m.finishLocked()
	default:
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	return nil
}

func (m *Machine) onProgressLocked(p events.Progress, event events.Event) {
	at := event.ReceivedAt
	if at.IsZero() {
		at = m.now()
	}
	snap := NewSnapshot(p, at)

	if err := snap.Validate(); err != nil {
		m.rejectLocked(err)
		return
	}
	if !canAdvance(m.state, snap.State) {
		m.rejectLocked(fmt.Errorf("transition %s -> %s not allowed", m.state, snap.State))
		return
	}

	if m.indicator != nil {
		m.indicator.Render(snap)
	}
	_ = snap.MarkRendered()
	m.snapshot = snap

	line := fmt.Sprintf("[%s] %.0f%%", snap.State, snap.Progress)
	if snap.Message != "" {
		line += " " + snap.Message
	}
	m.writeLocked(categoryOr(event.Category, CategoryProgress), line)

	if snap.State != m.state {
		m.transitionLocked(snap.State)
	}
	if snap.State.Terminal() {
		m.finishLocked()
	}
}

func (m *Machine) onCompleteLocked(c events.TaskComplete, event events.Event) {
	if !c.Success {
		msg := c.Message
		if msg == "" {
			msg = "task failed"
		}
		m.writeLocked(CategoryError, "[ERROR] "+msg)
		m.transitionLocked(StateError)
		m.finishLocked()
		return
	}

	line := "[COMPLETED]"
	if c.Message != "" {
		line += " " + c.Message
	}
	m.writeLocked(categoryOr(event.Category, CategoryImportant), line)
	m.snapshot = ProgressSnapshot{State: StateCompleted, Progress: 100, Message: c.Message, Timestamp: m.now(), valid: true, rendered: true}
	m.transitionLocked(StateCompleted)
	m.finishLocked()
}

func (m *Machine) rejectLocked(err error) {
	m.rejected++
	m.metrics.RecordProgressRejected()
	m.logger.Warn("Rejected progress event", zap.String("state", string(m.state)), zap.Error(err))
}

func (m *Machine) transitionLocked(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.transitions = append(m.transitions, Transition{From: from, To: to, At: m.now()})
	m.metrics.RecordTransition(string(from), string(to))
	m.logger.Debug("Generation state changed", zap.String("from", string(from)), zap.String("to", string(to)))
}

// finishLocked queues the terminal side effects, once per run. They run
// after the lock is released so a closer may call back into the machine.
func (m *Machine) finishLocked() {
	if m.finished {
		return
	}
	m.finished = true

	closer, invalidator, done := m.closer, m.invalidator, m.done
	resource, state := m.resource, m.state
	m.pending = append(m.pending, func() {
		if closer != nil {
			if err := closer.Close(); err != nil {
				m.logger.Warn("Closing run channel failed", zap.Error(err))
			}
		}
		if invalidator != nil {
			invalidator.Invalidate(resource)
		}
		close(done)
		m.logger.Info("Generation run finished", zap.String("state", string(state)))
	})
}

// unlock releases the lock and runs queued side effects.
func (m *Machine) unlock() {
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}

func (m *Machine) writeLocked(category, text string) {
	line := sanitize(text)
	if line == "" {
		return
	}
	for _, target := range Route(category) {
		switch target {
		case Primary:
			m.primary.Append(line)
		case Secondary:
			m.secondary.Append(line)
		}
	}
}

func categoryOr(category, fallback string) string {
	if category == "" {
		return fallback
	}
	return category
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// TaskID returns the task being tracked.
func (m *Machine) TaskID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.taskID
}

// Done is closed when the current run reaches COMPLETED or ERROR.
func (m *Machine) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// View returns a copy of the machine state.
func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := View{
		Resource:    m.resource,
		TaskID:      m.taskID,
		State:       m.state,
		Progress:    m.snapshot.Progress,
		Message:     m.snapshot.Message,
		Transitions: append([]Transition(nil), m.transitions...),
		Rejected:    m.rejected,
		Snapshot:    m.snapshot,
	}
	if m.lastStatus != nil {
		status := *m.lastStatus
		v.LastStatus = &status
	}
	return v
}
