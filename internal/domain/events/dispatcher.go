package events

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/logging"
	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ragstudio/internal/shared/id"
)

// TypeStats holds per-type dispatch statistics.
type TypeStats struct {
	Count    uint64    `json:"count"`
	Errors   uint64    `json:"errors"`
	LastSeen time.Time `json:"last_seen"`
}

// Health is the aggregate view used by diagnostics.
type Health struct {
	Handlers    int     `json:"handlers"`
	Types       int     `json:"types"`
	TotalEvents uint64  `json:"total_events"`
	TotalErrors uint64  `json:"total_errors"`
	ErrorRate   float64 `json:"error_rate"`
}

// Result reports what one dispatch did.
type Result struct {
	Invoked int
	Failed  int
}

type registration struct {
	id      id.RegistrationID
	name    string
	handler Handler
}

// Dispatcher routes events to the handlers registered for their type.
// Dispatch is synchronous: every handler of a type runs in registration
// order on the caller's goroutine before Dispatch returns.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Type][]registration
	stats    map[Type]*TypeStats
	total    uint64
	errors   uint64

	logger  *zap.Logger
	metrics *monitoring.Metrics
	now     func() time.Time
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[Type][]registration),
		stats:    make(map[Type]*TypeStats),
		logger:   logging.OrNop(logger).Named("dispatcher"),
		now:      time.Now,
	}
}

// WithMetrics adds metrics tracking to the dispatcher
func (d *Dispatcher) WithMetrics(metrics *monitoring.Metrics) *Dispatcher {
	d.metrics = metrics
	return d
}

// Registration is returned by Register and detaches the handler on Cancel.
type Registration struct {
	d    *Dispatcher
	typ  Type
	id   id.RegistrationID
	once sync.Once
}

// ID returns the registration identifier.
func (r *Registration) ID() id.RegistrationID {
	return r.id
}

// Cancel removes the handler. Calling it more than once is harmless.
func (r *Registration) Cancel() {
	r.once.Do(func() {
		r.d.unregister(r.typ, r.id)
	})
}

// Register appends handler to the list for eventType. The handler must
// expose a usable HandleEvent entry point; a nil interface or a nil
// HandlerFunc is rejected.
func (d *Dispatcher) Register(eventType Type, handler Handler) (*Registration, error) {
	if eventType == "" {
		return nil, fmt.Errorf("%w: empty event type", ErrInvalidHandler)
	}
	if !validHandler(handler) {
		return nil, fmt.Errorf("%w: no entry point for %s", ErrInvalidHandler, eventType)
	}

	reg := registration{
		id:      id.NewRegistrationID(),
		name:    handlerName(handler),
		handler: handler,
	}

	d.mu.Lock()
	d.handlers[eventType] = append(d.handlers[eventType], reg)
	count := len(d.handlers[eventType])
	d.mu.Unlock()

	d.logger.Debug("Handler registered",
		zap.String("type", string(eventType)),
		zap.String("handler", reg.name),
		zap.Int("handlers", count),
	)

	return &Registration{d: d, typ: eventType, id: reg.id}, nil
}

// RegisterFunc is Register for a plain function.
func (d *Dispatcher) RegisterFunc(eventType Type, fn func(ctx context.Context, event Event) error) (*Registration, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: nil func for %s", ErrInvalidHandler, eventType)
	}
	return d.Register(eventType, HandlerFunc(fn))
}

func (d *Dispatcher) unregister(eventType Type, regID id.RegistrationID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.handlers[eventType]
	kept := make([]registration, 0, len(list))
	for _, reg := range list {
		if reg.id != regID {
			kept = append(kept, reg)
		}
	}
	if len(kept) == 0 {
		delete(d.handlers, eventType)
		return
	}
	d.handlers[eventType] = kept
}

// Dispatch builds an event and delivers it. It never returns an error:
// handler failures are contained, logged and counted.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType Type, payload any, origin string) Result {
	return d.DispatchEvent(ctx, Event{
		Type:       eventType,
		Payload:    payload,
		Origin:     origin,
		ReceivedAt: d.now(),
	})
}

// DispatchEvent delivers a prepared event to every handler of its type.
func (d *Dispatcher) DispatchEvent(ctx context.Context, event Event) Result {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = d.now()
	}

	d.mu.Lock()
	handlers := append([]registration(nil), d.handlers[event.Type]...)
	st := d.statsFor(event.Type)
	st.Count++
	st.LastSeen = event.ReceivedAt
	d.total++
	d.mu.Unlock()

	d.metrics.RecordDispatch(string(event.Type), len(handlers) > 0)

	if len(handlers) == 0 {
		d.logger.Warn("No handlers registered for event type",
			zap.String("type", string(event.Type)),
			zap.String("origin", event.Origin),
		)
		return Result{}
	}

	result := Result{Invoked: len(handlers)}
	for _, reg := range handlers {
		if err := d.invoke(ctx, reg, event); err != nil {
			result.Failed++
			d.logger.Error("Event handler failed",
				zap.String("type", string(event.Type)),
				zap.String("handler", reg.name),
				zap.String("origin", event.Origin),
				zap.Error(err),
			)
			d.metrics.RecordHandlerError(string(event.Type))
		}
	}

	if result.Failed > 0 {
		d.mu.Lock()
		d.statsFor(event.Type).Errors += uint64(result.Failed)
		d.errors += uint64(result.Failed)
		d.mu.Unlock()
	}

	return result
}

// invoke runs one handler, converting a panic into a HandlerError.
func (d *Dispatcher) invoke(ctx context.Context, reg registration, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{Type: event.Type, Handler: reg.name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if herr := reg.handler.HandleEvent(ctx, event); herr != nil {
		return &HandlerError{Type: event.Type, Handler: reg.name, Err: herr}
	}
	return nil
}

// statsFor must be called with d.mu held.
func (d *Dispatcher) statsFor(eventType Type) *TypeStats {
	st, ok := d.stats[eventType]
	if !ok {
		st = &TypeStats{}
		d.stats[eventType] = st
	}
	return st
}

// Stats returns a copy of the per-type statistics, including types that
// were dispatched without handlers.
func (d *Dispatcher) Stats() map[Type]TypeStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[Type]TypeStats, len(d.stats))
	for t, st := range d.stats {
		out[t] = *st
	}
	return out
}

// StatsFor returns statistics for one type.
func (d *Dispatcher) StatsFor(eventType Type) TypeStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if st, ok := d.stats[eventType]; ok {
		return *st
	}
	return TypeStats{}
}

// Types lists the event types that currently have handlers, sorted.
func (d *Dispatcher) Types() []Type {
	d.mu.RLock()
	defer d.mu.RUnlock()

	types := make([]Type, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// HasHandlers reports whether eventType has at least one handler.
func (d *Dispatcher) HasHandlers(eventType Type) bool {
	return d.HandlerCount(eventType) > 0
}

// HandlerCount returns the number of handlers registered for eventType.
func (d *Dispatcher) HandlerCount(eventType Type) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[eventType])
}

// Health returns aggregate counters.
func (d *Dispatcher) Health() Health {
	d.mu.RLock()
	defer d.mu.RUnlock()

	h := Health{
		Types:       len(d.handlers),
		TotalEvents: d.total,
		TotalErrors: d.errors,
	}
	for _, list := range d.handlers {
		h.Handlers += len(list)
	}
	if d.total > 0 {
		h.ErrorRate = float64(d.errors) / float64(d.total)
	}
	return h
}

func validHandler(handler Handler) bool {
	if handler == nil {
		return false
	}
	v := reflect.ValueOf(handler)
	switch v.Kind() {
	case reflect.Func, reflect.Ptr, reflect.Map, reflect.Chan, reflect.Slice, reflect.Interface:
		return !v.IsNil()
	}
	return true
}

type namedHandler interface {
	HandlerName() string
}

func handlerName(handler Handler) string {
	if named, ok := handler.(namedHandler); ok {
		return named.HandlerName()
	}
	return fmt.Sprintf("%T", handler)
}
