package events

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/logging"
	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/monitoring"
)

// MaxFrameSize is the largest raw frame Accept will parse.
const MaxFrameSize = 1 << 20

// Ingress is the single entry point for inbound frames. It parses raw
// bytes, decodes the payload and hands the resulting event to the
// dispatcher.
type Ingress struct {
	dispatcher *Dispatcher
	logger     *zap.Logger
	metrics    *monitoring.Metrics

	received  atomic.Uint64
	malformed atomic.Uint64
}

// IngressStats counts frames seen by an Ingress.
type IngressStats struct {
	Received  uint64 `json:"received"`
	Malformed uint64 `json:"malformed"`
}

// NewIngress creates an ingress feeding dispatcher.
func NewIngress(dispatcher *Dispatcher, logger *zap.Logger) *Ingress {
	return &Ingress{
		dispatcher: dispatcher,
		logger:     logging.OrNop(logger).Named("ingress"),
	}
}

// WithMetrics adds metrics tracking to the ingress
func (i *Ingress) WithMetrics(metrics *monitoring.Metrics) *Ingress {
	i.metrics = metrics
	return i
}

// Accept parses and dispatches one raw frame received from origin.
// Frames without a type tag, or whose data does not match their type,
// are dropped and reported as ErrMalformedFrame.
func (i *Ingress) Accept(ctx context.Context, origin string, raw []byte) (Result, error) {
	i.received.Add(1)
	i.metrics.RecordFrame("inbound")

	if len(raw) > MaxFrameSize {
		err := fmt.Errorf("%w: frame of %d bytes exceeds %d", ErrMalformedFrame, len(raw), MaxFrameSize)
		i.drop(origin, err)
		return Result{}, err
	}

	frame, err := ParseFrame(raw)
	if err != nil {
		i.drop(origin, err)
		return Result{}, err
	}
	return i.deliver(ctx, origin, frame)
}

// AcceptFrame dispatches an already parsed frame.
func (i *Ingress) AcceptFrame(ctx context.Context, origin string, frame Frame) (Result, error) {
	i.received.Add(1)
	i.metrics.RecordFrame("inbound")

	if frame.Type == "" {
		err := ErrMalformedFrame
		i.drop(origin, err)
		return Result{}, err
	}
	return i.deliver(ctx, origin, frame)
}

func (i *Ingress) deliver(ctx context.Context, origin string, frame Frame) (Result, error) {
	if frame.Scope != "" {
		origin = frame.Scope
	}

	var payload any
	decoded, err := frame.Decode()
	var unknown *UnknownTypeError
	switch {
	case err == nil:
		payload = decoded
	case errors.As(err, &unknown):
		// Unknown tags still reach the dispatcher so registered
		// extensions and the no-handler warning both apply.
		payload = frame
	default:
		i.drop(origin, err)
		return Result{}, err
	}

	return i.dispatcher.DispatchEvent(ctx, Event{
		Type:     frame.Type,
		Payload:  payload,
		Origin:   origin,
		TaskID:   frame.TaskID,
		Category: frame.Category,
	}), nil
}

func (i *Ingress) drop(origin string, err error) {
	i.malformed.Add(1)
	i.metrics.RecordMalformedFrame()
	i.logger.Warn("Dropping malformed frame",
		zap.String("origin", origin),
		zap.Error(err),
	)
}

// Stats returns the frame counters.
func (i *Ingress) Stats() IngressStats {
	return IngressStats{
		Received:  i.received.Load(),
		Malformed: i.malformed.Load(),
	}
}
