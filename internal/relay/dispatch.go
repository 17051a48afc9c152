package relay

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Normalize runs one raw event through a normalizer. Malformed events are
// logged and reported as not processable; they never stop a listener.
func Normalize[T any](n Normalizer[T], platform Platform, raw T, logger *zap.Logger) (NormalizedMessage, bool) {
	msg, ok, err := n.Normalize(raw)
	if err != nil {
		logger.Warn("inbound event dropped", zap.Error(&IngestError{Platform: platform, Err: err}))
		return NormalizedMessage{}, false
	}
	return msg, ok
}

// Dispatcher runs HandleIncoming for one platform with bounded concurrency.
// Events already accepted run to completion even after the listener's
// context is cancelled; Wait blocks until they are done.
type Dispatcher struct {
	svc      Service
	platform Platform
	logger   *zap.Logger
	g        errgroup.Group
}

func NewDispatcher(svc Service, platform Platform, maxInFlight int, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{svc: svc, platform: platform, logger: logger}
	if maxInFlight > 0 {
		d.g.SetLimit(maxInFlight)
	}
	return d
}

// Dispatch schedules msg and returns immediately unless the in-flight
// limit is reached.
func (d *Dispatcher) Dispatch(ctx context.Context, msg NormalizedMessage) {
	ctx = context.WithoutCancel(ctx)
	d.g.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("handler panic", zap.String("platform", string(d.platform)), zap.Any("panic", r))
			}
		}()
		d.svc.HandleIncoming(ctx, msg)
		return nil
	})
}

// Ingest normalizes raw and dispatches it when it is a processable message.
func Ingest[T any](ctx context.Context, d *Dispatcher, n Normalizer[T], raw T) bool {
	msg, ok := Normalize(n, d.platform, raw, d.logger)
	if !ok {
		return false
	}
	d.Dispatch(ctx, msg)
	return true
}

func (d *Dispatcher) Wait() {
	_ = d.g.Wait()
}
