package component

import (
	"go.uber.org/zap"

	"ClawdCity-Host/internal/core/network"
)

const maxLoggedPayload = 512

type lookuper interface {
	Lookup(src *network.Source) (Listener, bool)
}

// Dispatcher validates raw channel messages and hands them to listeners.
type Dispatcher struct {
	listeners lookuper
	logger    *zap.Logger
	metrics   *metrics
}

func NewDispatcher(listeners lookuper, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{listeners: listeners, logger: logger}
}

// Dispatch routes one raw message. It never fails on bad input: foreign
// traffic is dropped silently, malformed and unrouted messages are logged
// and dropped. The matched listener is called synchronously.
func (d *Dispatcher) Dispatch(raw network.Message) {
	msg, verdict, err := Validate(raw)
	switch verdict {
	case Foreign:
		d.metrics.observe(outcomeForeign)
		return
	case Malformed:
		d.metrics.observe(outcomeMalformed)
		d.logger.Warn("dropping malformed component message",
			zap.Stringer("source", raw.From),
			zap.Error(err),
			zap.ByteString("data", clip(raw.Payload)),
		)
		return
	}

	listener, ok := d.listeners.Lookup(msg.Source)
	if !ok {
		d.metrics.observe(outcomeUnrouted)
		d.logger.Warn("received component message for unregistered source",
			zap.Stringer("source", msg.Source),
			zap.String("kind", msg.Kind),
			zap.ByteString("data", clip(raw.Payload)),
		)
		return
	}

	d.metrics.observe(outcomeDispatched)
	listener(msg.Kind, msg.Payload)
}

// run dispatches from ch in delivery order until ch closes or stop fires.
func (d *Dispatcher) run(ch <-chan network.Message, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case raw, ok := <-ch:
			if !ok {
				select {
				case <-stop:
				default:
					d.logger.Warn("shared inbound channel closed")
				}
				return
			}
			d.Dispatch(raw)
		}
	}
}

func clip(b []byte) []byte {
	if len(b) <= maxLoggedPayload {
		return b
	}
	return b[:maxLoggedPayload]
}
