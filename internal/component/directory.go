package component

import (
	"sync"

	"go.uber.org/zap"

	"ClawdCity-Host/internal/core/network"
)

// Listener receives every valid message sent by the source it is bound to.
// payload is the whole decoded message, marker and type included.
type Listener func(kind string, payload map[string]any)

// Directory maps sources to listeners, at most one listener per source.
// It is safe for concurrent use.
type Directory struct {
	mu        sync.RWMutex
	listeners map[*network.Source]Listener
	closed    bool
	logger    *zap.Logger
	metrics   *metrics
}

func NewDirectory(logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{
		listeners: make(map[*network.Source]Listener),
		logger:    logger,
	}
}

// Register binds l to src, replacing any existing binding. Replacing is
// logged but allowed: a frame that reloads registers again under the same
// source. Reports whether a binding was replaced.
func (d *Directory) Register(src *network.Source, l Listener) bool {
	if src == nil || l == nil {
		d.logger.Warn("ignoring listener registration with nil source or listener",
			zap.Stringer("source", src),
			zap.Bool("nil_listener", l == nil),
		)
		d.metrics.warnRegistration(reasonNil)
		return false
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("ignoring listener registration on closed registry", zap.Stringer("source", src))
		d.metrics.warnRegistration(reasonClosed)
		return false
	}
	_, replaced := d.listeners[src]
	d.listeners[src] = l
	n := len(d.listeners)
	d.mu.Unlock()

	d.metrics.setListeners(n)
	if replaced {
		d.logger.Warn("source registered multiple times", zap.Stringer("source", src))
		d.metrics.warnRegistration(reasonDuplicate)
	}
	return replaced
}

// Deregister removes the binding for src. Removing an unknown source is
// logged and leaves the directory unchanged; on a closed directory it is a
// silent no-op. Reports whether a binding was removed.
func (d *Directory) Deregister(src *network.Source) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	_, ok := d.listeners[src]
	delete(d.listeners, src)
	n := len(d.listeners)
	d.mu.Unlock()

	if !ok {
		d.logger.Warn("could not deregister unregistered source", zap.Stringer("source", src))
		d.metrics.warnRegistration(reasonUnknown)
		return false
	}
	d.metrics.setListeners(n)
	return true
}

func (d *Directory) Lookup(src *network.Source) (Listener, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	l, ok := d.listeners[src]
	return l, ok
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners)
}

// Close drops every binding and refuses new ones.
func (d *Directory) Close() {
	d.mu.Lock()
	d.closed = true
	d.listeners = make(map[*network.Source]Listener)
	d.mu.Unlock()
	d.metrics.setListeners(0)
}
