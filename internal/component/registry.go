package component

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"ClawdCity-Host/internal/core/network"
	"ClawdCity-Host/internal/endpoints"
)

// DefaultTopic is the shared inbound channel topic component frames publish on.
const DefaultTopic = "component.message"

var ErrNilChannel = errors.New("component registry requires a channel")

// Option configures a Registry.
type Option func(*options)

type options struct {
	topic      string
	registerer prometheus.Registerer
	logger     *zap.Logger
}

// WithLogger sets the logger used for dispatch and registration warnings.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithTopic overrides DefaultTopic.
func WithTopic(topic string) Option {
	return func(o *options) {
		o.topic = topic
	}
}

// WithRegisterer registers the registry's metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// Registry binds component frames to host-side listeners. It owns exactly one
// subscription to the shared inbound channel, taken in New and released by Close.
type Registry struct {
	endpoints  endpoints.Resolver
	directory  *Directory
	dispatcher *Dispatcher
	topic      string

	unsubscribe func()
	stop        chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
}

// New subscribes to topic on channel and starts dispatching. resolver may be
// nil when the host never resolves component URLs. The channel should not
// drop messages when dispatch falls behind; a MemoryPubSub built with
// network.WithBlockingDelivery pushes back on the senders instead.
func New(channel network.PubSub, resolver endpoints.Resolver, opts ...Option) (*Registry, error) {
	if channel == nil {
		return nil, ErrNilChannel
	}
	o := options{topic: DefaultTopic}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	logger := o.logger.Named("component")

	m, err := newMetrics(o.registerer)
	if err != nil {
		return nil, err
	}

	dir := NewDirectory(logger)
	dir.metrics = m
	disp := NewDispatcher(dir, logger)
	disp.metrics = m

	ch, cancel, err := channel.Subscribe(o.topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", o.topic, err)
	}

	r := &Registry{
		endpoints:   resolver,
		directory:   dir,
		dispatcher:  disp,
		topic:       o.topic,
		unsubscribe: cancel,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		disp.run(ch, r.stop)
	}()
	return r, nil
}

// RegisterListener binds l to src. A second registration for the same
// source replaces the first and logs a warning.
func (r *Registry) RegisterListener(src *network.Source, l Listener) {
	r.directory.Register(src, l)
}

// DeregisterListener unbinds src. Messages from src processed after the
// call returns are logged as unrouted.
func (r *Registry) DeregisterListener(src *network.Source) {
	r.directory.Deregister(src)
}

// ComponentURL returns the location of path inside the named component.
func (r *Registry) ComponentURL(componentName, path string) string {
	if r.endpoints == nil {
		return ""
	}
	return r.endpoints.BuildComponentURL(componentName, path)
}

// Listeners returns the number of registered listeners.
func (r *Registry) Listeners() int {
	return r.directory.Len()
}

func (r *Registry) Topic() string {
	return r.topic
}

// Close releases the channel subscription, waits for the dispatch goroutine
// to exit and drops every listener. It is safe to call more than once but
// must not be called from inside a Listener.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.stop)
		r.directory.Close()
		r.unsubscribe()
		<-r.done
	})
}
