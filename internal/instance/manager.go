package instance

import (
	"encoding/json"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ClawdCity-Host/internal/component"
	"ClawdCity-Host/internal/core/network"
)

// Message kinds exchanged with component frames.
const (
	KindReady          = "READY"
	KindSetValue       = "SET_VALUE"
	KindSetFrameHeight = "SET_FRAME_HEIGHT"
	KindRender         = "RENDER"
)

// Event types published on the events transport.
const (
	EventAttached    = "instance_attached"
	EventReady       = "instance_ready"
	EventValue       = "value_changed"
	EventFrameHeight = "frame_resized"
	EventArgs        = "args_changed"
	EventDetached    = "instance_detached"

	topicInstances = "component.instance"
)

var (
	ErrInstanceNotFound = errors.New("instance not found")
	ErrAlreadyAttached  = errors.New("source already attached")
	ErrUnknownComponent = errors.New("unknown component")
	ErrNilSource        = errors.New("source required")
)

// Instance is the host-side state of one mounted component frame.
type Instance struct {
	ID          string         `json:"id"`
	Node        string         `json:"node"`
	Component   string         `json:"component"`
	SourceID    string         `json:"source_id"`
	Ready       bool           `json:"ready"`
	Value       any            `json:"value,omitempty"`
	FrameHeight int            `json:"frame_height,omitempty"`
	Args        map[string]any `json:"args,omitempty"`
	AttachedAt  time.Time      `json:"attached_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type Event struct {
	Type       string    `json:"type"`
	Node       string    `json:"node"`
	InstanceID string    `json:"instance_id"`
	Instance   *Instance `json:"instance,omitempty"`
	At         time.Time `json:"at"`
}

// Router binds listeners to frames. *component.Registry implements it.
type Router interface {
	RegisterListener(src *network.Source, l component.Listener)
	DeregisterListener(src *network.Source)
}

// Sender delivers host messages back to a frame.
type Sender interface {
	SendTo(src *network.Source, v any) error
}

type entry struct {
	inst Instance
	src  *network.Source

	// Latest RENDER not yet sent; one pusher goroutine per entry drains it.
	pending   map[string]any
	rendering bool
}

// Manager tracks the component instances mounted on this host and mirrors
// the ones mounted on other nodes sharing the events transport.
type Manager struct {
	mu        sync.RWMutex
	node      string
	router    Router
	sender    Sender
	events    network.PubSub
	logger    *zap.Logger
	allowed   map[string]struct{}
	instances map[string]*entry
	bySource  map[*network.Source]string
	remote    map[string]Instance
	stopSync  func()
}

func NewManager(router Router, sender Sender, events network.PubSub, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		node:      uuid.NewString(),
		router:    router,
		sender:    sender,
		events:    events,
		logger:    logger.Named("instance"),
		instances: make(map[string]*entry),
		bySource:  make(map[*network.Source]string),
		remote:    make(map[string]Instance),
	}
	m.startSync()
	return m
}

// AllowComponents restricts Attach to the named components. With no names
// every component is accepted.
func (m *Manager) AllowComponents(names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(names) == 0 {
		m.allowed = nil
		return
	}
	m.allowed = make(map[string]struct{}, len(names))
	for _, n := range names {
		m.allowed[n] = struct{}{}
	}
}

func (m *Manager) Node() string {
	return m.node
}

// Attach mounts a new instance of componentName for the frame behind src and
// binds its listener.
func (m *Manager) Attach(src *network.Source, componentName string) (*Instance, error) {
	if src == nil {
		return nil, ErrNilSource
	}
	m.mu.Lock()
	if _, ok := m.bySource[src]; ok {
		m.mu.Unlock()
		return nil, ErrAlreadyAttached
	}
	if m.allowed != nil {
		if _, ok := m.allowed[componentName]; !ok {
			m.mu.Unlock()
			return nil, ErrUnknownComponent
		}
	}
	now := time.Now().UTC()
	e := &entry{
		src: src,
		inst: Instance{
			ID:         uuid.NewString(),
			Node:       m.node,
			Component:  componentName,
			SourceID:   src.ID(),
			AttachedAt: now,
			UpdatedAt:  now,
		},
	}
	m.instances[e.inst.ID] = e
	m.bySource[src] = e.inst.ID
	m.publishLocked(EventAttached, e)
	cp := e.inst.clone()
	m.mu.Unlock()

	m.router.RegisterListener(src, m.listenerFor(cp.ID))
	m.logger.Info("instance attached",
		zap.String("instance", cp.ID),
		zap.String("component", componentName),
		zap.Stringer("source", src),
	)
	return &cp, nil
}

// Detach unbinds the frame behind src and drops its instance.
func (m *Manager) Detach(src *network.Source) error {
	m.mu.Lock()
	id, ok := m.bySource[src]
	if !ok {
		m.mu.Unlock()
		return ErrInstanceNotFound
	}
	e := m.instances[id]
	delete(m.bySource, src)
	delete(m.instances, id)
	e.inst.UpdatedAt = time.Now().UTC()
	m.publishLocked(EventDetached, e)
	m.mu.Unlock()

	m.router.DeregisterListener(src)
	m.logger.Info("instance detached", zap.String("instance", id), zap.Stringer("source", src))
	return nil
}

func (m *Manager) Get(id string) (*Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.instances[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	cp := e.inst.clone()
	return &cp, nil
}

// List returns the local instances, oldest first.
func (m *Manager) List() []Instance {
	m.mu.RLock()
	out := make([]Instance, 0, len(m.instances))
	for _, e := range m.instances {
		out = append(out, e.inst.clone())
	}
	m.mu.RUnlock()
	sortInstances(out)
	return out
}

// ListRemote returns instances announced by other nodes.
func (m *Manager) ListRemote() []Instance {
	m.mu.RLock()
	out := make([]Instance, 0, len(m.remote))
	for _, inst := range m.remote {
		out = append(out, inst.clone())
	}
	m.mu.RUnlock()
	sortInstances(out)
	return out
}

// SetArgs replaces the render args of an instance and pushes them to the
// frame if it already reported READY.
func (m *Manager) SetArgs(id string, args map[string]any) (*Instance, error) {
	m.mu.Lock()
	e, ok := m.instances[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrInstanceNotFound
	}
	e.inst.Args = cloneMap(args)
	e.inst.UpdatedAt = time.Now().UTC()
	m.publishLocked(EventArgs, e)
	if e.inst.Ready {
		m.queueRenderLocked(e)
	}
	cp := e.inst.clone()
	m.mu.Unlock()
	return &cp, nil
}

// Subscribe streams the events of one instance.
func (m *Manager) Subscribe(id string) (<-chan network.Message, func(), error) {
	m.mu.RLock()
	_, ok := m.instances[id]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, ErrInstanceNotFound
	}
	return m.events.Subscribe(topicForInstance(id))
}

// Close stops mirroring remote instances.
func (m *Manager) Close() {
	m.mu.Lock()
	stop := m.stopSync
	m.stopSync = nil
	m.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (m *Manager) listenerFor(id string) component.Listener {
	return func(kind string, payload map[string]any) {
		m.handle(id, kind, payload)
	}
}

func (m *Manager) handle(id, kind string, payload map[string]any) {
	m.mu.Lock()
	e, ok := m.instances[id]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("message for detached instance", zap.String("instance", id), zap.String("kind", kind))
		return
	}

	var eventType string
	switch kind {
	case KindReady:
		e.inst.Ready = true
		eventType = EventReady
	case KindSetValue:
		v, ok := payload["value"]
		if !ok {
			m.mu.Unlock()
			m.logger.Warn("SET_VALUE without value", zap.String("instance", id))
			return
		}
		e.inst.Value = v
		eventType = EventValue
	case KindSetFrameHeight:
		h, ok := toInt(payload["height"])
		if !ok || h < 0 {
			m.mu.Unlock()
			m.logger.Warn("SET_FRAME_HEIGHT with invalid height", zap.String("instance", id), zap.Any("height", payload["height"]))
			return
		}
		e.inst.FrameHeight = h
		eventType = EventFrameHeight
	default:
		m.mu.Unlock()
		m.logger.Warn("unknown component message kind", zap.String("instance", id), zap.String("kind", kind))
		return
	}
	e.inst.UpdatedAt = time.Now().UTC()
	m.publishLocked(eventType, e)
	if kind == KindReady {
		m.queueRenderLocked(e)
	}
	m.mu.Unlock()
}

// queueRenderLocked stores the current args as the next RENDER for e and
// starts its pusher if none is running. Pushes leave the dispatch goroutine so
// a slow frame cannot stall the shared channel, and a frame always ends up
// with the latest args because each entry has a single pusher.
func (m *Manager) queueRenderLocked(e *entry) {
	if m.sender == nil {
		return
	}
	e.pending = map[string]any{
		"type":     KindRender,
		"instance": e.inst.ID,
		"args":     cloneMap(e.inst.Args),
	}
	if e.rendering {
		return
	}
	e.rendering = true
	go m.pushRenders(e)
}

func (m *Manager) pushRenders(e *entry) {
	for {
		m.mu.Lock()
		msg := e.pending
		e.pending = nil
		if msg == nil {
			e.rendering = false
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		if err := m.sender.SendTo(e.src, msg); err != nil {
			m.logger.Warn("render push failed", zap.Any("instance", msg["instance"]), zap.Error(err))
		}
	}
}

func (m *Manager) publishLocked(eventType string, e *entry) {
	if m.events == nil {
		return
	}
	cp := e.inst.clone()
	b, err := json.Marshal(Event{Type: eventType, Node: m.node, InstanceID: cp.ID, Instance: &cp, At: time.Now().UTC()})
	if err != nil {
		m.logger.Warn("encode instance event", zap.String("instance", cp.ID), zap.String("event", eventType), zap.Error(err))
		return
	}
	for _, topic := range []string{topicForInstance(cp.ID), topicInstances} {
		if err := m.events.Publish(topic, nil, b); err != nil {
			m.logger.Warn("publish instance event", zap.String("topic", topic), zap.String("event", eventType), zap.Error(err))
		}
	}
}

func (m *Manager) startSync() {
	if m.events == nil {
		return
	}
	ch, cancel, err := m.events.Subscribe(topicInstances)
	if err != nil {
		m.logger.Warn("instance sync disabled", zap.Error(err))
		return
	}
	m.stopSync = cancel
	go m.consumeEvents(ch)
}

func (m *Manager) consumeEvents(ch <-chan network.Message) {
	for msg := range ch {
		var evt Event
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			continue
		}
		if evt.Node == m.node || evt.Instance == nil {
			continue
		}
		m.mu.Lock()
		if evt.Type == EventDetached {
			delete(m.remote, evt.InstanceID)
		} else {
			m.remote[evt.InstanceID] = evt.Instance.clone()
		}
		m.mu.Unlock()
	}
}

func (i Instance) clone() Instance {
	cp := i
	cp.Args = cloneMap(i.Args)
	return cp
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortInstances(items []Instance) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].AttachedAt.Equal(items[j].AttachedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].AttachedAt.Before(items[j].AttachedAt)
	})
}

// toInt converts a decoded JSON number to an int within the int32 range.
func toInt(v any) (int, bool) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case float64:
		f = n
	case float32:
		f = float64(n)
	default:
		return 0, false
	}
	if math.IsNaN(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

func topicForInstance(id string) string {
	return topicInstances + "." + id
}
