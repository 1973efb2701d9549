package network

import (
	"sync"

	"go.uber.org/zap"
)

const memorySubscriberBuffer = 64

// MemoryOption configures a MemoryPubSub.
type MemoryOption func(*MemoryPubSub)

// WithBlockingDelivery makes Publish wait for room in every subscriber's
// buffer instead of dropping. The host's shared inbound channel uses it so a
// slow consumer pushes back on the senders rather than losing their messages.
// A subscriber must not Subscribe on the same MemoryPubSub while it is behind,
// since blocked publishers hold the read lock.
func WithBlockingDelivery() MemoryOption {
	return func(m *MemoryPubSub) {
		m.blocking = true
	}
}

// WithMemoryLogger logs messages dropped for a full subscriber buffer.
func WithMemoryLogger(l *zap.Logger) MemoryOption {
	return func(m *MemoryPubSub) {
		if l != nil {
			m.logger = l.Named("memory")
		}
	}
}

type memorySub struct {
	ch   chan Message
	done chan struct{}
	once sync.Once
}

func (s *memorySub) stop() {
	s.once.Do(func() { close(s.done) })
}

// MemoryPubSub is the process-local transport. The host uses it as the shared
// inbound channel that every component frame publishes into.
type MemoryPubSub struct {
	mu       sync.RWMutex
	nextID   int
	subs     map[string]map[int]*memorySub
	blocking bool
	logger   *zap.Logger
}

func NewMemoryPubSub(opts ...MemoryOption) *MemoryPubSub {
	m := &MemoryPubSub{
		subs:   make(map[string]map[int]*memorySub),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryPubSub) Publish(topic string, from *Source, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sub := range m.subs[topic] {
		msg := Message{Topic: topic, From: from, Payload: append([]byte(nil), payload...)}
		if m.blocking {
			select {
			case sub.ch <- msg:
			case <-sub.done:
			}
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			m.logger.Warn("dropping message for slow subscriber",
				zap.String("topic", topic),
				zap.Stringer("source", from),
			)
		}
	}
	return nil
}

func (m *MemoryPubSub) Subscribe(topic string) (<-chan Message, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[topic]; !ok {
		m.subs[topic] = make(map[int]*memorySub)
	}
	id := m.nextID
	m.nextID++
	sub := &memorySub{
		ch:   make(chan Message, memorySubscriberBuffer),
		done: make(chan struct{}),
	}
	m.subs[topic][id] = sub

	cancel := func() {
		// Release publishers blocked on this subscriber before taking the lock.
		sub.stop()
		m.mu.Lock()
		defer m.mu.Unlock()
		if subsByTopic, ok := m.subs[topic]; ok {
			if s, exists := subsByTopic[id]; exists {
				delete(subsByTopic, id)
				close(s.ch)
			}
			if len(subsByTopic) == 0 {
				delete(m.subs, topic)
			}
		}
	}
	return sub.ch, cancel, nil
}

// Subscribers reports how many live subscriptions a topic has.
func (m *MemoryPubSub) Subscribers(topic string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[topic])
}

var _ PubSub = (*MemoryPubSub)(nil)
