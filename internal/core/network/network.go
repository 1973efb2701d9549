package network

import "github.com/google/uuid"

// Source identifies one execution context (a component frame, a remote peer)
// that sends on a shared channel. Sources are compared by pointer: two
// sources with the same label are still different senders.
type Source struct {
	id    uuid.UUID
	label string
}

// NewSource mints a fresh source handle. The label only shows up in logs.
func NewSource(label string) *Source {
	return &Source{id: uuid.New(), label: label}
}

func (s *Source) ID() string {
	if s == nil {
		return ""
	}
	return s.id.String()
}

func (s *Source) Label() string {
	if s == nil {
		return ""
	}
	return s.label
}

func (s *Source) String() string {
	if s == nil {
		return "<nil>"
	}
	if s.label == "" {
		return s.id.String()
	}
	return s.label + "/" + s.id.String()
}

// Message is the transport envelope used by the runtime.
// From is filled in by the transport, never decoded from Payload.
type Message struct {
	Topic   string
	From    *Source
	Payload []byte
}

// PubSub is a minimal interface for broadcast-style communication.
// The func returned by Subscribe cancels the subscription and closes the channel.
type PubSub interface {
	Publish(topic string, from *Source, payload []byte) error
	Subscribe(topic string) (<-chan Message, func(), error)
}
