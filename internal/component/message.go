package component

import (
	"bytes"
	"encoding/json"
	"errors"

	"ClawdCity-Host/internal/core/network"
)

const (
	// MarkerField must be present on every component protocol message.
	MarkerField = "isComponentMessage"
	// KindField carries the message kind discriminant.
	KindField = "type"
)

var (
	ErrMissingSource = errors.New("component message has no source")
	ErrMissingKind   = errors.New("component message has no type")
	ErrInvalidKind   = errors.New("component message type is not a non-empty string")
)

// Verdict is the outcome of validating a raw inbound message.
type Verdict int

const (
	// Accepted messages are well-formed component messages.
	Accepted Verdict = iota
	// Foreign messages are unrelated traffic on the shared channel.
	Foreign
	// Malformed messages carry the marker but miss required fields.
	Malformed
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case Foreign:
		return "foreign"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Message is a validated component message.
type Message struct {
	Source  *network.Source
	Kind    string
	Payload map[string]any
}

// Validate decides whether raw is a component message. The error is non-nil
// only for Malformed and names the missing field.
func Validate(raw network.Message) (Message, Verdict, error) {
	data := bytes.TrimSpace(raw.Payload)
	if len(data) == 0 || data[0] != '{' {
		return Message{}, Foreign, nil
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil || payload == nil {
		return Message{}, Foreign, nil
	}
	if _, ok := payload[MarkerField]; !ok {
		return Message{}, Foreign, nil
	}

	if raw.From == nil {
		return Message{}, Malformed, ErrMissingSource
	}
	rawKind, ok := payload[KindField]
	if !ok || rawKind == nil {
		return Message{}, Malformed, ErrMissingKind
	}
	kind, ok := rawKind.(string)
	if !ok || kind == "" {
		return Message{}, Malformed, ErrInvalidKind
	}

	return Message{Source: raw.From, Kind: kind, Payload: payload}, Accepted, nil
}
