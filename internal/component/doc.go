// Package component routes messages from embedded component frames to the
// host-side listener bound to each frame.
//
// All frames share one inbound channel. A Registry subscribes to it once,
// classifies every message with Validate, looks the sender up in its
// Directory and calls the matching Listener:
//
//	reg, err := component.New(inbound, endpoints.NewHTTP(baseURL), component.WithLogger(logger))
//	reg.RegisterListener(src, func(kind string, payload map[string]any) { ... })
//	defer reg.Close()
//
// Traffic that does not carry the isComponentMessage marker is ignored
// silently. Marked messages without a source or a type, messages from
// sources nobody registered, duplicate registrations and spurious
// deregistrations are logged as warnings and never stop dispatch.
//
// Listeners run synchronously on the dispatch goroutine, one message at a
// time in channel order. A listener that blocks stalls every other frame, so
// heavy work must be handed off to its own goroutine. Panics raised by a
// listener are not recovered here.
package component
