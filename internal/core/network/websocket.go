package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	frameReadLimit  = 1 << 20
	framePongWait   = 90 * time.Second
	framePingPeriod = 30 * time.Second
	frameWriteWait  = 10 * time.Second
)

var ErrFrameNotConnected = errors.New("frame not connected")

// FrameInfo describes one connected component frame.
type FrameInfo struct {
	SourceID  string    `json:"source_id"`
	Component string    `json:"component"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
}

type frameConn struct {
	source    *Source
	component string
	conn      *websocket.Conn
	connected time.Time

	mu       sync.Mutex
	lastSeen time.Time
}

// WebSocketBridge accepts one WebSocket per component frame and publishes
// everything a frame sends onto the shared inbound channel. Each connection
// gets its own Source, so the channel's subscribers can tell frames apart
// without trusting anything inside the payload.
type WebSocketBridge struct {
	channel  PubSub
	topic    string
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu           sync.RWMutex
	frames       map[*Source]*frameConn
	closed       bool
	onConnect    func(src *Source, component string) error
	onDisconnect func(src *Source)
}

// NewWebSocketBridge creates a bridge publishing to topic on channel.
// allowedOrigins lists the origins frames may connect from; "*" allows any
// origin and an empty list only admits same-origin pages.
func NewWebSocketBridge(channel PubSub, topic string, allowedOrigins []string, logger *zap.Logger) *WebSocketBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketBridge{
		channel: channel,
		topic:   topic,
		logger:  logger.Named("bridge"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		frames: make(map[*Source]*frameConn),
	}
}

// SetLifecycleHooks installs callbacks for frame connect and disconnect.
// onConnect runs before the first message of the frame is read; an error
// closes the connection and onDisconnect is not called for it.
func (b *WebSocketBridge) SetLifecycleHooks(onConnect func(src *Source, component string) error, onDisconnect func(src *Source)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onConnect = onConnect
	b.onDisconnect = onDisconnect
}

func (b *WebSocketBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	component := strings.TrimSpace(r.URL.Query().Get("component"))
	if component == "" {
		http.Error(w, "missing component", http.StatusBadRequest)
		return
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("frame upgrade failed",
			zap.String("component", component),
			zap.String("origin", r.Header.Get("Origin")),
			zap.Error(err),
		)
		return
	}

	now := time.Now().UTC()
	fc := &frameConn{
		source:    NewSource(component),
		component: component,
		conn:      conn,
		connected: now,
		lastSeen:  now,
	}

	b.mu.RLock()
	onConnect := b.onConnect
	b.mu.RUnlock()
	if onConnect != nil {
		if err := onConnect(fc.source, component); err != nil {
			b.logger.Warn("frame rejected", zap.Stringer("source", fc.source), zap.Error(err))
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(frameWriteWait))
			_ = conn.Close()
			return
		}
	}

	b.mu.Lock()
	if b.closed {
		onDisconnect := b.onDisconnect
		b.mu.Unlock()
		_ = conn.Close()
		if onConnect != nil && onDisconnect != nil {
			onDisconnect(fc.source)
		}
		return
	}
	b.frames[fc.source] = fc
	b.mu.Unlock()
	b.logger.Info("frame connected", zap.Stringer("source", fc.source))

	done := make(chan struct{})
	defer func() {
		close(done)
		_ = conn.Close()
		b.mu.Lock()
		delete(b.frames, fc.source)
		onDisconnect := b.onDisconnect
		b.mu.Unlock()
		b.logger.Info("frame disconnected", zap.Stringer("source", fc.source))
		if onDisconnect != nil {
			onDisconnect(fc.source)
		}
	}()

	conn.SetReadLimit(frameReadLimit)
	conn.SetPongHandler(func(string) error {
		fc.touch()
		return conn.SetReadDeadline(time.Now().Add(framePongWait))
	})
	_ = conn.SetReadDeadline(time.Now().Add(framePongWait))

	go b.pingLoop(fc, done)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		fc.touch()
		if err := b.channel.Publish(b.topic, fc.source, msg); err != nil {
			b.logger.Warn("publish frame message failed", zap.Stringer("source", fc.source), zap.Error(err))
		}
	}
}

func (b *WebSocketBridge) pingLoop(fc *frameConn, done <-chan struct{}) {
	ticker := time.NewTicker(framePingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			fc.mu.Lock()
			err := fc.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(frameWriteWait))
			fc.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// SendTo writes v as a JSON text frame to the frame identified by src.
func (b *WebSocketBridge) SendTo(src *Source, v any) error {
	b.mu.RLock()
	fc, ok := b.frames[src]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("send to %s: %w", src, ErrFrameNotConnected)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	_ = fc.conn.SetWriteDeadline(time.Now().Add(frameWriteWait))
	return fc.conn.WriteMessage(websocket.TextMessage, data)
}

// Connected returns the number of open frame connections.
func (b *WebSocketBridge) Connected() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.frames)
}

// Frames lists the open frame connections.
func (b *WebSocketBridge) Frames() []FrameInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]FrameInfo, 0, len(b.frames))
	for _, fc := range b.frames {
		fc.mu.Lock()
		out = append(out, FrameInfo{
			SourceID:  fc.source.ID(),
			Component: fc.component,
			Connected: fc.connected,
			LastSeen:  fc.lastSeen,
		})
		fc.mu.Unlock()
	}
	return out
}

// Close sends a going-away close frame to every connected frame and closes
// the connections. Their read loops then exit and run the disconnect hook.
// Later upgrade requests get 503. http.Server.Shutdown leaves hijacked
// connections alone, so hosts register this with RegisterOnShutdown.
func (b *WebSocketBridge) Close() {
	b.mu.Lock()
	b.closed = true
	frames := make([]*frameConn, 0, len(b.frames))
	for _, fc := range b.frames {
		frames = append(frames, fc)
	}
	b.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "host shutting down")
	for _, fc := range frames {
		fc.mu.Lock()
		_ = fc.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(frameWriteWait))
		fc.mu.Unlock()
		_ = fc.conn.Close()
	}
}

func (fc *frameConn) touch() {
	fc.mu.Lock()
	fc.lastSeen = time.Now().UTC()
	fc.mu.Unlock()
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		// nil falls back to gorilla's same-origin check.
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = normalizeOrigin(o)
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[o] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[normalizeOrigin(origin)]
		return ok
	}
}

func normalizeOrigin(o string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
}
