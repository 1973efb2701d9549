package hostapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"ClawdCity-Host/internal/core/network"
	"ClawdCity-Host/internal/instance"
)

// Resolver builds component resource URLs. *component.Registry implements it.
type Resolver interface {
	ComponentURL(componentName, path string) string
}

// FrameBridge accepts component frame connections and lists the open ones.
// *network.WebSocketBridge implements it.
type FrameBridge interface {
	http.Handler
	Frames() []network.FrameInfo
}

// PeerLister reports the peers of a networked events transport.
type PeerLister interface {
	PeerID() string
	ConnectedPeers() []string
}

// Options wires the collaborators of a Server. Nil fields disable the
// routes that need them.
type Options struct {
	Instances     *instance.Manager
	Resolver      Resolver
	Frames        FrameBridge
	ComponentsDir string
	Metrics       http.Handler
	MetricsPath   string
	Peers         PeerLister
	Logger        *zap.Logger
}

type Server struct {
	opts   Options
	logger *zap.Logger
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	return &Server{opts: opts, logger: logger.Named("hostapi")}
}

// Handler builds the host's HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if s.opts.Frames != nil {
		r.Method(http.MethodGet, "/ws/component", s.opts.Frames)
	}
	if s.opts.ComponentsDir != "" {
		r.Handle("/component/*", http.StripPrefix("/component/", http.FileServer(http.Dir(s.opts.ComponentsDir))))
	}
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, s.opts.MetricsPath, s.opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(preflight)
		r.Get("/resolve", s.handleResolve)
		r.Get("/network", s.handleNetwork)
		r.Route("/components", func(r chi.Router) {
			r.Get("/", s.handleList)
			r.Get("/{id}", s.handleGet)
			r.Post("/{id}/args", s.handleArgs)
			r.Get("/{id}/stream", s.handleStream)
		})
	})
	return r
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if s.opts.Resolver == nil {
		writeError(w, http.StatusServiceUnavailable, "resolver unavailable")
		return
	}
	name := strings.TrimSpace(r.URL.Query().Get("component"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "component required")
		return
	}
	path := r.URL.Query().Get("path")
	writeJSON(w, http.StatusOK, map[string]any{"url": s.opts.Resolver.ComponentURL(name, path)})
}

func (s *Server) handleNetwork(w http.ResponseWriter, _ *http.Request) {
	frames := []network.FrameInfo{}
	if s.opts.Frames != nil {
		frames = s.opts.Frames.Frames()
	}
	if s.opts.Peers == nil {
		writeJSON(w, http.StatusOK, map[string]any{"transport": "memory", "frames": frames})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transport": "libp2p",
		"peer_id":   s.opts.Peers.PeerID(),
		"peers":     s.opts.Peers.ConnectedPeers(),
		"frames":    frames,
	})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Instances == nil {
		writeError(w, http.StatusServiceUnavailable, "instance service unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"instances": s.opts.Instances.List(),
		"remote":    s.opts.Instances.ListRemote(),
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if s.opts.Instances == nil {
		writeError(w, http.StatusServiceUnavailable, "instance service unavailable")
		return
	}
	inst, err := s.opts.Instances.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeInstanceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"instance": inst})
}

func (s *Server) handleArgs(w http.ResponseWriter, r *http.Request) {
	if s.opts.Instances == nil {
		writeError(w, http.StatusServiceUnavailable, "instance service unavailable")
		return
	}
	var req struct {
		Args map[string]any `json:"args"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	inst, err := s.opts.Instances.SetArgs(chi.URLParam(r, "id"), req.Args)
	if err != nil {
		writeInstanceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"instance": inst})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.opts.Instances == nil {
		writeError(w, http.StatusServiceUnavailable, "instance service unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	ch, cancel, err := s.opts.Instances.Subscribe(chi.URLParam(r, "id"))
	if err != nil {
		writeInstanceError(w, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func preflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			writeNoContent(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeEvent(w http.ResponseWriter, msg network.Message) error {
	_, err := w.Write([]byte("event: instance\ndata: " + string(msg.Payload) + "\n\n"))
	return err
}

func writeInstanceError(w http.ResponseWriter, err error) {
	if errors.Is(err, instance.ErrInstanceNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeNoContent(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	w.WriteHeader(http.StatusNoContent)
}
