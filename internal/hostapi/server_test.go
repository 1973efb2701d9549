package hostapi

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ClawdCity-Host/internal/component"
	"ClawdCity-Host/internal/core/network"
	"ClawdCity-Host/internal/endpoints"
	"ClawdCity-Host/internal/instance"
)

type host struct {
	srv    *httptest.Server
	mgr    *instance.Manager
	bridge *network.WebSocketBridge
}

func newHost(t *testing.T) *host {
	t.Helper()
	logger := zap.NewNop()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "slider"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "slider", "index.html"), []byte("<p>slider</p>"), 0o644))

	promReg := prometheus.NewRegistry()
	inbound := network.NewMemoryPubSub(network.WithBlockingDelivery())
	reg, err := component.New(inbound, endpoints.NewHTTP("http://localhost:8090"),
		component.WithLogger(logger), component.WithRegisterer(promReg))
	require.NoError(t, err)
	t.Cleanup(reg.Close)

	bridge := network.NewWebSocketBridge(inbound, component.DefaultTopic, nil, logger)
	mgr := instance.NewManager(reg, bridge, network.NewMemoryPubSub(), logger)
	t.Cleanup(mgr.Close)
	mgr.AllowComponents("slider")
	bridge.SetLifecycleHooks(func(src *network.Source, name string) error {
		_, err := mgr.Attach(src, name)
		return err
	}, func(src *network.Source) {
		_ = mgr.Detach(src)
	})

	s := NewServer(Options{
		Instances:     mgr,
		Resolver:      reg,
		Frames:        bridge,
		ComponentsDir: dir,
		Metrics:       promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
		Logger:        logger,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &host{srv: srv, mgr: mgr, bridge: bridge}
}

func (h *host) dial(t *testing.T, name string) *websocket.Conn {
	t.Helper()
	u, err := url.Parse(h.srv.URL + "/ws/component")
	require.NoError(t, err)
	u.Scheme = "ws"
	u.RawQuery = url.Values{"component": {name}}.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (h *host) getJSON(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(h.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func waitFor(t *testing.T, ok func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ok() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func sendFrame(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	msg[component.MarkerField] = true
	require.NoError(t, conn.WriteJSON(msg))
}

func TestFrameLifecycleOverHTTP(t *testing.T) {
	h := newHost(t)
	conn := h.dial(t, "slider")

	waitFor(t, func() bool { return len(h.mgr.List()) == 1 })
	id := h.mgr.List()[0].ID

	var netInfo struct {
		Frames []network.FrameInfo `json:"frames"`
	}
	require.Equal(t, http.StatusOK, h.getJSON(t, "/api/network", &netInfo))
	require.Len(t, netInfo.Frames, 1)
	require.Equal(t, "slider", netInfo.Frames[0].Component)
	require.Equal(t, h.mgr.List()[0].SourceID, netInfo.Frames[0].SourceID)

	sendFrame(t, conn, map[string]any{"type": instance.KindReady})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var render map[string]any
	require.NoError(t, conn.ReadJSON(&render))
	require.Equal(t, instance.KindRender, render["type"])
	require.Equal(t, id, render["instance"])

	resp, err := http.Post(h.srv.URL+"/api/components/"+id+"/args", "application/json",
		bytes.NewBufferString(`{"args":{"min":0,"max":10}}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	render = nil
	require.NoError(t, conn.ReadJSON(&render))
	require.Equal(t, map[string]any{"min": float64(0), "max": float64(10)}, render["args"])

	sendFrame(t, conn, map[string]any{"type": instance.KindSetValue, "value": 7})
	waitFor(t, func() bool {
		inst, err := h.mgr.Get(id)
		return err == nil && inst.Value != nil
	})

	var got struct {
		Instance instance.Instance `json:"instance"`
	}
	require.Equal(t, http.StatusOK, h.getJSON(t, "/api/components/"+id, &got))
	require.True(t, got.Instance.Ready)
	require.Equal(t, float64(7), got.Instance.Value)

	require.NoError(t, conn.Close())
	waitFor(t, func() bool { return len(h.mgr.List()) == 0 })
	require.Equal(t, http.StatusNotFound, h.getJSON(t, "/api/components/"+id, nil))
}

func TestUnknownComponentFrameIsClosed(t *testing.T) {
	h := newHost(t)
	conn := h.dial(t, "not_allowed")
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	require.Empty(t, h.mgr.List())
}

func TestInstanceStream(t *testing.T) {
	h := newHost(t)
	conn := h.dial(t, "slider")
	waitFor(t, func() bool { return len(h.mgr.List()) == 1 })
	id := h.mgr.List()[0].ID

	resp, err := http.Get(h.srv.URL + "/api/components/" + id + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sendFrame(t, conn, map[string]any{"type": instance.KindSetFrameHeight, "height": 240})

	lines := make(chan string, 8)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream ended early")
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var evt instance.Event
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt))
			require.Equal(t, instance.EventFrameHeight, evt.Type)
			require.Equal(t, 240, evt.Instance.FrameHeight)
			return
		case <-time.After(2 * time.Second):
			t.Fatal("expected a stream event")
		}
	}
}

func TestResolveAndAssets(t *testing.T) {
	h := newHost(t)

	var out map[string]string
	require.Equal(t, http.StatusOK, h.getJSON(t, "/api/resolve?component=my_widget&path=index.html", &out))
	require.Equal(t, "http://localhost:8090/component/my_widget/index.html", out["url"])

	require.Equal(t, http.StatusBadRequest, h.getJSON(t, "/api/resolve?path=index.html", nil))

	resp, err := http.Get(h.srv.URL + "/component/slider/index.html")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	require.Equal(t, "<p>slider</p>", buf.String())
}

func TestErrorsAndMetrics(t *testing.T) {
	h := newHost(t)

	require.Equal(t, http.StatusNotFound, h.getJSON(t, "/api/components/missing", nil))
	require.Equal(t, http.StatusNotFound, h.getJSON(t, "/api/components/missing/stream", nil))

	resp, err := http.Post(h.srv.URL+"/api/components/missing/args", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var netInfo map[string]any
	require.Equal(t, http.StatusOK, h.getJSON(t, "/api/network", &netInfo))
	require.Equal(t, "memory", netInfo["transport"])
	require.Empty(t, netInfo["frames"])

	resp, err = http.Get(h.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	require.Contains(t, body.String(), "component_messages_total")
}

func TestUnavailableServices(t *testing.T) {
	srv := httptest.NewServer(NewServer(Options{}).Handler())
	defer srv.Close()

	for _, path := range []string{"/api/components", "/api/resolve?component=x"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, path)
	}

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/components", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}
