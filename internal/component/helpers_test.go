package component

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"ClawdCity-Host/internal/core/network"
)

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func warnings(logs *observer.ObservedLogs) int {
	return logs.FilterLevelExact(zapcore.WarnLevel).Len()
}

func raw(t *testing.T, from *network.Source, v any) network.Message {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return network.Message{Topic: DefaultTopic, From: from, Payload: b}
}

type call struct {
	kind    string
	payload map[string]any
}

type recorder struct {
	calls chan call
}

func newRecorder() *recorder {
	return &recorder{calls: make(chan call, 32)}
}

func (r *recorder) listener() Listener {
	return func(kind string, payload map[string]any) {
		r.calls <- call{kind: kind, payload: payload}
	}
}

func (r *recorder) count() int {
	return len(r.calls)
}

func (r *recorder) next(t *testing.T) call {
	t.Helper()
	select {
	case c := <-r.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("listener was not invoked")
		return call{}
	}
}

func waitFor(t *testing.T, timeout time.Duration, ok func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ok() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for condition after %s", timeout)
}
