package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "host.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default().Listen, cfg.Listen)
	require.Equal(t, "component.message", cfg.ChannelTopic)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: ":9000"
base_url: "https://apps.example.com/host"
allowed_origins: ["https://apps.example.com"]
components:
  dir: /srv/components
  allowed: [color_picker, slider]
events:
  transport: libp2p
  libp2p:
    bootstrap: ["/ip4/10.0.0.2/tcp/4001/p2p/12D3KooWExample"]
    enable_mdns: false
log:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Listen)
	require.Equal(t, "https://apps.example.com/host", cfg.BaseURL)
	require.Equal(t, []string{"https://apps.example.com"}, cfg.AllowedOrigins)
	require.Equal(t, "/srv/components", cfg.Components.Dir)
	require.Equal(t, []string{"color_picker", "slider"}, cfg.Components.Allowed)
	require.Equal(t, TransportLibp2p, cfg.Events.Transport)
	require.False(t, cfg.Events.Libp2p.EnableMDNS)
	require.Equal(t, "clawdcity-components", cfg.Events.Libp2p.Rendezvous)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "component.message", cfg.ChannelTopic)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("COMPONENT_HOST_LISTEN", ":7000")
	t.Setenv("COMPONENT_HOST_ALLOWED_ORIGINS", "https://a.test, ,https://b.test")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.Listen)
	require.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.AllowedOrigins)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "listen: [unterminated"))
	require.ErrorContains(t, err, "failed to parse config file")

	_, err = Load(writeConfig(t, "events:\n  transport: carrier-pigeon\n"))
	require.ErrorContains(t, err, "events.transport")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty listen", func(c *Config) { c.Listen = "" }, "listen must be set"},
		{"relative base url", func(c *Config) { c.BaseURL = "/host" }, "absolute http(s) URL"},
		{"bad scheme", func(c *Config) { c.BaseURL = "ftp://h" }, "absolute http(s) URL"},
		{"empty topic", func(c *Config) { c.ChannelTopic = " " }, "channel_topic"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, "metrics.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	cfg := Default()
	cfg.Metrics.Enabled = false
	cfg.Metrics.Path = ""
	require.NoError(t, cfg.Validate())
}
