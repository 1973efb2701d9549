// Package config loads the component host configuration.
package config

// ComponentsSection controls where component assets come from.
type ComponentsSection struct {
	// Dir holds one directory per component, served under /component/<name>/.
	Dir string `yaml:"dir"`
	// Manifest is an optional JSON fingerprint manifest.
	Manifest string `yaml:"manifest"`
	// Allowed restricts which components frames may mount. Empty allows all.
	Allowed []string `yaml:"allowed"`
}

// Libp2pSection configures the gossip transport for instance events.
type Libp2pSection struct {
	ListenAddrs     []string `yaml:"listen_addrs"`
	Bootstrap       []string `yaml:"bootstrap"`
	Rendezvous      string   `yaml:"rendezvous"`
	EnableMDNS      bool     `yaml:"enable_mdns"`
	IdentityKeyFile string   `yaml:"identity_key_file"`
}

// EventsSection selects the transport instance events travel on.
type EventsSection struct {
	// Transport is "memory" (single node) or "libp2p".
	Transport string        `yaml:"transport"`
	Libp2p    Libp2pSection `yaml:"libp2p"`
}

type LogSection struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type MetricsSection struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Config is the component host configuration file.
type Config struct {
	Version int `yaml:"version,omitempty"`

	Listen  string `yaml:"listen"`
	BaseURL string `yaml:"base_url"`
	// ChannelTopic is the shared inbound channel topic frames publish on.
	ChannelTopic string `yaml:"channel_topic"`
	// AllowedOrigins lists page origins frames may connect from. "*" allows any.
	AllowedOrigins []string `yaml:"allowed_origins"`

	Components ComponentsSection `yaml:"components"`
	Events     EventsSection     `yaml:"events"`
	Log        LogSection        `yaml:"log"`
	Metrics    MetricsSection    `yaml:"metrics"`
}

const (
	TransportMemory = "memory"
	TransportLibp2p = "libp2p"
)

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Version:      1,
		Listen:       ":8090",
		BaseURL:      "http://localhost:8090",
		ChannelTopic: "component.message",
		Components: ComponentsSection{
			Dir: "components",
		},
		Events: EventsSection{
			Transport: TransportMemory,
			Libp2p: Libp2pSection{
				ListenAddrs: []string{"/ip4/0.0.0.0/tcp/0"},
				Rendezvous:  "clawdcity-components",
				EnableMDNS:  true,
			},
		},
		Log: LogSection{
			Level: "info",
		},
		Metrics: MetricsSection{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
