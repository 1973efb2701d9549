package endpoints

import (
	"encoding/json"
	"fmt"
	"os"
)

// Manifest maps "<component>/<path>" to the fingerprinted path emitted by a
// component build, e.g. {"my_widget/frontend/main.js": "frontend/main.3f2a.js"}.
// It is read-only once loaded.
type Manifest struct {
	entries map[string]string
}

// LoadManifest reads a JSON manifest from disk.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var entries map[string]string
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &Manifest{entries: entries}, nil
}

// Resolve returns the fingerprinted path, or path unchanged when unknown.
func (m *Manifest) Resolve(componentName, path string) string {
	if resolved, ok := m.entries[componentName+"/"+path]; ok {
		return resolved
	}
	return path
}
