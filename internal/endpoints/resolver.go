// Package endpoints builds the URLs component frames load their resources from.
package endpoints

import "strings"

// Resolver turns a component name and a path relative to the component's
// root into a concrete resource location.
type Resolver interface {
	BuildComponentURL(componentName, path string) string
}

// Option configures an HTTP resolver.
type Option func(*httpResolver)

// WithManifest rewrites paths through a fingerprint manifest.
func WithManifest(m *Manifest) Option {
	return func(r *httpResolver) {
		r.manifest = m
	}
}

type httpResolver struct {
	baseURL  string
	manifest *Manifest
}

// NewHTTP returns a resolver serving components under <baseURL>/component/.
//
//	r := endpoints.NewHTTP("http://localhost:8090")
//	r.BuildComponentURL("my_widget", "frontend/main.js")
//	// "http://localhost:8090/component/my_widget/frontend/main.js"
func NewHTTP(baseURL string, opts ...Option) Resolver {
	r := &httpResolver{baseURL: strings.TrimRight(baseURL, "/")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *httpResolver) BuildComponentURL(componentName, path string) string {
	name := strings.Trim(componentName, "/")
	rel := strings.TrimLeft(path, "/")
	if r.manifest != nil {
		rel = r.manifest.Resolve(name, rel)
	}
	return r.baseURL + "/component/" + name + "/" + rel
}
