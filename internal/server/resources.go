// Package server hosts the protocol surface: the lifecycle state machine,
// the resource and tool registries, request dispatch, and the in-process
// transport.
package server

import (
	"sync"

	"github.com/lexgo-dev/lexgo/pkg/protocol"
)

// ResourceRegistry holds the resources the server exposes over
// resources/list and resources/read, keyed by URI.
type ResourceRegistry struct {
	mu        sync.RWMutex
	resources map[string]protocol.Resource
	contents  map[string]string
	order     []string
}

// NewResourceRegistry creates an empty registry.
func NewResourceRegistry() *ResourceRegistry {
	return &ResourceRegistry{
		resources: make(map[string]protocol.Resource),
		contents:  make(map[string]string),
	}
}

// Register adds a resource and its content under the resource's URI.
func (r *ResourceRegistry) Register(res protocol.Resource, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res.URI == "" {
		return protocol.Errorf(protocol.CodeInvalidParams, "resource URI must not be empty")
	}
	if _, exists := r.resources[res.URI]; exists {
		return protocol.Errorf(protocol.CodeInvalidParams, "resource already registered: %s", res.URI)
	}
	r.resources[res.URI] = res
	r.contents[res.URI] = text
	r.order = append(r.order, res.URI)
	return nil
}

// List returns all resources in registration order.
func (r *ResourceRegistry) List() []protocol.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]protocol.Resource, 0, len(r.order))
	for _, uri := range r.order {
		out = append(out, r.resources[uri])
	}
	return out
}

// Read returns the content of one resource by URI.
func (r *ResourceRegistry) Read(uri string) (protocol.ResourceContents, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.resources[uri]
	if !ok {
		return protocol.ResourceContents{}, protocol.Errorf(
			protocol.CodeResourceNotFound, "resource not found: %s", uri)
	}
	return protocol.ResourceContents{
		URI:      uri,
		MimeType: res.MimeType,
		Text:     r.contents[uri],
	}, nil
}
