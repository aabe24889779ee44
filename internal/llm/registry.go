package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/parleybot/parley/internal/proto"
)

// Registry holds the configured providers and tracks which one is
// active. Switching providers swaps only the backend; the conversation
// transcript lives with the caller and survives the switch untouched.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
	active  string
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

// Add registers a provider under a name. The first provider added
// becomes the active one.
func (r *Registry) Add(name string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	if r.active == "" {
		r.active = name
	}
}

// Use switches the active provider. Unknown names fail without
// changing the current selection.
func (r *Registry) Use(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[name]; !ok {
		return fmt.Errorf("unknown provider %q (available: %v)", name, r.namesLocked())
	}
	r.active = name
	return nil
}

// Active returns the active provider's name and client.
func (r *Registry) Active() (string, Client) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active, r.clients[r.active]
}

// Names lists the registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Chat forwards to the active provider.
func (r *Registry) Chat(ctx context.Context, messages []Message) (*Reply, error) {
	name, client := r.Active()
	if client == nil {
		return nil, proto.NewError(proto.KindProviderUnavailable, "no provider configured")
	}
	reply, err := client.Chat(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", name, err)
	}
	return reply, nil
}

// Ping checks the active provider.
func (r *Registry) Ping(ctx context.Context) error {
	_, client := r.Active()
	if client == nil {
		return proto.NewError(proto.KindProviderUnavailable, "no provider configured")
	}
	return client.Ping(ctx)
}
