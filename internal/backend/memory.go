package backend

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/parleybot/parley/internal/server"
)

// memoryStore is the shared state behind the memory backend's tools.
type memoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory creates the in-memory key-value backend. Contents live for
// the process lifetime only.
func NewMemory(name string, logger *slog.Logger) *Builtin {
	store := &memoryStore{data: make(map[string]string)}

	tools := []Tool{
		{
			Name:        "memory_set",
			Description: "Set a value in memory",
			InputSchema: objectSchema(map[string]any{
				"key":   prop("string", "Key to store the value under"),
				"value": prop("string", "Value to store"),
			}, "key", "value"),
			Handler: store.set,
		},
		{
			Name:        "memory_get",
			Description: "Get a value from memory",
			InputSchema: objectSchema(map[string]any{
				"key": prop("string", "Key to retrieve the value for"),
			}, "key"),
			Handler: store.get,
		},
		{
			Name:        "memory_delete",
			Description: "Delete a value from memory",
			InputSchema: objectSchema(map[string]any{
				"key": prop("string", "Key to delete"),
			}, "key"),
			Handler: store.delete,
		},
		{
			Name:        "memory_list",
			Description: "List all keys currently stored in memory",
			InputSchema: objectSchema(map[string]any{}),
			Handler:     store.list,
		},
	}

	resources := []server.ResourceDescriptor{
		{Pattern: "memory://*", Description: "Keys and values in the in-memory store"},
	}

	return newBuiltin(name, logger, tools, resources, nil)
}

func (s *memoryStore) set(_ context.Context, args map[string]any) (any, error) {
	key, err := stringArg(args, "key")
	if err != nil {
		return nil, err
	}
	value, err := stringArg(args, "value")
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.data[key] = value
	s.mu.Unlock()

	return map[string]any{"success": true}, nil
}

func (s *memoryStore) get(_ context.Context, args map[string]any) (any, error) {
	key, err := stringArg(args, "key")
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	value, exists := s.data[key]
	s.mu.RUnlock()

	return map[string]any{"value": value, "exists": exists}, nil
}

func (s *memoryStore) delete(_ context.Context, args map[string]any) (any, error) {
	key, err := stringArg(args, "key")
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	_, existed := s.data[key]
	delete(s.data, key)
	s.mu.Unlock()

	return map[string]any{"success": true, "existed": existed}, nil
}

func (s *memoryStore) list(_ context.Context, _ map[string]any) (any, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return map[string]any{"keys": keys, "count": len(keys)}, nil
}
