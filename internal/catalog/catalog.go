// Package catalog aggregates the tools advertised by every registered
// server into one namespace the model can address. Names stay bare
// while they are unique; when two servers advertise the same tool name,
// every claimant is re-qualified as "<server>_<tool>" so no bare name
// ever resolves ambiguously.
package catalog

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/parleybot/parley/internal/proto"
	"github.com/parleybot/parley/internal/server"
)

// sanitizeRe matches characters that are not lowercase alphanumeric or underscore.
var sanitizeRe = regexp.MustCompile(`[^a-z0-9_]`)

// Entry is one exposed tool: the name the model sees, the descriptor
// the server advertised, and the connector that executes it.
type Entry struct {
	// Name is the exposed (possibly qualified) name.
	Name string

	// Descriptor keeps the server-local name in Descriptor.Name; calls
	// are always forwarded under that original name.
	Descriptor server.ToolDescriptor

	// Connector executes calls for this tool.
	Connector server.Connector
}

// Catalog is the aggregated tool namespace. Safe for concurrent use.
type Catalog struct {
	logger *slog.Logger

	mu       sync.RWMutex
	order    []*Entry            // registration order
	entries  map[string]*Entry   // exposed name -> entry
	byServer map[string][]*Entry // server name -> its entries
	byBare   map[string][]*Entry // bare tool name -> claimants
}

// New creates an empty catalog.
func New(logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		logger:   logger,
		entries:  make(map[string]*Entry),
		byServer: make(map[string][]*Entry),
		byBare:   make(map[string][]*Entry),
	}
}

// Register adds a server's tools to the namespace. Unique tool names
// are exposed bare. When a name is already claimed, the existing
// claimant is renamed to its qualified form and the new tool enters
// qualified as well, so a collision never leaves a bare winner.
//
// Registration is all or nothing: every rename and insertion is
// planned before anything is applied, so a name clash leaves the
// namespace exactly as it was.
func (c *Catalog) Register(conn server.Connector, tools []server.ToolDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	serverName := conn.Name()
	if len(c.byServer[serverName]) > 0 {
		return fmt.Errorf("server %q is already registered", serverName)
	}

	type rename struct {
		entry *Entry
		to    string
	}
	var renames []rename
	planned := make(map[string]bool, len(tools)) // names this plan claims or vacates
	newEntries := make([]*Entry, 0, len(tools))

	taken := func(name string) bool {
		if planned[name] {
			return true
		}
		_, ok := c.entries[name]
		return ok
	}

	plannedBare := make(map[string]bool, len(tools))
	for _, td := range tools {
		if plannedBare[td.Name] {
			return fmt.Errorf("server %q advertises duplicate tool %q", serverName, td.Name)
		}
		plannedBare[td.Name] = true

		entry := &Entry{
			Descriptor: td,
			Connector:  conn,
		}

		if len(c.byBare[td.Name]) == 0 && !taken(td.Name) {
			entry.Name = td.Name
		} else {
			// Demote the current bare holder, if any, to its
			// qualified name.
			for _, prev := range c.byBare[td.Name] {
				if prev.Name != td.Name {
					continue
				}
				qualified := QualifiedName(prev.Descriptor.Server, prev.Descriptor.Name)
				if taken(qualified) {
					return fmt.Errorf("qualified name %q already in use", qualified)
				}
				renames = append(renames, rename{entry: prev, to: qualified})
				planned[qualified] = true
			}
			entry.Name = QualifiedName(serverName, td.Name)
			if taken(entry.Name) {
				return fmt.Errorf("tool name %q already in use", entry.Name)
			}
		}

		if planned[entry.Name] {
			return fmt.Errorf("tool name %q already in use", entry.Name)
		}
		planned[entry.Name] = true
		newEntries = append(newEntries, entry)
	}

	for _, r := range renames {
		delete(c.entries, r.entry.Name)
		r.entry.Name = r.to
		c.entries[r.to] = r.entry
		c.logger.Debug("tool renamed on collision",
			"server", r.entry.Descriptor.Server,
			"tool", r.entry.Descriptor.Name,
			"exposed", r.to,
		)
	}
	for _, e := range newEntries {
		c.entries[e.Name] = e
		c.order = append(c.order, e)
		c.byServer[serverName] = append(c.byServer[serverName], e)
		c.byBare[e.Descriptor.Name] = append(c.byBare[e.Descriptor.Name], e)
	}

	c.logger.Info("server tools registered",
		"server", serverName,
		"count", len(tools),
	)
	return nil
}

// Deregister removes every tool the named server contributed. Surviving
// claimants of a collided name keep their qualified names; renaming
// back would change the namespace under the model mid-conversation.
func (c *Catalog) Deregister(serverName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := c.byServer[serverName]
	if len(removed) == 0 {
		return
	}
	delete(c.byServer, serverName)

	gone := make(map[*Entry]bool, len(removed))
	for _, e := range removed {
		gone[e] = true
		delete(c.entries, e.Name)
	}

	c.order = filterEntries(c.order, gone)
	for bare, claimants := range c.byBare {
		kept := filterEntries(claimants, gone)
		if len(kept) == 0 {
			delete(c.byBare, bare)
		} else {
			c.byBare[bare] = kept
		}
	}

	c.logger.Info("server tools deregistered",
		"server", serverName,
		"count", len(removed),
	)
}

// filterEntries returns entries not present in the gone set.
func filterEntries(entries []*Entry, gone map[*Entry]bool) []*Entry {
	kept := entries[:0]
	for _, e := range entries {
		if !gone[e] {
			kept = append(kept, e)
		}
	}
	return kept
}

// Resolve finds the tool exposed under name. Unknown names fail with a
// tool_not_found classification; that failure is terminal, never retried.
func (c *Catalog) Resolve(name string) (Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[name]
	if !ok {
		return Entry{}, proto.NewError(proto.KindToolNotFound, "no tool named %q", name)
	}
	return *entry, nil
}

// List returns all exposed tools in registration order.
func (c *Catalog) List() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Entry, 0, len(c.order))
	for _, e := range c.order {
		out = append(out, *e)
	}
	return out
}

// Len returns the number of exposed tools.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Instructions renders the full namespace as a prompt block: every
// exposed tool followed by its parameter schema, in registration order.
func (c *Catalog) Instructions() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var sb strings.Builder
	for i, e := range c.order {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(proto.FormatSchemaForModel(e.Name, e.Descriptor.Description, e.Descriptor.InputSchema))
	}
	return sb.String()
}

// QualifiedName builds the collision-safe exposed name from a server
// name and tool name. Both components are sanitized to lowercase
// alphanumerics and underscores.
func QualifiedName(serverName, toolName string) string {
	return fmt.Sprintf("%s_%s", sanitize(serverName), sanitize(toolName))
}

// sanitize lowercases a name and replaces anything outside [a-z0-9_]
// with underscores, collapsing runs and trimming the ends.
func sanitize(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, "-", "_")
	s = sanitizeRe.ReplaceAllString(s, "_")

	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}

	return strings.Trim(s, "_")
}
