// ABOUTME: Closed tool registry mapping tool identifiers to executable modules.
// ABOUTME: Manages registration, schema compilation, and tool lookup.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrToolCollision indicates a tool id is already registered.
var ErrToolCollision = errors.New("tool id collision")

// ErrToolNotFound indicates the specified tool was not found.
var ErrToolNotFound = errors.New("tool not found")

// DefaultToolTimeout bounds execution of modules registered without an
// explicit timeout.
const DefaultToolTimeout = 30 * time.Second

// Meta carries the safety flags the orchestrator checks before execution.
type Meta struct {
	Mutates         bool
	Costly          bool
	RequiresConfirm bool
	Timeout         time.Duration
}

// NeedsConfirmation reports whether execution requires an explicit confirm
// flag in the arguments.
func (m Meta) NeedsConfirmation() bool {
	return m.RequiresConfirm || m.Mutates || m.Costly
}

// Context carries per-turn identity into tool handlers.
type Context struct {
	UserID         string
	ConversationID string
	SessionID      string
}

// Handler executes a tool with validated arguments.
type Handler func(ctx context.Context, tc *Context, args json.RawMessage) (json.RawMessage, error)

// Module is one registered tool: contracts, safety metadata, and the
// execution capability.
type Module struct {
	ID              string
	Description     string
	InputSchemaJSON string
	Meta            Meta
	Handler         Handler

	schema *jsonschema.Schema
}

// ValidateArgs checks an untrusted argument payload against the module's
// compiled input schema.
func (m *Module) ValidateArgs(args json.RawMessage) error {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	var parsed any
	if err := json.Unmarshal(args, &parsed); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}

	if m.schema == nil {
		return nil
	}
	if err := m.schema.Validate(parsed); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// Registry is the closed map from tool identifier to module, resolved once
// at startup.
type Registry struct {
	mu             sync.RWMutex
	modules        map[string]*Module
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// NewRegistry creates a new Registry instance.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		modules:        make(map[string]*Module),
		defaultTimeout: DefaultToolTimeout,
		logger:         logger.With("component", "tools"),
	}
}

// SetDefaultTimeout replaces the timeout applied to modules that register
// without one. Must be called before the modules are registered.
func (r *Registry) SetDefaultTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d > 0 {
		r.defaultTimeout = d
	}
}

// Register adds a module to the registry, compiling its input schema.
// Returns ErrToolCollision if the id is already taken.
func (r *Registry) Register(m *Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[m.ID]; exists {
		return fmt.Errorf("%w: %s", ErrToolCollision, m.ID)
	}

	if m.Meta.Timeout <= 0 {
		m.Meta.Timeout = r.defaultTimeout
	}

	if m.InputSchemaJSON != "" {
		var schemaObj any
		if err := json.Unmarshal([]byte(m.InputSchemaJSON), &schemaObj); err != nil {
			return fmt.Errorf("parsing schema for %s: %w", m.ID, err)
		}

		c := jsonschema.NewCompiler()
		if err := c.AddResource(m.ID+".schema.json", schemaObj); err != nil {
			return fmt.Errorf("adding schema resource for %s: %w", m.ID, err)
		}
		sch, err := c.Compile(m.ID + ".schema.json")
		if err != nil {
			return fmt.Errorf("compiling schema for %s: %w", m.ID, err)
		}
		m.schema = sch
	}

	r.modules[m.ID] = m
	r.logger.Debug("registered tool", "id", m.ID, "mutates", m.Meta.Mutates, "costly", m.Meta.Costly)
	return nil
}

// RegisterAll registers a batch of modules, failing on the first error.
func (r *Registry) RegisterAll(modules []*Module) error {
	for _, m := range modules {
		if err := r.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the module for an id, or ErrToolNotFound.
func (r *Registry) Get(id string) (*Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.modules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, id)
	}
	return m, nil
}

// IDs returns the registered tool identifiers, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.modules))
	for id := range r.modules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Definitions returns the provider-facing tool definitions, sorted by id.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.modules))
	for _, m := range r.modules {
		defs = append(defs, Definition{
			ID:          m.ID,
			Description: m.Description,
			InputSchema: json.RawMessage(m.InputSchemaJSON),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// Definition is the shape of a tool as advertised to the model provider.
type Definition struct {
	ID          string
	Description string
	InputSchema json.RawMessage
}
