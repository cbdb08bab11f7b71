package agent

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/lumenarc/voicegateway/internal/gatewayerr"
)

const rootAlias = "root"

// Registry is the process-wide, read-mostly in-memory catalog of
// agent definitions. register/register_root happen at startup or at
// subject-initialization; after that the registry is read-heavy and
// its RWMutex lets concurrent readers share the read lock, mirroring
// the teacher's ToolRegistry (internal/agent/tool_registry.go).
//
// Rather than eagerly mutating every other agent's tool list when
// root registers (the source's two-way mutation pattern flagged in
// the design notes), peer switch-tools are computed lazily inside
// ToolsFor so registration order never matters.
type Registry struct {
	mu      sync.RWMutex
	agents  map[string]*AgentDefinition
	rootID  string
	language string
}

// NewRegistry creates an empty registry. language is substituted for
// {language} in system message templates at registration time;
// callers that don't care about localization can pass "".
func NewRegistry(language string) *Registry {
	return &Registry{
		agents:   make(map[string]*AgentDefinition),
		language: language,
	}
}

// Register inserts agent into the catalog keyed by its id. Re-registering
// the same id is idempotent-overwrite: the final state after
// registering the same definition twice is identical to registering it
// once (testable property 6).
func (r *Registry) Register(def AgentDefinition) error {
	if def.ID == "" {
		return fmt.Errorf("agent id required: %w", gatewayerr.ErrDuplicateAgent)
	}
	for _, tool := range def.Tools {
		if err := validateParametersSchema(tool.Name, tool.ParametersSchema); err != nil {
			return err
		}
	}
	def.SystemMessage = ExpandSystemMessage(def.SystemMessage, r.language)

	r.mu.Lock()
	defer r.mu.Unlock()
	stored := def
	r.agents[def.ID] = &stored
	return nil
}

// validateParametersSchema rejects a tool whose parameters_schema is not
// itself a well-formed JSON Schema, catching a malformed registration
// before it ever reaches the upstream provider.
func validateParametersSchema(toolName string, schema map[string]any) error {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("tool %s: encoding parameters_schema: %w", toolName, err)
	}
	if _, err := jsonschema.CompileString(toolName+".schema.json", string(raw)); err != nil {
		return fmt.Errorf("tool %s: invalid parameters_schema: %w", toolName, err)
	}
	return nil
}

// RegisterRoot registers agent like Register and additionally installs
// it under the alias "root", making it the concierge every non-root
// agent can switch back to.
func (r *Registry) RegisterRoot(def AgentDefinition) error {
	if err := r.Register(def); err != nil {
		return err
	}
	r.mu.Lock()
	r.rootID = def.ID
	r.mu.Unlock()
	return nil
}

// resolveID maps the "root" alias to the concrete registered root id.
// Must be called with r.mu held (read or write).
func (r *Registry) resolveID(id string) string {
	if id == rootAlias && r.rootID != "" {
		return r.rootID
	}
	return id
}

// Get returns the agent registered under id (or the alias "root").
func (r *Registry) Get(id string) (*AgentDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	resolved := r.resolveID(id)
	a, ok := r.agents[resolved]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, gatewayerr.ErrAgentNotFound)
	}
	cp := *a
	return &cp, nil
}

// RootID returns the id the "root" alias currently resolves to, or ""
// if no root has been registered yet.
func (r *Registry) RootID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rootID
}

// ToolsFor returns agentID's own tools reshaped for the wire, followed
// by one generated switch-tool per other registered agent (empty
// parameters object, description = the peer's description). Never
// includes a switch-tool named agentID itself, and the combined name
// set has no duplicates (the two registry invariants in §4.1).
func (r *Registry) ToolsFor(agentID string) ([]LLMTool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resolved := r.resolveID(agentID)
	self, ok := r.agents[resolved]
	if !ok {
		return nil, fmt.Errorf("%s: %w", agentID, gatewayerr.ErrAgentNotFound)
	}

	seen := make(map[string]struct{}, len(self.Tools))
	out := make([]LLMTool, 0, len(self.Tools)+len(r.agents)-1)
	for _, t := range self.Tools {
		if _, dup := seen[t.Name]; dup {
			continue
		}
		seen[t.Name] = struct{}{}
		out = append(out, t.AsLLMTool())
	}

	for id, peer := range r.agents {
		if id == resolved {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, LLMTool{
			Type:        "function",
			Name:        id,
			Description: peer.Description,
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		})
	}
	return out, nil
}

// FindTool locates a concrete (non-generated) tool by name across every
// registered agent's own tool list. It does not resolve generated
// switch-tools; callers check those separately via Get(name).
func (r *Registry) FindTool(name string) (ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.agents {
		for _, t := range a.Tools {
			if t.Name == name {
				return t, true
			}
		}
	}
	return ToolDefinition{}, false
}

// IterateAllTools yields every concrete tool across all agents plus
// every generated switch-tool (one per registered agent).
func (r *Registry) IterateAllTools() []LLMTool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []LLMTool
	for _, a := range r.agents {
		for _, t := range a.Tools {
			if _, dup := seen[t.Name]; dup {
				continue
			}
			seen[t.Name] = struct{}{}
			out = append(out, t.AsLLMTool())
		}
	}
	for id, a := range r.agents {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, LLMTool{
			Type:        "function",
			Name:        id,
			Description: a.Description,
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		})
	}
	return out
}
