package mcp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/xeipuuv/gojsonschema"

	hosterr "github.com/setlist-architect/mcp-console-host/pkg/errors"
)

/*
Adapter is the high-level facade over the RPC client: tool discovery
with a TTL cache, conditional workspace injection, typed wrappers for
the known setlist tools, and translation of provider-reported
application outcomes into distinct, catchable failure kinds.

One Adapter serves one provider; the descriptor cache belongs to the
instance and is never shared across adapters.
*/
type Adapter struct {
	client    *Client
	workspace string
	validate  bool

	mu        sync.Mutex
	cache     []Tool
	cacheAt   time.Time
	acceptsWS map[string]bool
}

type AdapterOption func(*Adapter)

// WithValidation checks call arguments against the tool's discovered
// schema before anything goes on the wire.
func WithValidation() AdapterOption {
	return func(a *Adapter) { a.validate = true }
}

func NewAdapter(client *Client, workspace string, options ...AdapterOption) *Adapter {
	adapter := &Adapter{
		client:    client,
		workspace: workspace,
		acceptsWS: make(map[string]bool),
	}
	for _, option := range options {
		option(adapter)
	}
	return adapter
}

// SetWorkspace changes the default workspace injected into calls.
func (a *Adapter) SetWorkspace(ws string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ws != "" {
		a.workspace = ws
	}
}

// Workspace returns the adapter's current default workspace.
func (a *Adapter) Workspace() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.workspace
}

// Client exposes the underlying RPC client.
func (a *Adapter) Client() *Client { return a.client }

// Shutdown stops the underlying client and transport.
func (a *Adapter) Shutdown() {
	if err := a.client.Stop(); err != nil {
		log.Debug("client stop failed", "error", err)
	}
}

/*
Discovery is a tool-list snapshot. FromFallback distinguishes the
bundled descriptor set from a genuine provider answer so staleness stays
diagnosable.
*/
type Discovery struct {
	Tools        []Tool
	FromFallback bool
}

/*
Discover returns the cached descriptor list when younger than ttl,
otherwise issues tools/list and replaces the cache. Discovery failures
propagate; use ToolsOrFallback when a non-empty list is required.
*/
func (a *Adapter) Discover(ctx context.Context, ttl time.Duration) ([]Tool, error) {
	a.mu.Lock()
	if len(a.cache) > 0 && time.Since(a.cacheAt) < ttl {
		cached := a.cache
		a.mu.Unlock()
		return cached, nil
	}
	a.mu.Unlock()

	res, err := a.client.Call(ctx, MethodToolsList, map[string]any{})
	if err != nil {
		return nil, err
	}
	result, err := res.ResultMap()
	if err != nil {
		return nil, fmt.Errorf("invalid tools/list result: %w", err)
	}
	items, ok := result["tools"].([]any)
	if !ok {
		return nil, fmt.Errorf("invalid tools/list payload: missing tools array")
	}

	tools := make([]Tool, 0, len(items))
	accepts := make(map[string]bool, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		tool := normalizeTool(m)
		accepts[tool.Name] = tool.AcceptsWorkspace()
		tools = append(tools, tool)
	}

	a.mu.Lock()
	a.cache = tools
	a.cacheAt = time.Now()
	a.acceptsWS = accepts
	a.mu.Unlock()

	return tools, nil
}

/*
ToolsOrFallback never fails: a discovery error yields the bundled
descriptor set, flagged as such.
*/
func (a *Adapter) ToolsOrFallback(ctx context.Context, ttl time.Duration) *Discovery {
	tools, err := a.Discover(ctx, ttl)
	if err != nil {
		log.Warn("tool discovery failed, using bundled descriptors", "error", err)
		return &Discovery{Tools: fallbackTools(), FromFallback: true}
	}
	return &Discovery{Tools: tools}
}

/*
normalizeTool converts a raw descriptor into the canonical form. The
provider may spell the schema field either inputSchema or input_schema;
both normalize to one representation with a guaranteed object type and
properties map.
*/
func normalizeTool(m map[string]any) Tool {
	schema := asMap(m["input_schema"])
	if schema == nil {
		schema = asMap(m["inputSchema"])
	}
	if schema == nil {
		schema = map[string]any{}
	}
	if _, ok := schema["type"].(string); !ok {
		schema["type"] = "object"
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		props = map[string]any{}
		schema["properties"] = props
	}
	if ws, ok := props["workspace"].(map[string]any); ok {
		if _, has := ws["type"]; !has {
			ws["type"] = "string"
		}
		if _, has := ws["description"]; !has {
			ws["description"] = "Workspace/session id"
		}
	}
	return Tool{
		Name:        asString(m["name"]),
		Description: asString(m["description"]),
		InputSchema: schema,
	}
}

/*
Invoke dispatches one tool call. The workspace argument is injected only
when the discovered schema declares it or the tool sits on the
compatibility allow-list, and only when the caller did not supply one;
never unconditionally, so providers that reject unexpected fields stay
happy. A result whose status asks for disambiguation surfaces as a
ConfirmationError rather than a failure.
*/
func (a *Adapter) Invoke(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	if name == "" {
		return nil, fmt.Errorf("tool name must not be empty")
	}

	arguments := make(map[string]any, len(args)+1)
	for k, v := range args {
		arguments[k] = v
	}

	a.mu.Lock()
	acceptsWS := a.acceptsWS[name]
	workspace := a.workspace
	a.mu.Unlock()

	if _, has := arguments["workspace"]; !has && (acceptsWS || alwaysInjectWorkspace[name]) {
		arguments["workspace"] = workspace
	}

	if a.validate {
		if err := a.validateArgs(name, arguments); err != nil {
			return nil, err
		}
	}

	res, err := a.client.Call(ctx, MethodToolsCall, map[string]any{
		"name":      name,
		"arguments": arguments,
	})
	if err != nil {
		return nil, err
	}
	raw, err := res.ResultMap()
	if err != nil {
		return nil, fmt.Errorf("invalid tools/call result: %w", err)
	}

	result := newToolResult(raw)
	if result.IsError {
		msg := result.Text()
		if msg == "" {
			msg = fmt.Sprintf("tool %s reported an error", name)
		}
		return nil, hosterr.ErrInternal.WithMessagef("%s", msg)
	}

	if status := resultStatus(result); status == "needs_confirmation" {
		return nil, confirmationFrom(result, arguments)
	}
	return result, nil
}

/*
validateArgs checks the final argument object against the tool's cached
input schema. Unknown tools pass: validation never blocks a call the
provider might accept.
*/
func (a *Adapter) validateArgs(name string, args map[string]any) error {
	a.mu.Lock()
	var schema map[string]any
	for _, tool := range a.cache {
		if tool.Name == name {
			schema = tool.InputSchema
			break
		}
	}
	a.mu.Unlock()
	if schema == nil {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		log.Debug("schema validation unavailable", "tool", name, "error", err)
		return nil
	}
	if result.Valid() {
		return nil
	}
	details := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		details = append(details, e.String())
	}
	return fmt.Errorf("arguments for %s fail schema validation: %s", name, strings.Join(details, "; "))
}

/*
resultStatus digs the provider's status field out of either the bare
result object or its structuredContent wrapper.
*/
func resultStatus(result *ToolResult) string {
	if s := asString(result.Raw["status"]); s != "" {
		return s
	}
	return asString(result.Structured["status"])
}

func statusPayload(result *ToolResult) map[string]any {
	if asString(result.Raw["status"]) != "" {
		return result.Raw
	}
	return result.Structured
}

func confirmationFrom(result *ToolResult, args map[string]any) *hosterr.ConfirmationError {
	payload := statusPayload(result)
	msg := asString(payload["message"])
	if msg == "" {
		msg = "Candidate confirmation required."
	}
	var candidates []map[string]any
	if items, ok := payload["candidates"].([]any); ok {
		for _, it := range items {
			if m, ok := it.(map[string]any); ok {
				candidates = append(candidates, m)
			}
		}
	}
	return &hosterr.ConfirmationError{
		Message:      msg,
		Candidates:   candidates,
		OriginalArgs: args,
	}
}
