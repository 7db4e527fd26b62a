package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/setlist-architect/mcp-console-host/pkg/mcp"
	"github.com/setlist-architect/mcp-console-host/pkg/transport"
)

/*
listOnlyTransport answers tools/list with a fixed descriptor payload and
rejects everything else. Enough of a provider to drive tool discovery.
*/
type listOnlyTransport struct {
	toolsJSON string

	mu    sync.Mutex
	msgCh chan json.RawMessage
}

func (l *listOnlyTransport) Kind() string { return transport.KindSSE }

func (l *listOnlyTransport) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgCh = make(chan json.RawMessage, 8)
	return nil
}

func (l *listOnlyTransport) Send(ctx context.Context, payload []byte) error {
	var req struct {
		ID     *int64 `json:"id"`
		Method string `json:"method"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}
	if req.ID == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if req.Method == "tools/list" {
		l.msgCh <- json.RawMessage(fmt.Sprintf(
			`{"jsonrpc":"2.0","id":%d,"result":{"tools":%s}}`, *req.ID, l.toolsJSON,
		))
		return nil
	}
	l.msgCh <- json.RawMessage(fmt.Sprintf(
		`{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"Method not found"}}`, *req.ID,
	))
	return nil
}

func (l *listOnlyTransport) Messages() <-chan json.RawMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.msgCh
}

func (l *listOnlyTransport) Stop() error { return nil }

func TestConvertToolsGuaranteesWorkspaceProperty(t *testing.T) {
	trans := &listOnlyTransport{toolsJSON: `[
		{"name":"provider_info","description":"Build info",
		 "inputSchema":{"type":"object","properties":{"verbose":{"type":"boolean"}}}}
	]`}
	client := mcp.NewClient(trans, mcp.ClientConfig{RequestTimeout: time.Second})
	adapter := mcp.NewAdapter(client, "ws-test")
	defer adapter.Shutdown()

	prvdr := NewAnthropicProvider(adapter)
	tools := prvdr.convertTools(context.Background())
	require.Len(t, tools, 1)

	props, ok := tools[0].OfTool.InputSchema.Properties.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "verbose")
	require.Contains(t, props, "workspace",
		"every schema shown to the model must accept a workspace")
	ws, ok := props["workspace"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "string", ws["type"])
}

func TestPropertiesWithWorkspaceKeepsExistingDeclaration(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"workspace": map[string]any{"type": "string", "description": "custom"},
		},
	}

	props := propertiesWithWorkspace(schema)
	ws, ok := props["workspace"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "custom", ws["description"])
}

func TestPropertiesWithWorkspaceCopiesTheSchema(t *testing.T) {
	original := map[string]any{"title": map[string]any{"type": "string"}}
	schema := map[string]any{"type": "object", "properties": original}

	props := propertiesWithWorkspace(schema)

	assert.Contains(t, props, "workspace")
	assert.NotContains(t, original, "workspace", "cached descriptors must stay untouched")
}
