package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/charmbracelet/log"

	hosterr "github.com/setlist-architect/mcp-console-host/pkg/errors"
	"github.com/setlist-architect/mcp-console-host/pkg/mcp"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 2048
	toolCacheTTL     = 60 * time.Second

	systemPrompt = "You are a setlist assistant. You manage a song library and " +
		"playlists through the available tools. When a tool reports candidate " +
		"matches that need confirmation, present them to the user and wait for " +
		"their choice before retrying."
)

/*
AnthropicProvider drives a tool-using conversation with the Anthropic
API, executing requested tool calls through the console host's adapter
and feeding the results back until the model stops asking.
*/
type AnthropicProvider struct {
	client   *anthropic.Client
	adapter  *mcp.Adapter
	model    anthropic.Model
	system   string
	messages []anthropic.MessageParam
}

type AnthropicProviderOption func(*AnthropicProvider)

func NewAnthropicProvider(adapter *mcp.Adapter, options ...AnthropicProviderOption) *AnthropicProvider {
	prvdr := &AnthropicProvider{
		adapter: adapter,
		model:   anthropic.Model(defaultModel),
		system:  systemPrompt,
	}

	for _, option := range options {
		option(prvdr)
	}

	if prvdr.client == nil {
		client := anthropic.NewClient(
			option.WithAPIKey(os.Getenv("ANTHROPIC_API_KEY")),
		)
		prvdr.client = &client
	}

	return prvdr
}

func WithModel(model string) AnthropicProviderOption {
	return func(prvdr *AnthropicProvider) {
		if model != "" {
			prvdr.model = anthropic.Model(model)
		}
	}
}

func WithSystemPrompt(system string) AnthropicProviderOption {
	return func(prvdr *AnthropicProvider) {
		if system != "" {
			prvdr.system = system
		}
	}
}

func WithClient(client *anthropic.Client) AnthropicProviderOption {
	return func(prvdr *AnthropicProvider) {
		prvdr.client = client
	}
}

/*
Send submits one user turn and runs the tool loop to completion. The
returned string is the assistant's final text for the turn; conversation
history accumulates on the provider across calls.
*/
func (prvdr *AnthropicProvider) Send(ctx context.Context, userText string) (string, error) {
	prvdr.messages = append(
		prvdr.messages,
		anthropic.NewUserMessage(anthropic.NewTextBlock(userText)),
	)

	tools := prvdr.convertTools(ctx)

	for {
		response, err := prvdr.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     prvdr.model,
			MaxTokens: defaultMaxTokens,
			System:    []anthropic.TextBlockParam{{Text: prvdr.system}},
			Messages:  prvdr.messages,
			Tools:     tools,
		})
		if err != nil {
			return "", fmt.Errorf("anthropic request failed: %w", err)
		}

		prvdr.messages = append(prvdr.messages, response.ToParam())

		var text strings.Builder
		var toolResults []anthropic.ContentBlockParamUnion

		for _, block := range response.Content {
			switch contentBlock := block.AsAny().(type) {
			case anthropic.TextBlock:
				text.WriteString(contentBlock.Text)
			case anthropic.ToolUseBlock:
				result, isError := prvdr.executeTool(ctx, contentBlock.Name, contentBlock.Input)
				toolResults = append(
					toolResults,
					anthropic.NewToolResultBlock(contentBlock.ID, result, isError),
				)
			}
		}

		if len(toolResults) == 0 {
			return text.String(), nil
		}

		prvdr.messages = append(prvdr.messages, anthropic.NewUserMessage(toolResults...))
	}
}

// Reset drops the accumulated conversation history.
func (prvdr *AnthropicProvider) Reset() {
	prvdr.messages = nil
}

/*
executeTool runs one requested tool call through the adapter. A
confirmation round is not a failure from the model's point of view: the
candidate list goes back as a regular result so the model can relay the
choices to the user.
*/
func (prvdr *AnthropicProvider) executeTool(
	ctx context.Context, name string, input json.RawMessage,
) (string, bool) {
	args := map[string]any{}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return fmt.Sprintf("invalid tool arguments: %v", err), true
		}
	}

	log.Debug("executing tool call", "tool", name)

	result, err := prvdr.adapter.Invoke(ctx, name, args)

	var confirm *hosterr.ConfirmationError
	if errors.As(err, &confirm) {
		payload, marshalErr := json.Marshal(map[string]any{
			"status":     "needs_confirmation",
			"message":    confirm.Message,
			"candidates": confirm.Candidates,
		})
		if marshalErr != nil {
			return confirm.Message, false
		}
		return string(payload), false
	}
	if err != nil {
		log.Warn("tool call failed", "tool", name, "error", err)
		return err.Error(), true
	}

	if text := result.Text(); text != "" {
		return text, false
	}
	payload, marshalErr := json.Marshal(result.Raw)
	if marshalErr != nil {
		return fmt.Sprintf("unencodable tool result: %v", marshalErr), true
	}
	return string(payload), false
}

/*
convertTools maps the adapter's discovered descriptors onto the
Anthropic tool declaration shape. Discovery failures fall back to the
bundled descriptors, so the model always sees the setlist tools. Every
schema handed to the model carries a workspace property, whether or not
the provider declared one.
*/
func (prvdr *AnthropicProvider) convertTools(ctx context.Context) []anthropic.ToolUnionParam {
	discovery := prvdr.adapter.ToolsOrFallback(ctx, toolCacheTTL)

	out := make([]anthropic.ToolUnionParam, 0, len(discovery.Tools))
	for _, tool := range discovery.Tools {
		toolParam := anthropic.ToolParam{
			Name:        tool.Name,
			Description: anthropic.String(tool.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: propertiesWithWorkspace(tool.InputSchema),
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return out
}

/*
propertiesWithWorkspace copies a schema's properties and guarantees a
workspace entry among them. The copy keeps the adapter's cached
descriptors untouched.
*/
func propertiesWithWorkspace(schema map[string]any) map[string]any {
	props, _ := schema["properties"].(map[string]any)
	out := make(map[string]any, len(props)+1)
	for name, prop := range props {
		out[name] = prop
	}
	if _, ok := out["workspace"]; !ok {
		out["workspace"] = map[string]any{
			"type":        "string",
			"description": "Workspace/session id",
		}
	}
	return out
}
