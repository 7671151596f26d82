package react

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// AnthropicClient implements LLMClient with the Anthropic Messages API.
type AnthropicClient struct {
	client          anthropic.Client
	model           anthropic.Model
	maxOutputTokens int64
}

func NewAnthropicClient(client anthropic.Client, model anthropic.Model, maxOutputTokens int64) *AnthropicClient {
	return &AnthropicClient{
		client:          client,
		model:           model,
		maxOutputTokens: maxOutputTokens,
	}
}

func (c *AnthropicClient) Call(ctx context.Context, system string, messages []Message, tools []Tool) (Response, error) {
	params := make([]anthropic.MessageParam, len(messages))
	for i, msg := range messages {
		param, ok := msg.ToParam().(anthropic.MessageParam)
		if !ok {
			param = anthropicParamFrom(msg)
		}
		params[i] = param
	}

	req := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxOutputTokens,
		Messages:  params,
		Tools:     toAnthropicTools(tools),
	}
	if system != "" {
		// The instruction is identical for every call of an agent, so mark it cacheable.
		req.System = []anthropic.TextBlockParam{
			{
				Text:         system,
				CacheControl: anthropic.NewCacheControlEphemeralParam(),
			},
		}
	}

	resp, err := c.client.Messages.New(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("anthropic API error: %w", err)
	}
	return anthropicResponse{resp: resp}, nil
}

// anthropicParamFrom converts a foreign message by role and text.
func anthropicParamFrom(msg Message) anthropic.MessageParam {
	block := anthropic.NewTextBlock(msg.Text())
	if msg.Role() == RoleAssistant {
		return anthropic.NewAssistantMessage(block)
	}
	return anthropic.NewUserMessage(block)
}

func (c *AnthropicClient) ConvertToolResults(toolUses []ToolUse, results []ToolResult) ([]Message, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, anthropic.NewToolResultBlock(r.ID, r.Content, r.IsError))
	}
	return []Message{AnthropicMessage{Msg: anthropic.NewUserMessage(blocks...)}}, nil
}

func (c *AnthropicClient) CreateUserMessage(content string) Message {
	return AnthropicMessage{Msg: anthropic.NewUserMessage(anthropic.NewTextBlock(content))}
}

// AnthropicMessage wraps a MessageParam.
type AnthropicMessage struct {
	Msg anthropic.MessageParam
}

func (m AnthropicMessage) ToParam() any {
	return m.Msg
}

func (m AnthropicMessage) Role() Role {
	if m.Msg.Role == anthropic.MessageParamRoleAssistant {
		return RoleAssistant
	}
	for _, blk := range m.Msg.Content {
		if blk.OfToolResult != nil {
			return RoleTool
		}
	}
	return RoleUser
}

func (m AnthropicMessage) Text() string {
	var parts []string
	for _, blk := range m.Msg.Content {
		if blk.OfText != nil && blk.OfText.Text != "" {
			parts = append(parts, blk.OfText.Text)
		}
	}
	return strings.Join(parts, "")
}

type anthropicResponse struct {
	resp *anthropic.Message
}

func (r anthropicResponse) Content() []ContentBlock {
	blocks := make([]ContentBlock, len(r.resp.Content))
	for i, blk := range r.resp.Content {
		blocks[i] = anthropicContentBlock{blk}
	}
	return blocks
}

func (r anthropicResponse) ToMessage() Message {
	return AnthropicMessage{Msg: r.resp.ToParam()}
}

type anthropicContentBlock struct {
	blk anthropic.ContentBlockUnion
}

func (b anthropicContentBlock) AsText() (string, bool) {
	if b.blk.Type != "text" || b.blk.Text == "" {
		return "", false
	}
	return b.blk.Text, true
}

func (b anthropicContentBlock) AsToolUse() (string, string, []byte, bool) {
	if b.blk.Type != "tool_use" {
		return "", "", nil, false
	}
	tu := b.blk.AsToolUse()
	return tu.ID, tu.Name, tu.Input, true
}

func toAnthropicTools(tools []Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		props, _ := t.InputSchema["properties"].(map[string]any)
		required := schemaRequired(t.InputSchema)
		param := anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.Opt(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: props,
				Required:   required,
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}

// schemaRequired reads the required property names of a JSON schema, which may be
// declared as []string or, when decoded from JSON, as []any.
func schemaRequired(schema map[string]any) []string {
	switch v := schema["required"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, name := range v {
			if s, ok := name.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
