package react

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
)

// OllamaClient implements LLMClient against a local Ollama server's /api/chat endpoint.
type OllamaClient struct {
	baseURL         string
	httpClient      *http.Client
	model           string
	maxOutputTokens int64
}

func NewOllamaClient(baseURL string, httpClient *http.Client, model string, maxOutputTokens int64) *OllamaClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &OllamaClient{
		baseURL:         baseURL,
		httpClient:      httpClient,
		model:           model,
		maxOutputTokens: maxOutputTokens,
	}
}

func (c *OllamaClient) Call(ctx context.Context, system string, messages []Message, tools []Tool) (Response, error) {
	msgs := make([]ollamaMessage, 0, len(messages)+1)
	if system != "" {
		msgs = append(msgs, ollamaMessage{Role: "system", Content: system})
	}
	for _, msg := range messages {
		if m, ok := msg.ToParam().(ollamaMessage); ok {
			msgs = append(msgs, m)
			continue
		}
		msgs = append(msgs, ollamaMessage{Role: string(msg.Role()), Content: msg.Text()})
	}

	resp, err := c.chat(ctx, ollamaChatRequest{
		Model:    c.model,
		Messages: msgs,
		Tools:    toOllamaTools(tools),
		Stream:   false,
		Options:  map[string]any{"num_predict": c.maxOutputTokens},
	})
	if err != nil {
		return nil, err
	}

	// Ollama does not assign tool call IDs.
	for i := range resp.Message.ToolCalls {
		if resp.Message.ToolCalls[i].ID == "" {
			resp.Message.ToolCalls[i].ID = "call_" + uuid.NewString()
		}
	}
	return ollamaResponse{msg: resp.Message}, nil
}

// chat posts the request and folds newline-delimited chunks into one response.
func (c *OllamaClient) chat(ctx context.Context, req ollamaChatRequest) (ollamaChatResponse, error) {
	var out ollamaChatResponse

	body, err := json.Marshal(req)
	if err != nil {
		return out, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return out, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return out, fmt.Errorf("ollama chat http %d: %s", resp.StatusCode, string(msg))
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return out, fmt.Errorf("failed to decode chunk: %w", err)
		}
		if chunk.Error != "" {
			return out, fmt.Errorf("ollama error: %s", chunk.Error)
		}
		out.Message.Content += chunk.Message.Content
		if len(chunk.Message.ToolCalls) > 0 {
			out.Message.ToolCalls = chunk.Message.ToolCalls
		}
		if chunk.Message.Role != "" {
			out.Message.Role = chunk.Message.Role
		}
		out.Done = chunk.Done
		if chunk.Done {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("failed to read response: %w", err)
	}
	return out, nil
}

func (c *OllamaClient) ConvertToolResults(toolUses []ToolUse, results []ToolResult) ([]Message, error) {
	msgs := make([]Message, 0, len(results))
	for i, r := range results {
		m := ollamaMessage{Role: "tool", Content: r.Content}
		if i < len(toolUses) {
			m.Name = toolUses[i].Name
		}
		msgs = append(msgs, OllamaMessage{Msg: m})
	}
	return msgs, nil
}

func (c *OllamaClient) CreateUserMessage(content string) Message {
	return OllamaMessage{Msg: ollamaMessage{Role: "user", Content: content}}
}

// OllamaMessage wraps a chat message.
type OllamaMessage struct {
	Msg ollamaMessage
}

func (m OllamaMessage) ToParam() any { return m.Msg }
func (m OllamaMessage) Role() Role   { return Role(m.Msg.Role) }
func (m OllamaMessage) Text() string { return m.Msg.Content }

type ollamaResponse struct {
	msg ollamaMessage
}

func (r ollamaResponse) Content() []ContentBlock {
	blocks := make([]ContentBlock, 0, len(r.msg.ToolCalls)+1)
	if r.msg.Content != "" {
		blocks = append(blocks, ollamaContentBlock{text: r.msg.Content})
	}
	for _, tc := range r.msg.ToolCalls {
		blocks = append(blocks, ollamaContentBlock{toolCall: &tc})
	}
	return blocks
}

func (r ollamaResponse) ToMessage() Message {
	return OllamaMessage{Msg: r.msg}
}

type ollamaContentBlock struct {
	text     string
	toolCall *ollamaToolCall
}

func (b ollamaContentBlock) AsText() (string, bool) {
	return b.text, b.toolCall == nil && b.text != ""
}

func (b ollamaContentBlock) AsToolUse() (string, string, []byte, bool) {
	if b.toolCall == nil {
		return "", "", nil, false
	}
	args := []byte(b.toolCall.Function.Arguments)
	if len(args) == 0 || string(args) == "null" {
		args = []byte("{}")
	}
	return b.toolCall.ID, b.toolCall.Function.Name, args, true
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Name      string           `json:"tool_name,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	ID       string             `json:"id,omitempty"`
	Function ollamaFunctionCall `json:"function"`
}

type ollamaFunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ollamaToolDef struct {
	Type     string            `json:"type"`
	Function ollamaFunctionDef `json:"function"`
}

type ollamaFunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []ollamaToolDef `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

func toOllamaTools(tools []Tool) []ollamaToolDef {
	out := make([]ollamaToolDef, 0, len(tools))
	for _, t := range tools {
		out = append(out, ollamaToolDef{
			Type: "function",
			Function: ollamaFunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return out
}
