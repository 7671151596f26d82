package react

import "context"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a conversation in a client-specific representation.
type Message interface {
	// ToParam returns the client-specific value sent to the model.
	ToParam() any
	Role() Role
	// Text returns the concatenated text parts, or "" when the message carries none.
	Text() string
}

// GenericMessage is a client-agnostic message, used by tests and fakes.
type GenericMessage struct {
	Author  Role
	Content string
}

func (m GenericMessage) ToParam() any {
	return map[string]any{"role": string(m.Author), "content": m.Content}
}

func (m GenericMessage) Role() Role   { return m.Author }
func (m GenericMessage) Text() string { return m.Content }

// Response is one model turn.
type Response interface {
	Content() []ContentBlock
	ToMessage() Message
}

// ContentBlock is a single part of a response.
type ContentBlock interface {
	AsText() (string, bool)
	AsToolUse() (id string, name string, input []byte, ok bool)
}

// Tool declares a tool to the model.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type ToolUse struct {
	ID    string
	Name  string
	Input map[string]any
}

type ToolResult struct {
	ID      string
	Content string
	IsError bool
}

// LLMClient is the seam to the external reasoning engine.
type LLMClient interface {
	Call(ctx context.Context, system string, messages []Message, tools []Tool) (Response, error)
	ConvertToolResults(toolUses []ToolUse, results []ToolResult) ([]Message, error)
	CreateUserMessage(content string) Message
}

// ToolClient lists and dispatches tools.
type ToolClient interface {
	ListTools(ctx context.Context) ([]Tool, error)
	// CallToolText runs a tool. A true second return marks the text as an error observation.
	CallToolText(ctx context.Context, name string, args map[string]any) (string, bool, error)
}

// RunResult is the outcome of one Run.
type RunResult struct {
	FinalText        string
	FullConversation []Message
	Rounds           int
}
