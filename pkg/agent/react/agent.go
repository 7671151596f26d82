// Package react drives a tool-calling conversation with a reasoning engine until it
// produces an answer or the round budget runs out.
package react

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

const (
	defaultMaxRounds        = 50
	defaultMaxContextTokens = 40000
	maxErrorRetries         = 2

	DefaultFinalizationPrompt = "You have reached the tool call limit. Do not call any more tools. " +
		"Answer the user's question now using only the tool results you already have."
	DefaultSummaryPrompt = "Summarize the following tool-calling conversation. Keep every column name, " +
		"code snippet, error message and numeric result exactly as written.\n\n%s"
	DefaultRetryPrompt = "The previous tool call returned an error. Read the error message, fix the code " +
		"and call the tool again. Do not ask for clarification."

	// SkippedToolResult answers tool calls left pending when the round budget runs out.
	SkippedToolResult = "Not executed: the tool call budget was exhausted."
)

type Config struct {
	Logger           *slog.Logger
	LLM              LLMClient
	ToolClient       ToolClient
	System           string
	MaxRounds        int
	MaxContextTokens int
	// FinalizationPrompt is appended as a user message before the last round.
	FinalizationPrompt string
	// SummaryPrompt compacts long conversations; %s receives the transcript.
	SummaryPrompt string
	RetryPrompt   string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.LLM == nil {
		return errors.New("LLM is required")
	}
	if cfg.ToolClient == nil {
		return errors.New("tool client is required")
	}
	if cfg.MaxRounds == 0 {
		cfg.MaxRounds = defaultMaxRounds
	}
	if cfg.MaxRounds <= 0 {
		return errors.New("max rounds must be greater than 0")
	}
	if cfg.MaxContextTokens == 0 {
		cfg.MaxContextTokens = defaultMaxContextTokens
	}
	if cfg.MaxContextTokens <= 0 {
		return errors.New("max context tokens must be greater than 0")
	}
	if cfg.FinalizationPrompt == "" {
		cfg.FinalizationPrompt = DefaultFinalizationPrompt
	}
	if cfg.SummaryPrompt == "" {
		cfg.SummaryPrompt = DefaultSummaryPrompt
	}
	if cfg.RetryPrompt == "" {
		cfg.RetryPrompt = DefaultRetryPrompt
	}
	return nil
}

type Agent struct {
	log *slog.Logger
	cfg *Config
}

func NewAgent(cfg *Config) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Agent{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Run alternates between model turns and tool execution. It stops at the first turn
// without tool calls, or at the last round regardless of tool calls. Text of the
// final turn is also written to output when it is not nil.
func (a *Agent) Run(ctx context.Context, initialMessages []Message, output io.Writer) (*RunResult, error) {
	msgs := append([]Message(nil), initialMessages...)
	conversation := append([]Message(nil), initialMessages...)

	tools, err := a.cfg.ToolClient.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	var lastToolHadError bool
	var retries int

	for round := 0; round < a.cfg.MaxRounds; round++ {
		roundNum := round + 1
		isLastRound := round == a.cfg.MaxRounds-1
		a.log.Debug("react: starting round", "round", roundNum, "max_rounds", a.cfg.MaxRounds)

		msgs = a.compact(ctx, msgs, tools, roundNum)

		if isLastRound && a.cfg.MaxRounds > 1 {
			a.log.Info("react: injecting finalization prompt", "round", roundNum)
			finalization := a.cfg.LLM.CreateUserMessage(a.cfg.FinalizationPrompt)
			msgs = append(msgs, finalization)
			conversation = append(conversation, finalization)
		}

		response, err := a.cfg.LLM.Call(ctx, a.cfg.System, msgs, tools)
		if err != nil {
			return nil, fmt.Errorf("failed to get response: %w", err)
		}

		assistantMsg := response.ToMessage()
		msgs = append(msgs, assistantMsg)
		conversation = append(conversation, assistantMsg)

		text := responseText(response)
		if text != "" {
			a.log.Debug("react: model text", "round", roundNum, "text", text)
		}

		toolUses := extractToolUses(response.Content())
		if len(toolUses) == 0 && lastToolHadError && retries < maxErrorRetries && !isLastRound {
			retries++
			a.log.Info("react: no tool calls after a tool error, asking to retry", "round", roundNum, "retry", retries)
			retry := a.cfg.LLM.CreateUserMessage(a.cfg.RetryPrompt)
			msgs = append(msgs, retry)
			conversation = append(conversation, retry)
			lastToolHadError = false
			continue
		}

		if len(toolUses) == 0 || isLastRound {
			a.log.Debug("react: returning final response", "round", roundNum, "pending_tool_calls", len(toolUses))
			if len(toolUses) > 0 {
				// Every tool use must be answered before the conversation can be continued.
				skipped, err := a.skipTools(toolUses)
				if err != nil {
					return nil, err
				}
				conversation = append(conversation, skipped...)
			}
			if output != nil && text != "" {
				fmt.Fprintln(output, text)
			}
			return &RunResult{
				FinalText:        strings.TrimSpace(text),
				FullConversation: conversation,
				Rounds:           roundNum,
			}, nil
		}

		for _, tu := range toolUses {
			a.log.Info("react: calling tool", "round", roundNum, "name", tu.Name)
		}
		results := a.executeTools(ctx, toolUses)

		lastToolHadError = false
		for _, r := range results {
			if r.IsError {
				lastToolHadError = true
				break
			}
		}

		resultMsgs, err := a.cfg.LLM.ConvertToolResults(toolUses, results)
		if err != nil {
			return nil, fmt.Errorf("failed to convert tool results: %w", err)
		}
		msgs = append(msgs, resultMsgs...)
		conversation = append(conversation, resultMsgs...)
	}

	return nil, fmt.Errorf("exceeded maximum rounds (%d)", a.cfg.MaxRounds)
}

// skipTools answers tool uses that were not executed because the round budget ran out.
func (a *Agent) skipTools(toolUses []ToolUse) ([]Message, error) {
	results := make([]ToolResult, len(toolUses))
	for i, tu := range toolUses {
		results[i] = ToolResult{ID: tu.ID, Content: SkippedToolResult, IsError: true}
	}
	msgs, err := a.cfg.LLM.ConvertToolResults(toolUses, results)
	if err != nil {
		return nil, fmt.Errorf("failed to convert skipped tool results: %w", err)
	}
	return msgs, nil
}

func responseText(resp Response) string {
	var sb strings.Builder
	for _, blk := range resp.Content() {
		if text, ok := blk.AsText(); ok {
			sb.WriteString(text)
		}
	}
	return sb.String()
}

func extractToolUses(content []ContentBlock) []ToolUse {
	var uses []ToolUse
	for _, blk := range content {
		id, name, raw, ok := blk.AsToolUse()
		if !ok || id == "" || name == "" {
			continue
		}
		input := map[string]any{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &input); err != nil {
				continue
			}
		}
		uses = append(uses, ToolUse{ID: id, Name: name, Input: input})
	}
	return uses
}

// executeTools runs every tool call of a turn concurrently and returns results in call order.
// Tool client errors become error observations.
func (a *Agent) executeTools(ctx context.Context, toolUses []ToolUse) []ToolResult {
	results := make([]ToolResult, len(toolUses))
	var wg sync.WaitGroup
	for i, tu := range toolUses {
		wg.Go(func() {
			out, isErr, err := a.cfg.ToolClient.CallToolText(ctx, tu.Name, tu.Input)
			switch {
			case err != nil:
				a.log.Error("react: tool execution error", "tool", tu.Name, "tool_id", tu.ID, "error", err)
				results[i] = ToolResult{ID: tu.ID, Content: fmt.Sprintf("Error: %v", err), IsError: true}
			case isErr:
				if !strings.HasPrefix(out, "Error") {
					out = "Error: " + out
				}
				results[i] = ToolResult{ID: tu.ID, Content: out, IsError: true}
			default:
				results[i] = ToolResult{ID: tu.ID, Content: out}
			}
		})
	}
	wg.Wait()
	return results
}

// estimateTokens approximates the prompt size at four characters per token.
func estimateTokens(msgs []Message, tools []Tool) int {
	chars := 0
	for _, msg := range msgs {
		if b, err := json.Marshal(msg.ToParam()); err == nil {
			chars += len(b)
		}
	}
	for _, t := range tools {
		if b, err := json.Marshal(t); err == nil {
			chars += len(b)
		}
	}
	return chars / 4
}

// compact summarizes the middle of the conversation while it is over the token budget.
// The first message and the most recent ones are kept verbatim.
func (a *Agent) compact(ctx context.Context, msgs []Message, tools []Tool, roundNum int) []Message {
	tokens := estimateTokens(msgs, tools)
	for attempt := 0; attempt < 5 && tokens > a.cfg.MaxContextTokens; attempt++ {
		keepRecent := max(10-attempt*2, 2)
		if len(msgs) <= keepRecent+1 {
			a.log.Warn("react: cannot compact further", "round", roundNum, "messages", len(msgs))
			break
		}
		compacted, err := a.summarize(ctx, msgs, keepRecent)
		if err != nil {
			a.log.Warn("react: failed to summarize conversation", "round", roundNum, "error", err)
			break
		}
		before := tokens
		msgs = compacted
		tokens = estimateTokens(msgs, tools)
		a.log.Info("react: conversation compacted", "round", roundNum, "tokens_before", before, "tokens_after", tokens)
		if tokens >= before {
			break
		}
	}
	return msgs
}

func (a *Agent) summarize(ctx context.Context, msgs []Message, keepRecent int) ([]Message, error) {
	middle := msgs[1 : len(msgs)-keepRecent]

	var transcript strings.Builder
	for i, msg := range middle {
		b, err := json.Marshal(msg.ToParam())
		if err != nil {
			continue
		}
		fmt.Fprintf(&transcript, "Message %d (%s): %s\n", i+1, msg.Role(), b)
	}

	prompt := a.cfg.LLM.CreateUserMessage(fmt.Sprintf(a.cfg.SummaryPrompt, transcript.String()))
	response, err := a.cfg.LLM.Call(ctx, "", []Message{prompt}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate summary: %w", err)
	}

	out := make([]Message, 0, keepRecent+2)
	out = append(out, msgs[0])
	out = append(out, a.cfg.LLM.CreateUserMessage("[Previous conversation summary]: "+responseText(response)))
	out = append(out, msgs[len(msgs)-keepRecent:]...)
	return out, nil
}
