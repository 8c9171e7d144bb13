package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/callsheet/config"
)

const defaultMaxToolSteps = 10

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	maxSteps    int
	httpClient  *http.Client
}

// NewClient creates a chat completions client from configuration.
func NewClient(cfg config.LLMConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	maxSteps := cfg.MaxToolSteps
	if maxSteps == 0 {
		maxSteps = defaultMaxToolSteps
	}
	return &Client{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		maxSteps:    maxSteps,
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}

// wire types for the chat completions API

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type wireResponse struct {
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

type wireStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Chat executes one agent turn, driving the tool loop until the model
// stops asking for tools or the step budget is exhausted.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatResult, error) {
	return c.run(ctx, req, nil)
}

// Stream behaves like Chat but delivers assistant text deltas through
// onDelta while the response streams.
func (c *Client) Stream(ctx context.Context, req ChatRequest, onDelta func(string)) (ChatResult, error) {
	return c.run(ctx, req, onDelta)
}

func (c *Client) run(ctx context.Context, req ChatRequest, onDelta func(string)) (ChatResult, error) {
	maxSteps := req.MaxToolSteps
	if maxSteps <= 0 {
		maxSteps = c.maxSteps
	}

	history := c.encodeHistory(req)
	var result ChatResult

	for step := 0; step <= maxSteps; step++ {
		var (
			reply  wireMessage
			inTok  int64
			outTok int64
			err    error
		)
		if onDelta != nil {
			reply, err = c.sendStreaming(ctx, history, req.Tools, onDelta)
		} else {
			reply, inTok, outTok, err = c.send(ctx, history, req.Tools)
		}
		if err != nil {
			return ChatResult{}, err
		}
		result.InputTokens += inTok
		result.OutputTokens += outTok

		assistant := decodeAssistant(reply)
		result.Messages = append(result.Messages, assistant)
		history = append(history, reply)

		calls := assistant.ToolCalls()
		if len(calls) == 0 {
			return result, nil
		}
		if req.Executor == nil {
			// advisory agents have no tools; treat a stray call as final
			return result, nil
		}

		toolMsg := Message{Role: RoleTool}
		for _, call := range calls {
			payload, err := req.Executor(call)
			if err != nil {
				return ChatResult{}, fmt.Errorf("tool %s: %w", call.Name, err)
			}
			toolMsg.Parts = append(toolMsg.Parts, Part{
				Kind:       PartToolResult,
				ToolResult: &ToolResult{ID: call.ID, Name: call.Name, Result: payload},
			})
			wm := wireMessage{Role: RoleTool, Content: string(payload), ToolCallID: call.ID, Name: call.Name}
			history = append(history, wm)
		}
		result.Messages = append(result.Messages, toolMsg)
	}

	return result, fmt.Errorf("tool loop exceeded %d steps", maxSteps)
}

func (c *Client) encodeHistory(req ChatRequest) []wireMessage {
	msgs := make([]wireMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, wireMessage{Role: RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		wm := wireMessage{Role: m.Role, Content: m.Text()}
		for _, call := range m.ToolCalls() {
			var wc wireToolCall
			wc.ID = call.ID
			wc.Type = "function"
			wc.Function.Name = call.Name
			wc.Function.Arguments = string(call.Args)
			wm.ToolCalls = append(wm.ToolCalls, wc)
		}
		if results := m.ToolResults(); len(results) > 0 {
			// tool results travel as individual tool-role messages
			for _, res := range results {
				msgs = append(msgs, wireMessage{Role: RoleTool, Content: string(res.Result), ToolCallID: res.ID, Name: res.Name})
			}
			continue
		}
		msgs = append(msgs, wm)
	}
	return msgs
}

func decodeAssistant(wm wireMessage) Message {
	msg := Message{Role: RoleAssistant}
	if wm.Content != "" {
		msg.Parts = append(msg.Parts, Part{Kind: PartText, Text: wm.Content})
	}
	for _, tc := range wm.ToolCalls {
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		msg.Parts = append(msg.Parts, Part{
			Kind:     PartToolCall,
			ToolCall: &ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: json.RawMessage(args)},
		})
	}
	return msg
}

func encodeTools(tools []ToolSchema) []wireTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		var wt wireTool
		wt.Type = "function"
		wt.Function.Name = t.Name
		wt.Function.Description = t.Description
		wt.Function.Parameters = t.Parameters
		out = append(out, wt)
	}
	return out
}

func (c *Client) send(ctx context.Context, msgs []wireMessage, tools []ToolSchema) (wireMessage, int64, int64, error) {
	body := wireRequest{
		Model:       c.model,
		Messages:    msgs,
		Tools:       encodeTools(tools),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	resp, err := c.post(ctx, body)
	if err != nil {
		return wireMessage{}, 0, 0, err
	}
	defer resp.Body.Close()

	var parsed wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return wireMessage{}, 0, 0, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return wireMessage{}, 0, 0, fmt.Errorf("no response choices returned")
	}
	return parsed.Choices[0].Message, parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens, nil
}

func (c *Client) sendStreaming(ctx context.Context, msgs []wireMessage, tools []ToolSchema, onDelta func(string)) (wireMessage, error) {
	body := wireRequest{
		Model:       c.model,
		Messages:    msgs,
		Tools:       encodeTools(tools),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Stream:      true,
	}
	resp, err := c.post(ctx, body)
	if err != nil {
		return wireMessage{}, err
	}
	defer resp.Body.Close()

	var (
		reply wireMessage
		text  strings.Builder
		calls []wireToolCall
	)
	reply.Role = RoleAssistant

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}
		var chunk wireStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // malformed keep-alive or partial line
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			text.WriteString(delta.Content)
			onDelta(delta.Content)
		}
		for _, tc := range delta.ToolCalls {
			for len(calls) <= tc.Index {
				calls = append(calls, wireToolCall{Type: "function"})
			}
			cur := &calls[tc.Index]
			if tc.ID != "" {
				cur.ID = tc.ID
			}
			if tc.Function.Name != "" {
				cur.Function.Name = tc.Function.Name
			}
			cur.Function.Arguments += tc.Function.Arguments
		}
	}
	if err := scanner.Err(); err != nil {
		return wireMessage{}, fmt.Errorf("stream read failed: %w", err)
	}

	reply.Content = text.String()
	reply.ToolCalls = calls
	return reply, nil
}

func (c *Client) post(ctx context.Context, body wireRequest) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return resp, nil
}
