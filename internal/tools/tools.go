// Package tools implements the production tool executors invoked by
// the Director agent: clip download, voiceover synthesis, image
// download, and the final render.
//
// Every tool follows one failure convention: expected failures
// (network errors, missing inputs, binary exit codes) come back as a
// structured Result with Success=false, never as a Go error. A Go
// error from Execute signals a programmer or transport fault and
// fails the whole turn.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mohammad-safakhou/callsheet/internal/llm"
)

// Result is the structured outcome every tool returns.
type Result struct {
	Success bool                   `json:"success"`
	Error   string                 `json:"error,omitempty"`
	Data    map[string]interface{} `json:"-"`
}

// MarshalJSON flattens Data next to the success flag, matching the
// {"success":true, ...fields} wire shape the agents expect.
func (r Result) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(r.Data)+2)
	for k, v := range r.Data {
		out[k] = v
	}
	out["success"] = r.Success
	if r.Error != "" {
		out["error"] = r.Error
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores the flattened shape.
func (r *Result) UnmarshalJSON(b []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if v, ok := raw["success"].(bool); ok {
		r.Success = v
	}
	if v, ok := raw["error"].(string); ok {
		r.Error = v
	}
	delete(raw, "success")
	delete(raw, "error")
	if len(raw) > 0 {
		r.Data = raw
	}
	return nil
}

// Ok builds a successful result with the given payload fields.
func Ok(data map[string]interface{}) Result {
	return Result{Success: true, Data: data}
}

// Fail builds a failed result.
func Fail(format string, args ...interface{}) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Tool is one production operation the Director can invoke.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (Result, error)
}

// Registry holds the tools available to the Director.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry builds a registry from the given tools.
func NewRegistry(ts ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(ts))}
	for _, t := range ts {
		if _, dup := r.tools[t.Name()]; dup {
			continue
		}
		r.tools[t.Name()] = t
		r.order = append(r.order, t.Name())
	}
	return r
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Schemas exposes the registry as LLM tool schemas, in registration
// order.
func (r *Registry) Schemas() []llm.ToolSchema {
	out := make([]llm.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, llm.ToolSchema{Name: t.Name(), Description: t.Description(), Parameters: t.Schema()})
	}
	return out
}

// Executor adapts the registry to the llm client's tool loop.
func (r *Registry) Executor(ctx context.Context) llm.ToolExecutor {
	return func(call llm.ToolCall) (json.RawMessage, error) {
		t, ok := r.tools[call.Name]
		if !ok {
			return json.Marshal(Fail("unknown tool: %s", call.Name))
		}
		res, err := t.Execute(ctx, call.Args)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	}
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
