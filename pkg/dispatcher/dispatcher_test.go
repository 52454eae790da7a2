package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/pkg/commons"
	"github.com/rapidaai/pkg/flow"
	"github.com/rapidaai/pkg/frame"
	"github.com/rapidaai/pkg/llmcontext"
)

func contextWithToolCall(name, args, id string) llmcontext.Context {
	return llmcontext.Context{Messages: []llmcontext.Message{
		{
			Role: llmcontext.RoleAssistant,
			ToolCalls: []llmcontext.ToolCall{
				{ID: id, Type: "function", Function: llmcontext.ToolCallFunc{Name: name, Arguments: args}},
			},
		},
	}}
}

func TestDispatcher_SuccessfulTool(t *testing.T) {
	tool := llmcontext.ToolDef{
		Function: llmcontext.ToolFunction{Name: "get_weather"},
		Handler: func(args map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"temp": 72}, nil
		},
	}
	p := New(commons.NewNoopLogger(), []llmcontext.ToolDef{tool})
	st, _, err := p.Init(context.Background(), nil)
	require.NoError(t, err)

	ctx := contextWithToolCall("get_weather", `{"city":"nyc"}`, "call-1")
	f, err := frame.NewLLMContext(ctx, frame.Properties{}, time.Now())
	require.NoError(t, err)

	_, out, err := p.Transform(context.Background(), st, "in", f)
	require.NoError(t, err)
	require.Len(t, out["out"], 1)

	payload := out["out"][0].Data().(frame.ToolCallResultPayload)
	assert.Equal(t, "call-1", payload.Result.ToolCallID)
	assert.JSONEq(t, `{"temp":72}`, payload.Result.PlainText())
	assert.True(t, payload.Properties.RunLLM)
}

func TestDispatcher_ToolNotFound(t *testing.T) {
	p := New(commons.NewNoopLogger(), nil)
	st, _, err := p.Init(context.Background(), nil)
	require.NoError(t, err)

	ctx := contextWithToolCall("unknown_tool", `{}`, "call-2")
	f, err := frame.NewLLMContext(ctx, frame.Properties{}, time.Now())
	require.NoError(t, err)

	_, out, err := p.Transform(context.Background(), st, "in", f)
	require.NoError(t, err)
	payload := out["out"][0].Data().(frame.ToolCallResultPayload)
	assert.Equal(t, "Tool not found", payload.Result.PlainText())
}

func TestDispatcher_HandlerError(t *testing.T) {
	tool := llmcontext.ToolDef{
		Function: llmcontext.ToolFunction{Name: "failing"},
		Handler: func(args map[string]interface{}) (interface{}, error) {
			return nil, errors.New("boom")
		},
	}
	p := New(commons.NewNoopLogger(), []llmcontext.ToolDef{tool})
	st, _, err := p.Init(context.Background(), nil)
	require.NoError(t, err)

	ctx := contextWithToolCall("failing", `{}`, "call-3")
	f, err := frame.NewLLMContext(ctx, frame.Properties{}, time.Now())
	require.NoError(t, err)

	_, out, err := p.Transform(context.Background(), st, "in", f)
	require.NoError(t, err)
	payload := out["out"][0].Data().(frame.ToolCallResultPayload)
	assert.Equal(t, "Something went wrong. Error: boom", payload.Result.PlainText())
}

// A transition tool (TransitionCb set) suppresses the automatic LLM resume
// downstream by leaving Properties.OnUpdate populated.
func TestDispatcher_TransitionTool_SetsOnUpdate(t *testing.T) {
	called := false
	tool := llmcontext.ToolDef{
		Function:     llmcontext.ToolFunction{Name: "go_to_checkout"},
		Handler:      func(args map[string]interface{}) (interface{}, error) { return "ok", nil },
		TransitionTo: "checkout",
		TransitionCb: func() { called = true },
	}
	p := New(commons.NewNoopLogger(), []llmcontext.ToolDef{tool})
	st, _, err := p.Init(context.Background(), nil)
	require.NoError(t, err)

	ctx := contextWithToolCall("go_to_checkout", `{}`, "call-4")
	f, err := frame.NewLLMContext(ctx, frame.Properties{}, time.Now())
	require.NoError(t, err)

	_, out, err := p.Transform(context.Background(), st, "in", f)
	require.NoError(t, err)
	payload := out["out"][0].Data().(frame.ToolCallResultPayload)
	assert.False(t, payload.Properties.RunLLM)
	require.NotNil(t, payload.Properties.OnUpdate)
	payload.Properties.OnUpdate()
	assert.True(t, called)
}

// Non-tool-call frames and frames with no messages are ignored.
func TestDispatcher_IgnoresNonToolCallFrames(t *testing.T) {
	p := New(commons.NewNoopLogger(), nil)
	st, _, err := p.Init(context.Background(), nil)
	require.NoError(t, err)

	f, _ := frame.NewLLMTextChunk("hello", time.Now())
	_, out, err := p.Transform(context.Background(), st, "in", f)
	require.NoError(t, err)
	assert.Empty(t, out)

	emptyCtx, _ := frame.NewLLMContext(llmcontext.Context{}, frame.Properties{}, time.Now())
	_, out, err = p.Transform(context.Background(), st, "in", emptyCtx)
	require.NoError(t, err)
	assert.Empty(t, out)
}

var _ flow.Process = (*Process)(nil)
