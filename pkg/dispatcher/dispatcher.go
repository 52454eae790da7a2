// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package dispatcher implements the tool dispatcher (spec §4.4): a sibling
// process wired to the assistant context assembler's tool-write/tool-read
// back-channel. It resolves a streamed tool call by name, invokes the
// registered handler, and reports the outcome as an llm-tool-call-result
// frame. It runs on the io workload class so a slow handler never stalls
// the flow's compute scheduler (spec §5).
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rapidaai/pkg/commons"
	"github.com/rapidaai/pkg/flow"
	"github.com/rapidaai/pkg/frame"
	"github.com/rapidaai/pkg/llmcontext"
)

// Params is the process's parameter schema; tool registration is a Go-native
// concern (handlers are closures) and is supplied to New directly rather
// than through the flow's mapstructure-decoded args.
type Params struct{}

type state struct{}

// Process is the flow.Process implementing the dispatcher half of spec §4.4.
type Process struct {
	logger commons.Logger
	tools  map[string]llmcontext.ToolDef
}

// New constructs a dispatcher over the given tool registry, keyed by
// function name.
func New(logger commons.Logger, tools []llmcontext.ToolDef) *Process {
	reg := make(map[string]llmcontext.ToolDef, len(tools))
	for _, t := range tools {
		reg[t.Function.Name] = t
	}
	return &Process{logger: logger, tools: reg}
}

func (p *Process) Describe() flow.Descriptor {
	return flow.Descriptor{
		Name:         "tool-dispatcher",
		InPorts:      []string{"in", "sys-in"},
		OutPorts:     []string{"out"},
		ParamsSchema: Params{},
		Workload:     flow.WorkloadIO,
	}
}

func (p *Process) Init(ctx context.Context, params interface{}) (flow.State, []flow.ExtraPort, error) {
	return &state{}, nil, nil
}

func (p *Process) Transition(ctx context.Context, st flow.State, event flow.Event) (flow.State, error) {
	return st, nil
}

func (p *Process) Transform(ctx context.Context, st flow.State, inPort string, f frame.Frame) (flow.State, flow.Output, error) {
	if f.Type() != frame.LLMContext && f.Type() != frame.LLMContextMessagesAppend {
		return st, nil, nil
	}

	payload := f.Data().(frame.ContextPayload)
	if len(payload.Context.Messages) == 0 {
		return st, nil, nil
	}
	tail := payload.Context.Messages[len(payload.Context.Messages)-1]
	if len(tail.ToolCalls) == 0 {
		return st, nil, nil
	}

	var results []frame.Frame
	for _, call := range tail.ToolCalls {
		resultFrame, err := p.invoke(tail, call)
		if err != nil {
			return st, nil, err
		}
		results = append(results, resultFrame)
	}
	return st, flow.Output{"out": results}, nil
}

func (p *Process) invoke(request llmcontext.Message, call llmcontext.ToolCall) (frame.Frame, error) {
	def, ok := p.tools[call.Function.Name]
	if !ok {
		result := llmcontext.NewToolResultMessage(call.ID, "Tool not found")
		return frame.NewLLMToolCallResult(request, result, frame.Properties{RunLLM: true}, time.Now())
	}

	var args map[string]interface{}
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			result := llmcontext.NewToolResultMessage(call.ID, fmt.Sprintf("Something went wrong. Error: %s", err))
			return frame.NewLLMToolCallResult(request, result, frame.Properties{RunLLM: true}, time.Now())
		}
	}

	value, err := def.Handler(args)
	if err != nil {
		result := llmcontext.NewToolResultMessage(call.ID, fmt.Sprintf("Something went wrong. Error: %s", err))
		return frame.NewLLMToolCallResult(request, result, frame.Properties{RunLLM: true}, time.Now())
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		result := llmcontext.NewToolResultMessage(call.ID, fmt.Sprintf("Something went wrong. Error: %s", err))
		return frame.NewLLMToolCallResult(request, result, frame.Properties{RunLLM: true}, time.Now())
	}

	result := llmcontext.NewToolResultMessage(call.ID, string(encoded))
	props := frame.Properties{
		RunLLM:   def.TransitionCb == nil,
		OnUpdate: def.TransitionCb,
	}
	return frame.NewLLMToolCallResult(request, result, props, time.Now())
}
