// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package assistantaggregator implements the assistant context assembler
// (spec §4.4): it folds a streamed LLM response — text chunks or a
// fragmented tool call — into a single context update, emitted once per
// llm-response-end, and owns the tool-write/tool-read back-channel to the
// sibling tool dispatcher.
package assistantaggregator

import (
	"context"
	"time"

	"github.com/rapidaai/pkg/commons"
	"github.com/rapidaai/pkg/flow"
	"github.com/rapidaai/pkg/frame"
	"github.com/rapidaai/pkg/llmcontext"
)

// Params is the process's parameter schema; the assembler takes none.
type Params struct{}

// state is the assembler's owned, process-exclusive state (spec §4.4).
type state struct {
	ctx        llmcontext.Context
	contentAgg string
	toolName   *string
	toolArgs   string
	toolCallID *string
	debug      bool
}

// Process is the flow.Process implementing spec §4.4's assembler half.
type Process struct {
	logger commons.Logger
}

// New constructs the assistant context assembler process.
func New(logger commons.Logger) *Process {
	return &Process{logger: logger}
}

func (p *Process) Describe() flow.Descriptor {
	return flow.Descriptor{
		Name:         "assistant-context-assembler",
		InPorts:      []string{"in", "sys-in", "tool-read"},
		OutPorts:     []string{"out", "tool-write"},
		ParamsSchema: Params{},
		Workload:     flow.WorkloadCompute,
	}
}

func (p *Process) Init(ctx context.Context, params interface{}) (flow.State, []flow.ExtraPort, error) {
	extras := []flow.ExtraPort{
		{Name: "tool-read", Dir: flow.DirIn, Cap: flow.DefaultDataChannelCapacity},
	}
	return &state{}, extras, nil
}

func (p *Process) Transition(ctx context.Context, st flow.State, event flow.Event) (flow.State, error) {
	return st, nil
}

func (p *Process) Transform(ctx context.Context, st flow.State, inPort string, f frame.Frame) (flow.State, flow.Output, error) {
	s := st.(*state)

	switch f.Type() {
	case frame.LLMResponseStart:
		s.resetAggregation()
		return s, nil, nil

	case frame.LLMTextChunk:
		s.contentAgg += f.Data().(frame.TranscriptPayload).Text
		return s, nil, nil

	case frame.LLMToolCallChunk:
		payload := f.Data().(frame.ToolCallChunkPayload)
		if s.toolCallID == nil && payload.ID != nil {
			s.toolCallID = payload.ID
		}
		if s.toolName == nil && payload.Name != nil {
			s.toolName = payload.Name
		}
		s.toolArgs += payload.Argument
		return s, nil, nil

	case frame.LLMResponseEnd:
		return p.flushResponse(s)

	case frame.LLMToolCallResult:
		return p.handleToolCallResult(s, f)

	case frame.LLMContext:
		s.ctx = f.Data().(frame.ContextPayload).Context
		return s, nil, nil

	case frame.ControlInterruptStart:
		if s.contentAgg != "" {
			s.ctx = s.ctx.AppendMerged(llmcontext.NewTextMessage(llmcontext.RoleAssistant, s.contentAgg))
		}
		s.resetAggregation()
		return s, nil, nil

	default:
		return s, nil, nil
	}
}

func (s *state) resetAggregation() {
	s.contentAgg = ""
	s.toolName = nil
	s.toolArgs = ""
	s.toolCallID = nil
}

// flushResponse implements the llm-response-end rule: a completed tool call
// wins over accumulated text; an empty text turn is suppressed entirely
// (spec §9 Open Questions — an empty assistant turn is a no-op).
func (p *Process) flushResponse(s *state) (flow.State, flow.Output, error) {
	defer s.resetAggregation()

	if s.toolName != nil {
		id := ""
		if s.toolCallID != nil {
			id = *s.toolCallID
		}
		msg := llmcontext.Message{
			Role: llmcontext.RoleAssistant,
			ToolCalls: []llmcontext.ToolCall{{
				ID:   id,
				Type: "function",
				Function: llmcontext.ToolCallFunc{
					Name:      *s.toolName,
					Arguments: s.toolArgs,
				},
			}},
		}
		s.ctx = s.ctx.AppendMerged(msg)
		out, err := frame.NewLLMContextMessagesAppend(s.ctx, frame.Properties{RunLLM: false, ToolCall: true}, time.Now())
		if err != nil {
			return s, nil, err
		}
		return s, flow.Output{"out": {out}, "tool-write": {out}}, nil
	}

	if s.contentAgg == "" {
		return s, nil, nil
	}

	msg := llmcontext.NewTextMessage(llmcontext.RoleAssistant, s.contentAgg)
	s.ctx = s.ctx.AppendMerged(msg)
	out, err := frame.NewLLMContextMessagesAppend(s.ctx, frame.Properties{RunLLM: false, ToolCall: false}, time.Now())
	if err != nil {
		return s, nil, err
	}
	return s, flow.Output{"out": {out}}, nil
}

// handleToolCallResult appends the dispatcher's tool message to the context
// and emits the updated context with run-llm true, unless the tool was a
// transition tool (it carries an OnUpdate callback), in which case run-llm
// is false so the LLM is not re-triggered. The assembler itself takes no
// action on scenario-context-update frames.
func (p *Process) handleToolCallResult(s *state, f frame.Frame) (flow.State, flow.Output, error) {
	payload := f.Data().(frame.ToolCallResultPayload)
	s.ctx = s.ctx.AppendMerged(payload.Result)

	props := frame.Properties{
		RunLLM:   payload.Properties.OnUpdate == nil,
		ToolCall: true,
	}
	out, err := frame.NewLLMContextMessagesAppend(s.ctx, props, time.Now())
	if err != nil {
		return s, nil, err
	}
	return s, flow.Output{"out": {out}}, nil
}
