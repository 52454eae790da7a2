// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package useraggregator implements the user-side context aggregator (spec
// §4.3): a state machine folding a partial-ordered stream of speech
// start/stop, interim transcripts, and final transcripts into a single
// authoritative user turn, emitted as one llm-context frame per utterance.
package useraggregator

import (
	"context"
	"time"

	"github.com/rapidaai/pkg/commons"
	"github.com/rapidaai/pkg/flow"
	"github.com/rapidaai/pkg/frame"
	"github.com/rapidaai/pkg/llmcontext"
)

// Params is the process's parameter schema; the user aggregator takes none
// beyond the name it's registered under, but declares the schema anyway so
// flow.Create's defaulting/validation path is exercised uniformly.
type Params struct{}

// state is the aggregator's owned, process-exclusive state (spec §3.5).
type state struct {
	ctx         llmcontext.Context
	aggregating bool
	seenInterim bool
	seenEnd     bool
	aggregation string
}

// Process is the flow.Process implementing spec §4.3.
type Process struct {
	logger commons.Logger
}

// New constructs the user context aggregator process.
func New(logger commons.Logger) *Process {
	return &Process{logger: logger}
}

func (p *Process) Describe() flow.Descriptor {
	return flow.Descriptor{
		Name:         "user-context-aggregator",
		InPorts:      []string{"in", "sys-in"},
		OutPorts:     []string{"out"},
		ParamsSchema: Params{},
		Workload:     flow.WorkloadCompute,
	}
}

func (p *Process) Init(ctx context.Context, params interface{}) (flow.State, []flow.ExtraPort, error) {
	return &state{}, nil, nil
}

func (p *Process) Transition(ctx context.Context, st flow.State, event flow.Event) (flow.State, error) {
	// No owned resources (sockets, timers) to release on stop.
	return st, nil
}

func (p *Process) Transform(ctx context.Context, st flow.State, inPort string, f frame.Frame) (flow.State, flow.Output, error) {
	s := st.(*state)

	switch f.Type() {
	case frame.UserSpeechStart, frame.VADUserSpeechStart:
		s.aggregating = true
		s.seenEnd = false
		s.seenInterim = false
		// Deliberately does not clear s.aggregation — tolerates a
		// duplicate S arriving before the matching E (spec §9 Open
		// Questions).
		return s, nil, nil

	case frame.UserSpeechStop, frame.VADUserSpeechStop:
		if !s.aggregating {
			return s, nil, nil
		}
		if s.seenInterim || s.aggregation == "" {
			s.seenEnd = true
			return s, nil, nil
		}
		return p.emit(s)

	case frame.TranscriptionInterim:
		s.seenInterim = true
		return s, nil, nil

	case frame.TranscriptionResult:
		if !s.aggregating {
			return s, nil, nil
		}
		text := f.Data().(frame.TranscriptPayload).Text
		if s.aggregation == "" {
			s.aggregation = text
		} else {
			s.aggregation = s.aggregation + " " + text
		}
		if s.seenEnd {
			return p.emit(s)
		}
		s.seenInterim = false
		return s, nil, nil

	case frame.LLMContext, frame.LLMContextMessagesAppend:
		payload := f.Data().(frame.ContextPayload)
		s.ctx = payload.Context
		if tail := lastMessage(s.ctx); tail != nil && tail.IsToolResult() {
			// A tool result just landed; forward so the LLM client sees
			// the update and resumes the conversation.
			return s, flow.Output{"out": {f}}, nil
		}
		return s, nil, nil

	case frame.LLMToolCallResult:
		payload := f.Data().(frame.ToolCallResultPayload)
		s.ctx = s.ctx.AppendMerged(payload.Result)
		return s, nil, nil

	case frame.SpeakFrame:
		text := f.Data().(frame.SpeakPayload).Text
		s.ctx = s.ctx.AppendMerged(llmcontext.NewTextMessage(llmcontext.RoleAssistant, text))
		return s, flow.Output{"out": {f}}, nil

	case frame.SystemConfigChange:
		payload := f.Data().(frame.ConfigChangePayload)
		if payload.Key == "llm.context" {
			if newCtx, ok := payload.Value.(llmcontext.Context); ok {
				s.ctx = newCtx
			}
		}
		return s, nil, nil

	default:
		return s, nil, nil
	}
}

func lastMessage(c llmcontext.Context) *llmcontext.Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// emit builds the aggregated user message, applies the same-role merge law
// (spec §3.4), emits exactly one llm-context frame, and resets aggregation
// state for the next utterance.
func (p *Process) emit(s *state) (flow.State, flow.Output, error) {
	nextCtx := s.ctx.AppendMerged(llmcontext.NewTextMessage(llmcontext.RoleUser, s.aggregation))
	s.ctx = nextCtx

	out, err := frame.NewLLMContext(nextCtx, frame.Properties{RunLLM: true}, time.Now())
	if err != nil {
		return s, nil, err
	}

	s.aggregation = ""
	s.aggregating = false
	s.seenInterim = false
	s.seenEnd = false

	return s, flow.Output{"out": {out}}, nil
}
