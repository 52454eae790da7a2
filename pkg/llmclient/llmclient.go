// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package llmclient defines the LLM collaborator contract (spec §6): it
// consumes llm-context / llm-context-messages-append and streams back
// exactly one llm-response-start, zero or more llm-text-chunk /
// llm-tool-call-chunk, and exactly one llm-response-end. The real provider
// wire protocol (OpenAI et al.) is out of scope — this is the frame-level
// contract plus a generic JSON streaming envelope over pkg/wsclient,
// grounded on websocket_executor.go's dialer/read-loop idiom.
package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rapidaai/pkg/commons"
	"github.com/rapidaai/pkg/flow"
	"github.com/rapidaai/pkg/frame"
	"github.com/rapidaai/pkg/llmcontext"
	"github.com/rapidaai/pkg/wsclient"
)

// Params is the LLM session's parameter schema (spec §6).
type Params struct {
	Model       string  `mapstructure:"model" validate:"required"`
	Temperature float64 `mapstructure:"temperature" validate:"gte=0,lte=2"`
}

// wireEvent is the generic provider streaming envelope.
type wireEvent struct {
	Type     string  `json:"type"`
	Text     string  `json:"text,omitempty"`
	ToolID   *string `json:"tool_id,omitempty"`
	ToolName *string `json:"tool_name,omitempty"`
	Argument string  `json:"argument,omitempty"`
}

const (
	eventResponseStart = "response_start"
	eventTextDelta     = "text_delta"
	eventToolCallDelta = "tool_call_delta"
	eventResponseEnd   = "response_end"
)

type outboundRequest struct {
	Type        string               `json:"type"`
	Model       string               `json:"model"`
	Temperature float64              `json:"temperature"`
	Messages    []llmcontext.Message `json:"messages"`
	Tools       []llmcontext.ToolDef `json:"tools,omitempty"`
}

type state struct {
	session     *wsclient.Session
	model       string
	temperature float64
	// interrupted is set by Transform on control-interrupt-start and read
	// by runReader's goroutine to discard pending chunks until the next
	// llm-response-start.
	interrupted *atomic.Bool
}

// Process is the flow.Process implementing the LLM collaborator.
type Process struct {
	logger   commons.Logger
	endpoint string
	headers  http.Header
}

// New constructs an LLM client process against the given provider endpoint.
func New(logger commons.Logger, endpoint string, headers http.Header) *Process {
	return &Process{logger: logger, endpoint: endpoint, headers: headers}
}

func (p *Process) Describe() flow.Descriptor {
	return flow.Descriptor{
		Name:         "llm-client",
		InPorts:      []string{"in", "sys-in", "provider-events"},
		OutPorts:     []string{"out"},
		ParamsSchema: Params{},
		Workload:     flow.WorkloadIO,
	}
}

func (p *Process) Init(ctx context.Context, params interface{}) (flow.State, []flow.ExtraPort, error) {
	prm := params.(*Params)

	session, err := wsclient.Dial(ctx, p.logger, p.endpoint, p.headers)
	if err != nil {
		return nil, nil, err
	}

	s := &state{session: session, model: prm.Model, temperature: prm.Temperature, interrupted: &atomic.Bool{}}

	events := make(chan frame.Frame, flow.DefaultDataChannelCapacity)
	go p.runReader(ctx, session, s.interrupted, events)

	return s, []flow.ExtraPort{{Name: "provider-events", Dir: flow.DirOut, Chan: events}}, nil
}

func (p *Process) Transition(ctx context.Context, st flow.State, event flow.Event) (flow.State, error) {
	if event == flow.EventStop {
		if s, ok := st.(*state); ok && s.session != nil {
			_ = s.session.Close()
		}
	}
	return st, nil
}

func (p *Process) Transform(ctx context.Context, st flow.State, inPort string, f frame.Frame) (flow.State, flow.Output, error) {
	s := st.(*state)

	if inPort == "provider-events" {
		return s, flow.Output{"out": {f}}, nil
	}

	switch f.Type() {
	case frame.LLMContext, frame.LLMContextMessagesAppend:
		payload := f.Data().(frame.ContextPayload)
		req := outboundRequest{
			Type:        "completion_request",
			Model:       s.model,
			Temperature: s.temperature,
			Messages:    payload.Context.Messages,
			Tools:       payload.Context.Tools,
		}
		if err := s.session.WriteJSON(req); err != nil {
			return s, nil, err
		}
		return s, nil, nil
	case frame.ControlInterruptStart:
		s.interrupted.Store(true)
		f, err := frame.NewLLMResponseEnd(time.Now())
		if err != nil {
			return s, nil, err
		}
		return s, flow.Output{"out": {f}}, nil
	default:
		return s, nil, nil
	}
}

func (p *Process) runReader(ctx context.Context, session *wsclient.Session, interrupted *atomic.Bool, out chan<- frame.Frame) {
	_ = session.ReadLoop(ctx, func(data []byte) error {
		var evt wireEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return err
		}

		switch evt.Type {
		case eventResponseStart:
			interrupted.Store(false)
			f, err := frame.NewLLMResponseStart(time.Now())
			return p.emit(out, f, err)
		case eventTextDelta:
			if interrupted.Load() {
				return nil
			}
			f, err := frame.NewLLMTextChunk(evt.Text, time.Now())
			return p.emit(out, f, err)
		case eventToolCallDelta:
			if interrupted.Load() {
				return nil
			}
			f, err := frame.NewLLMToolCallChunk(evt.ToolID, evt.ToolName, evt.Argument, time.Now())
			return p.emit(out, f, err)
		case eventResponseEnd:
			if interrupted.Load() {
				return nil
			}
			f, err := frame.NewLLMResponseEnd(time.Now())
			return p.emit(out, f, err)
		default:
			return nil
		}
	})
}

func (p *Process) emit(out chan<- frame.Frame, f frame.Frame, err error) error {
	if err != nil {
		return err
	}
	select {
	case out <- f:
	default:
		p.logger.Warnw("llm client provider-events channel full, dropping frame", "type", f.Type())
	}
	return nil
}
