// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package sttclient defines the STT collaborator contract (spec §6): it
// consumes audio-input-raw and emits user-speech-start/stop and
// transcription-interim/result. The real provider protocol (Deepgram et
// al.) is out of scope — this is the frame-level contract plus a generic
// JSON wire envelope over pkg/wsclient, grounded on
// websocket_executor.go's WSMessageType envelope idiom.
package sttclient

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rapidaai/pkg/commons"
	"github.com/rapidaai/pkg/flow"
	"github.com/rapidaai/pkg/frame"
	"github.com/rapidaai/pkg/pipelineerr"
	"github.com/rapidaai/pkg/wsclient"
)

// Params is the STT session's parameter schema (spec §6). Cross-field
// rules that validator/v10 tags can't express (utterance-end-ms > 0
// requires interim-results) are enforced in Init.
type Params struct {
	SampleRate     int    `mapstructure:"sample_rate" validate:"required,gt=0"`
	Encoding       string `mapstructure:"encoding" validate:"required"`
	Language       string `mapstructure:"language" validate:"required"`
	Model          string `mapstructure:"model" validate:"required"`
	InterimResults bool   `mapstructure:"interim_results"`
	VADEvents      bool   `mapstructure:"vad_events"`
	SmartFormat    bool   `mapstructure:"smart_format"`
	Punctuate      bool   `mapstructure:"punctuate"`
	UtteranceEndMs int    `mapstructure:"utterance_end_ms"`
}

func (p Params) validateCrossFields() error {
	if p.UtteranceEndMs > 0 && !p.InterimResults {
		return pipelineerr.BadConfig("utterance_end_ms > 0 requires interim_results = true", nil)
	}
	if p.SmartFormat && p.Punctuate {
		return pipelineerr.BadConfig("smart_format = true requires punctuate = false", nil)
	}
	return nil
}

// wireEvent is the generic provider event envelope this stub speaks,
// mirroring websocket_executor.go's WSResponse shape.
type wireEvent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

const (
	eventSpeechStarted     = "speech_started"
	eventSpeechEnded       = "speech_ended"
	eventInterimTranscript = "interim_transcript"
	eventFinalTranscript   = "final_transcript"
)

type state struct {
	session *wsclient.Session
}

// Process is the flow.Process implementing the STT collaborator.
type Process struct {
	logger   commons.Logger
	endpoint string
	headers  http.Header
}

// New constructs an STT client process against the given provider endpoint.
func New(logger commons.Logger, endpoint string, headers http.Header) *Process {
	return &Process{logger: logger, endpoint: endpoint, headers: headers}
}

func (p *Process) Describe() flow.Descriptor {
	return flow.Descriptor{
		Name:         "stt-client",
		InPorts:      []string{"in", "sys-in", "provider-events"},
		OutPorts:     []string{"out"},
		ParamsSchema: Params{},
		Workload:     flow.WorkloadIO,
	}
}

func (p *Process) Init(ctx context.Context, params interface{}) (flow.State, []flow.ExtraPort, error) {
	prm := params.(*Params)
	if err := prm.validateCrossFields(); err != nil {
		return nil, nil, err
	}

	session, err := wsclient.Dial(ctx, p.logger, p.endpoint, p.headers)
	if err != nil {
		return nil, nil, err
	}
	if err := session.WriteJSON(map[string]interface{}{
		"type":            "configure",
		"sample_rate":     prm.SampleRate,
		"encoding":        prm.Encoding,
		"language":        prm.Language,
		"model":           prm.Model,
		"interim_results": prm.InterimResults,
		"vad_events":      prm.VADEvents,
		"smart_format":    prm.SmartFormat,
		"punctuate":       prm.Punctuate,
		"utterance_end_ms": prm.UtteranceEndMs,
	}); err != nil {
		return nil, nil, err
	}

	events := make(chan frame.Frame, flow.DefaultDataChannelCapacity)
	go p.runReader(ctx, session, events)

	return &state{session: session}, []flow.ExtraPort{{Name: "provider-events", Dir: flow.DirOut, Chan: events}}, nil
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
	case frame.AudioInputRaw:
		payload := f.Data().(frame.AudioPayload)
		if err := s.session.WriteBinary(payload.Data); err != nil {
			return s, nil, err
		}
		return s, nil, nil
	default:
		return s, nil, nil
	}
}

func (p *Process) runReader(ctx context.Context, session *wsclient.Session, out chan<- frame.Frame) {
	err := session.ReadLoop(ctx, func(data []byte) error {
		var evt wireEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return err
		}

		var f frame.Frame
		var err error
		switch evt.Type {
		case eventSpeechStarted:
			f, err = frame.NewUserSpeechStart(time.Now())
		case eventSpeechEnded:
			f, err = frame.NewUserSpeechStop(time.Now())
		case eventInterimTranscript:
			f, err = frame.NewTranscriptionInterim(evt.Text, time.Now())
		case eventFinalTranscript:
			f, err = frame.NewTranscriptionResult(evt.Text, time.Now())
		default:
			return nil
		}
		if err != nil {
			return err
		}

		select {
		case out <- f:
		default:
			p.logger.Warnw("stt client provider-events channel full, dropping event", "type", evt.Type)
		}
		return nil
	})
	if err != nil && pipelineerr.Is(err, pipelineerr.KindTransportFatal) {
		if errFrame, ferr := frame.NewSystemError(err.Error(), time.Now()); ferr == nil {
			select {
			case out <- errFrame:
			default:
			}
		}
	}
}
