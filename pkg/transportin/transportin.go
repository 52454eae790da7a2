// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package transportin implements the shared prelude for input transports
// (microphone, Twilio) — spec §4.7: mute gating and the VAD state machine
// that turns raw audio into user-speech-start/stop and, when the transport
// supports it, barge-in control frames. Grounded on the teacher's
// BaseTelephonyStreamer, which embeds a transport-agnostic base and adds
// only transport-specific resampling — the same "base does the shared
// state machine, concrete transport does the wire format" split.
package transportin

import (
	"context"
	"time"

	"github.com/rapidaai/pkg/commons"
	"github.com/rapidaai/pkg/flow"
	"github.com/rapidaai/pkg/frame"
)

// VADState is the voice-activity-detector's own mini state machine (spec
// §4.7); starting/stopping are transient and only ever update state.
type VADState string

const (
	VADQuiet    VADState = "quiet"
	VADStarting VADState = "starting"
	VADSpeaking VADState = "speaking"
	VADStopping VADState = "stopping"
)

// Analyzer is the pluggable VAD algorithm contract. Never implemented in
// this package — the actual detector (energy-based, WebRTC VAD, ML model)
// is an external collaborator supplied at construction, same as the
// teacher's internal_type.AudioResampler abstraction over resampling
// backends.
type Analyzer interface {
	Analyze(pcm []byte) VADState
}

// Params is the process's parameter schema.
type Params struct {
	SupportsInterrupt bool `mapstructure:"supports_interrupt"`
}

type state struct {
	supportsInterrupt bool
	vadState          VADState
	muted             bool
}

// Process is the flow.Process implementing spec §4.7.
type Process struct {
	logger   commons.Logger
	analyzer Analyzer // nil means no VAD — audio is only gated by mute
}

// New constructs the transport-in base over an optional VAD analyzer. A nil
// analyzer disables VAD entirely — mute gating and bot-interrupt handling
// still apply.
func New(logger commons.Logger, analyzer Analyzer) *Process {
	return &Process{logger: logger, analyzer: analyzer}
}

func (p *Process) Describe() flow.Descriptor {
	return flow.Descriptor{
		Name:         "transport-in-base",
		InPorts:      []string{"in", "sys-in"},
		OutPorts:     []string{"out", "sys-out"},
		ParamsSchema: Params{},
		Workload:     flow.WorkloadCompute,
	}
}

func (p *Process) Init(ctx context.Context, params interface{}) (flow.State, []flow.ExtraPort, error) {
	prm := params.(*Params)
	return &state{supportsInterrupt: prm.SupportsInterrupt, vadState: VADQuiet}, nil, nil
}

func (p *Process) Transition(ctx context.Context, st flow.State, event flow.Event) (flow.State, error) {
	return st, nil
}

func (p *Process) Transform(ctx context.Context, st flow.State, inPort string, f frame.Frame) (flow.State, flow.Output, error) {
	s := st.(*state)

	switch f.Type() {
	case frame.MuteInputStart:
		s.muted = true
		return s, nil, nil

	case frame.MuteInputStop:
		s.muted = false
		return s, nil, nil

	case frame.AudioInputRaw:
		return p.onAudio(s, f)

	case frame.BotInterrupt:
		if !s.supportsInterrupt {
			return s, nil, nil
		}
		out, err := frame.NewControlInterruptStart(now(f))
		if err != nil {
			return s, nil, err
		}
		return s, flow.Output{"sys-out": {out}}, nil

	default:
		return s, nil, nil
	}
}

func (p *Process) onAudio(s *state, f frame.Frame) (flow.State, flow.Output, error) {
	if s.muted {
		return s, nil, nil
	}

	out := flow.Output{"out": {f}}

	if p.analyzer == nil {
		return s, out, nil
	}

	payload := f.Data().(frame.AudioPayload)
	prev := s.vadState
	next := p.analyzer.Analyze(payload.Data)
	s.vadState = next

	if prev != VADSpeaking && next == VADSpeaking {
		frames, err := p.speechStartTriple(s, f)
		if err != nil {
			return s, nil, err
		}
		out["sys-out"] = frames
	} else if prev != VADQuiet && next == VADQuiet {
		frames, err := p.speechStopTriple(s, f)
		if err != nil {
			return s, nil, err
		}
		out["sys-out"] = frames
	}

	return s, out, nil
}

func (p *Process) speechStartTriple(s *state, f frame.Frame) ([]frame.Frame, error) {
	vadStart, err := frame.NewVADUserSpeechStart(now(f))
	if err != nil {
		return nil, err
	}
	userStart, err := frame.NewUserSpeechStart(now(f))
	if err != nil {
		return nil, err
	}
	frames := []frame.Frame{vadStart, userStart}
	if s.supportsInterrupt {
		interrupt, err := frame.NewControlInterruptStart(now(f))
		if err != nil {
			return nil, err
		}
		frames = append(frames, interrupt)
	}
	return frames, nil
}

func (p *Process) speechStopTriple(s *state, f frame.Frame) ([]frame.Frame, error) {
	vadStop, err := frame.NewVADUserSpeechStop(now(f))
	if err != nil {
		return nil, err
	}
	userStop, err := frame.NewUserSpeechStop(now(f))
	if err != nil {
		return nil, err
	}
	frames := []frame.Frame{vadStop, userStop}
	if s.supportsInterrupt {
		interrupt, err := frame.NewControlInterruptStop(now(f))
		if err != nil {
			return nil, err
		}
		frames = append(frames, interrupt)
	}
	return frames, nil
}

func now(f frame.Frame) time.Time {
	return time.UnixMilli(f.TimestampMs())
}
