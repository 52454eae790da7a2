// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package ttsclient defines the TTS collaborator contract (spec §6): it
// consumes speak-frame and emits audio-output-raw, bot-speech-start/stop.
// The real provider protocol (ElevenLabs et al.) is out of scope — this is
// the frame-level contract plus a generic JSON/binary wire envelope over
// pkg/wsclient, grounded on websocket_executor.go's dialer/keep-alive idiom.
package ttsclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rapidaai/pkg/commons"
	"github.com/rapidaai/pkg/flow"
	"github.com/rapidaai/pkg/frame"
	"github.com/rapidaai/pkg/wsclient"
)

// keepAliveInterval matches the 3s cadence most streaming TTS providers
// require to hold a session open between utterances.
const keepAliveInterval = 3 * time.Second

// Params is the TTS session's parameter schema (spec §6).
type Params struct {
	Voice      string `mapstructure:"voice" validate:"required"`
	SampleRate int    `mapstructure:"sample_rate" validate:"required,gt=0"`
	Encoding   string `mapstructure:"encoding" validate:"required"`
}

// wireEvent is the generic provider event envelope for inbound audio
// chunks and end-of-utterance markers.
type wireEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio,omitempty"`
}

const (
	eventAudioChunk   = "audio_chunk"
	eventUtteranceEnd = "utterance_end"
)

type outboundMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Voice string `json:"voice,omitempty"`
}

const (
	msgSessionStart = "session_start"
	msgSpeak        = "speak"
	msgFlush        = "flush"
	msgClose        = "close"
)

type state struct {
	session    *wsclient.Session
	sampleRate int
	speaking   bool
}

// Process is the flow.Process implementing the TTS collaborator.
type Process struct {
	logger   commons.Logger
	endpoint string
	headers  http.Header
}

// New constructs a TTS client process against the given provider endpoint.
func New(logger commons.Logger, endpoint string, headers http.Header) *Process {
	return &Process{logger: logger, endpoint: endpoint, headers: headers}
}

func (p *Process) Describe() flow.Descriptor {
	return flow.Descriptor{
		Name:         "tts-client",
		InPorts:      []string{"in", "sys-in", "provider-events"},
		OutPorts:     []string{"out", "sys-out"},
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
	if err := session.WriteJSON(outboundMessage{Type: msgSessionStart, Voice: prm.Voice}); err != nil {
		return nil, nil, err
	}

	go session.KeepAlive(ctx, keepAliveInterval, func() error {
		return session.WriteJSON(outboundMessage{Type: "ping"})
	})

	events := make(chan frame.Frame, flow.DefaultDataChannelCapacity)
	go p.runReader(ctx, session, prm.SampleRate, events)

	return &state{session: session, sampleRate: prm.SampleRate},
		[]flow.ExtraPort{{Name: "provider-events", Dir: flow.DirOut, Chan: events}}, nil
}

func (p *Process) Transition(ctx context.Context, st flow.State, event flow.Event) (flow.State, error) {
	if event == flow.EventStop {
		if s, ok := st.(*state); ok && s.session != nil {
			_ = s.session.WriteJSON(outboundMessage{Type: msgClose})
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
	case frame.SpeakFrame:
		payload := f.Data().(frame.SpeakPayload)
		if err := s.session.WriteJSON(outboundMessage{Type: msgSpeak, Text: payload.Text}); err != nil {
			return s, nil, err
		}
		if err := s.session.WriteJSON(outboundMessage{Type: msgFlush}); err != nil {
			return s, nil, err
		}
		return s, nil, nil
	default:
		return s, nil, nil
	}
}

func (p *Process) runReader(ctx context.Context, session *wsclient.Session, sampleRate int, out chan<- frame.Frame) {
	speaking := false
	_ = session.ReadLoop(ctx, func(data []byte) error {
		var evt wireEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return err
		}

		var frames []frame.Frame
		switch evt.Type {
		case eventAudioChunk:
			if !speaking {
				speaking = true
				if startFrame, err := frame.NewBotSpeechStart(time.Now()); err == nil {
					frames = append(frames, startFrame)
				}
			}
			if decoded, derr := base64.StdEncoding.DecodeString(evt.Audio); derr == nil {
				if audioFrame, err := frame.NewAudioOutputRaw(decoded, sampleRate, time.Now()); err == nil {
					frames = append(frames, audioFrame)
				}
			}
		case eventUtteranceEnd:
			if speaking {
				speaking = false
				if stopFrame, err := frame.NewBotSpeechStop(time.Now()); err == nil {
					frames = append(frames, stopFrame)
				}
			}
		default:
			return nil
		}

		for _, f := range frames {
			select {
			case out <- f:
			default:
				p.logger.Warnw("tts client provider-events channel full, dropping frame", "type", f.Type())
			}
		}
		return nil
	})
}
