// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package pacer implements the realtime output pacer (spec §4.5): a pure
// transform mapping (state, event) -> (state', outputs) for bot-speech
// boundary detection and wall-clock audio scheduling, with a single side
// effect isolated in a background worker that drains the paced write
// queue and hands bytes to the device.
package pacer

import (
	"context"
	"time"

	"github.com/rapidaai/pkg/commons"
	"github.com/rapidaai/pkg/flow"
	"github.com/rapidaai/pkg/frame"
)

// Serializer transforms a frame destined for the device into the bytes
// actually written — e.g. a transport-specific envelope (base64 + JSON for
// a WebSocket media stream). Only the returned bytes are used; any other
// envelope structure the serializer builds internally is discarded after
// extraction (spec §4.5 "apply it to the whole frame, then extract only
// data for the write command").
type Serializer interface {
	Serialize(f frame.Frame) ([]byte, error)
}

// DeviceWriter is the sink the pacer's background worker hands paced bytes
// to — an audio device line, a WebSocket connection, etc. Supplied by the
// host; never implemented inside this package (spec's Non-goals keep
// transport/device specifics external).
type DeviceWriter interface {
	Write(data []byte, sampleRate int) error
}

// Params is the pacer's parameter schema.
type Params struct {
	ChunkDurationMs    int `mapstructure:"chunk_duration_ms" validate:"required,gt=0"`
	SilenceThresholdMs int `mapstructure:"silence_threshold_ms" validate:"required,gt=0"`
}

type writeCmd struct {
	data         []byte
	sampleRate   int
	delayUntilMs int64
}

// state is the pacer's owned, process-exclusive state (spec §4.5).
type state struct {
	speaking        bool
	lastSendTime    time.Time
	sendingInterval time.Duration
	silenceThresh   time.Duration
	serializer      Serializer
	audioLine       string
	writeQueue      chan writeCmd
}

// Process is the flow.Process implementing spec §4.5.
type Process struct {
	logger commons.Logger
	writer DeviceWriter
	now    func() time.Time
}

// Option configures a Process at construction, mirroring pkg/commons's
// functional-option pattern.
type Option func(*Process)

// WithClock overrides the pacer's time source — used by tests to drive
// delay-until scheduling deterministically.
func WithClock(now func() time.Time) Option {
	return func(p *Process) { p.now = now }
}

// New constructs the pacer over the given device sink.
func New(logger commons.Logger, writer DeviceWriter, opts ...Option) *Process {
	p := &Process{logger: logger, writer: writer, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Process) Describe() flow.Descriptor {
	return flow.Descriptor{
		Name:         "realtime-output-pacer",
		InPorts:      []string{"in", "sys-in", "timer-out"},
		OutPorts:     []string{"out", "audio-write"},
		ParamsSchema: Params{},
		Workload:     flow.WorkloadCompute,
	}
}

func (p *Process) Init(ctx context.Context, params interface{}) (flow.State, []flow.ExtraPort, error) {
	prm := params.(*Params)

	tickCh := make(chan frame.Frame, 1)
	go p.runTicker(ctx, tickCh)

	queue := make(chan writeCmd, flow.DefaultDataChannelCapacity)
	go p.runWriter(ctx, queue)

	s := &state{
		sendingInterval: time.Duration(prm.ChunkDurationMs) * time.Millisecond / 2,
		silenceThresh:   time.Duration(prm.SilenceThresholdMs) * time.Millisecond,
		writeQueue:      queue,
	}

	extras := []flow.ExtraPort{
		{Name: "timer-out", Dir: flow.DirOut, Chan: tickCh},
	}
	return s, extras, nil
}

func (p *Process) Transition(ctx context.Context, st flow.State, event flow.Event) (flow.State, error) {
	// Background goroutines watch ctx.Done() (closed by the flow on Stop)
	// and exit on their own; nothing else to release here.
	return st, nil
}

func (p *Process) Transform(ctx context.Context, st flow.State, inPort string, f frame.Frame) (flow.State, flow.Output, error) {
	s := st.(*state)

	switch f.Type() {
	case frame.AudioOutputRaw:
		return p.onAudioFrame(s, f)

	case frame.PacerTimerTick:
		return p.onTimerTick(s)

	case frame.SystemConfigChange:
		payload := f.Data().(frame.ConfigChangePayload)
		if payload.Key == "transport/serializer" {
			if ser, ok := payload.Value.(Serializer); ok {
				s.serializer = ser
			}
		}
		return s, nil, nil

	default:
		return s, nil, nil
	}
}

func (p *Process) onAudioFrame(s *state, f frame.Frame) (flow.State, flow.Output, error) {
	var out flow.Output

	if !s.speaking {
		s.speaking = true
		start, err := frame.NewBotSpeechStart(p.now())
		if err != nil {
			return s, nil, err
		}
		out = flow.Output{"out": {start}}
	}

	now := p.now()
	delayUntil := now
	if earliest := s.lastSendTime.Add(s.sendingInterval); earliest.After(delayUntil) {
		delayUntil = earliest
	}
	s.lastSendTime = delayUntil

	payload := f.Data().(frame.AudioPayload)
	data := payload.Data
	if s.serializer != nil {
		serialized, err := s.serializer.Serialize(f)
		if err != nil {
			return s, out, err
		}
		data = serialized
	}

	cmdFrame, err := frame.NewAudioWriteCommand(data, payload.SampleRate, delayUntil.UnixMilli(), now)
	if err != nil {
		return s, out, err
	}
	if out == nil {
		out = flow.Output{}
	}
	out["audio-write"] = []frame.Frame{cmdFrame}

	select {
	case s.writeQueue <- writeCmd{data: data, sampleRate: payload.SampleRate, delayUntilMs: delayUntil.UnixMilli()}:
	default:
		p.logger.Warnw("pacer write queue full, dropping audio chunk")
	}

	return s, out, nil
}

func (p *Process) onTimerTick(s *state) (flow.State, flow.Output, error) {
	if !s.speaking {
		return s, nil, nil
	}
	if p.now().Sub(s.lastSendTime) <= s.silenceThresh {
		return s, nil, nil
	}
	s.speaking = false
	stop, err := frame.NewBotSpeechStop(p.now())
	if err != nil {
		return s, nil, err
	}
	return s, flow.Output{"out": {stop}}, nil
}

func (p *Process) runTicker(ctx context.Context, out chan<- frame.Frame) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			tick, err := frame.NewPacerTimerTick(t)
			if err != nil {
				continue
			}
			select {
			case out <- tick:
			default:
			}
		}
	}
}

func (p *Process) runWriter(ctx context.Context, queue <-chan writeCmd) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-queue:
			if !ok {
				return
			}
			delay := time.UnixMilli(cmd.delayUntilMs).Sub(p.now())
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return
				}
			}
			if err := p.writer.Write(cmd.data, cmd.sampleRate); err != nil {
				p.logger.Errorw("pacer device write failed", "error", err.Error())
			}
		}
	}
}
