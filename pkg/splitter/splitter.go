// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package splitter implements the audio splitter (spec §4.6): a pure,
// one-shot chunker over a single input buffer, generalized from the
// teacher's streaming accumulator (bufferAndSendOutput) into a splitter
// with no buffering across input frames.
package splitter

import (
	"context"
	"time"

	"github.com/rapidaai/pkg/commons"
	"github.com/rapidaai/pkg/flow"
	"github.com/rapidaai/pkg/frame"
)

// Params is the process's parameter schema: the PCM format the splitter
// chunks to a fixed duration.
type Params struct {
	SampleRate     int `mapstructure:"sample_rate" validate:"required,gt=0"`
	SampleSizeBits int `mapstructure:"sample_size_bits" validate:"required,gt=0"`
	Channels       int `mapstructure:"channels" validate:"required,gt=0"`
	DurationMs     int `mapstructure:"duration_ms" validate:"required,gt=0"`
}

// ChunkSize computes the fixed-size chunk in bytes per spec §4.6:
// sampleRate × (bits/8) × channels × durationMs / 1000.
func (p Params) ChunkSize() int {
	return p.SampleRate * (p.SampleSizeBits / 8) * p.Channels * p.DurationMs / 1000
}

type state struct {
	chunkSize  int
	sampleRate int
}

// Process is the flow.Process implementing spec §4.6.
type Process struct {
	logger commons.Logger
}

// New constructs the audio splitter process.
func New(logger commons.Logger) *Process {
	return &Process{logger: logger}
}

func (p *Process) Describe() flow.Descriptor {
	return flow.Descriptor{
		Name:         "audio-splitter",
		InPorts:      []string{"in", "sys-in"},
		OutPorts:     []string{"out"},
		ParamsSchema: Params{},
		Workload:     flow.WorkloadCompute,
	}
}

func (p *Process) Init(ctx context.Context, params interface{}) (flow.State, []flow.ExtraPort, error) {
	prm := params.(*Params)
	return &state{chunkSize: prm.ChunkSize(), sampleRate: prm.SampleRate}, nil, nil
}

func (p *Process) Transition(ctx context.Context, st flow.State, event flow.Event) (flow.State, error) {
	return st, nil
}

func (p *Process) Transform(ctx context.Context, st flow.State, inPort string, f frame.Frame) (flow.State, flow.Output, error) {
	s := st.(*state)

	switch f.Type() {
	case frame.AudioInputRaw, frame.AudioOutputRaw:
		return p.split(s, f)
	default:
		return s, nil, nil
	}
}

// split chunks a single frame's PCM buffer into fixed-size frames, in
// order, with the last chunk possibly short. No state carries across calls
// — each input frame is split independently (spec §4.6 "no buffering
// across input frames").
func (p *Process) split(s *state, f frame.Frame) (flow.State, flow.Output, error) {
	payload := f.Data().(frame.AudioPayload)
	data := payload.Data

	var chunks []frame.Frame
	for offset := 0; offset < len(data); offset += s.chunkSize {
		end := offset + s.chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk, err := frame.New(f.Type(), frame.AudioPayload{Data: data[offset:end], SampleRate: s.sampleRate}, timestampOf(f))
		if err != nil {
			return s, nil, err
		}
		chunks = append(chunks, chunk)
	}
	return s, flow.Output{"out": chunks}, nil
}

func timestampOf(f frame.Frame) time.Time {
	return time.UnixMilli(f.TimestampMs())
}
