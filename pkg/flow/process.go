// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package flow implements the directed process graph described in spec
// §4.2 and §5: processes connected by classed channels, with system-vs-data
// priority scheduling, lifecycle transitions, and cancellation.
package flow

import (
	"context"

	"github.com/rapidaai/pkg/frame"
)

// Workload declares which scheduling pool a process's Transform calls run
// on (spec §5). compute processes (aggregators, assemblers) run on a
// bounded worker pool sized to CPU cores; io processes (transports, model
// clients) get their own goroutine and may block.
type Workload string

const (
	WorkloadCompute Workload = "compute"
	WorkloadIO      Workload = "io"
)

// Event is a lifecycle transition a process's Transition hook observes
// (spec §4.2).
type Event string

const (
	EventStart  Event = "start"
	EventResume Event = "resume"
	EventPause  Event = "pause"
	EventStop   Event = "stop"
)

// Direction marks whether an extra port declared by Init feeds the process
// (In) or is written to by it (Out) (spec §4.2 "in-ports"/"out-ports").
type Direction string

const (
	DirIn  Direction = "in"
	DirOut Direction = "out"
)

// ExtraPort is a channel a process declares at Init time beyond its two
// standard ports (in, sys-in). The assistant assembler's tool-read port
// and the pacer's timer-out are both ExtraPorts (spec §4.4, §4.5).
type ExtraPort struct {
	Name string
	Dir  Direction
	// Cap is the buffer capacity the runtime allocates when Dir == DirIn.
	// Ignored for DirOut (the process owns and sizes its own channel).
	Cap int
	// Chan is ignored for DirIn ports: the runtime allocates their channel
	// itself after Init returns, and the process never receives it. For
	// DirOut ports the process supplies the channel it already created
	// and the runtime only subscribes readers to it.
	Chan chan frame.Frame
}

// Descriptor is what Process.Describe returns: declared ports, the
// parameter schema used for defaulting/validation before Init (spec §4.2
// "Parameter validation"), and the workload class.
type Descriptor struct {
	Name     string
	InPorts  []string
	OutPorts []string
	// ParamsSchema is the zero value of a struct tagged with `mapstructure`
	// and `validate` tags. flow.Create decodes a process's raw args map
	// into a new value of this type and validates it before calling Init.
	ParamsSchema interface{}
	Workload     Workload
}

// State is the opaque, process-owned state threaded through Transform and
// Transition. Each concrete Process defines its own concrete type; the
// runtime never inspects it.
type State interface{}

// Output is what Transform returns: the frames to emit on each named
// output port for this invocation.
type Output map[string][]frame.Frame

// Process is the quadruple of behaviors spec §4.2 requires: describe,
// init, transform, transition. Transform must be pure except for side
// effects encapsulated in resources referenced from State.
type Process interface {
	Describe() Descriptor

	// Init receives the already-defaulted-and-validated params (a pointer
	// to a fresh value of Descriptor.ParamsSchema's type) and returns the
	// process's initial state plus any extra ports it needs beyond
	// in/sys-in.
	Init(ctx context.Context, params interface{}) (State, []ExtraPort, error)

	// Transform is invoked once per inbound frame. inPort is "in",
	// "sys-in", or the name of a declared extra in-port.
	Transform(ctx context.Context, state State, inPort string, f frame.Frame) (State, Output, error)

	// Transition handles a lifecycle event. On EventStop the process must
	// release every resource it owns (sockets, device lines, timers) and
	// close any extra ports it created.
	Transition(ctx context.Context, state State, event Event) (State, error)
}
