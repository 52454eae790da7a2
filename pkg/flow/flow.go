// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package flow

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"

	validatorpkg "github.com/go-playground/validator/v10"

	"github.com/rapidaai/pkg/commons"
	"github.com/rapidaai/pkg/frame"
	"github.com/rapidaai/pkg/pipelineerr"
)

// Default buffered-channel capacities (spec §5): the system channel is sized
// generously because it must never drop a frame; data/tool channels are
// smaller because audio-input-raw is allowed to be dropped under backpressure.
const (
	DefaultSysChannelCapacity  = 1024
	DefaultDataChannelCapacity = 100
)

var validate = validatorpkg.New()

// ProcDef names one process instance within a flow and its raw args.
type ProcDef struct {
	ID   string
	Proc Process
	Args map[string]interface{}
}

// Conn wires an output port of one process to an input port of another.
// ToPort "in"/"sys-in" are reclassified per-frame by frame.Classify; any
// other ToPort name is treated as a literal out-of-band extra port and
// frames are delivered there unconditionally (spec §4.2, §4.4's
// tool-write/tool-read back-channel).
type Conn struct {
	FromProc string
	FromPort string
	ToProc   string
	ToPort   string
}

// Config is the configuration entry point spec §6 describes: an ordered
// set of process definitions plus the connection list between them.
type Config struct {
	Procs []ProcDef
	Conns []Conn
}

type procRuntime struct {
	id         string
	proc       Process
	descriptor Descriptor
	state      State

	sysIn chan frame.Frame
	in    chan frame.Frame
	extra map[string]chan frame.Frame // name -> channel, both directions

	// outbound edges: fromPort -> list of (toProc, toPort)
	outEdges map[string][]edge

	resumeMu sync.Mutex
	resumeCh chan struct{} // nil while running; non-nil (open) while paused

	started bool
}

type edge struct {
	toProc string
	toPort string
}

// Flow is the live graph: processes, channels, and lifecycle (spec §3.5,
// §4.2). A Flow exclusively owns its processes, its channels, and any
// resources those processes allocate.
type Flow struct {
	logger commons.Logger

	ctx    context.Context
	cancel context.CancelFunc

	procs map[string]*procRuntime
	wg    sync.WaitGroup

	computeSem chan struct{} // bounds concurrent compute-class Transform calls

	mu      sync.Mutex
	running bool
}

// Create validates every process's parameters, calls Init on each (so
// Error.BadConfig surfaces before anything starts — spec §4.2), and wires
// the channel topology from cfg.Conns. No process is started; call Start
// to begin scheduling.
func Create(ctx context.Context, logger commons.Logger, cfg Config) (*Flow, error) {
	fctx, cancel := context.WithCancel(ctx)
	fl := &Flow{
		logger:     logger,
		ctx:        fctx,
		cancel:     cancel,
		procs:      make(map[string]*procRuntime, len(cfg.Procs)),
		computeSem: make(chan struct{}, max(1, runtime.GOMAXPROCS(0))),
	}

	for _, pd := range cfg.Procs {
		pr, err := fl.buildProcess(fctx, pd)
		if err != nil {
			cancel()
			return nil, err
		}
		fl.procs[pd.ID] = pr
	}

	if err := fl.wireConns(cfg.Conns); err != nil {
		cancel()
		return nil, err
	}

	return fl, nil
}

func (fl *Flow) buildProcess(ctx context.Context, pd ProcDef) (*procRuntime, error) {
	descriptor := pd.Proc.Describe()

	params, err := decodeAndValidateParams(descriptor, pd.Args)
	if err != nil {
		return nil, fmt.Errorf("process %s: %w", pd.ID, err)
	}

	state, extras, err := pd.Proc.Init(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("process %s: init failed: %w", pd.ID, err)
	}

	pr := &procRuntime{
		id:         pd.ID,
		proc:       pd.Proc,
		descriptor: descriptor,
		state:      state,
		sysIn:      make(chan frame.Frame, DefaultSysChannelCapacity),
		in:         make(chan frame.Frame, DefaultDataChannelCapacity),
		extra:      make(map[string]chan frame.Frame),
		outEdges:   make(map[string][]edge),
	}
	for _, ep := range extras {
		if ep.Dir == DirIn {
			cap := ep.Cap
			if cap <= 0 {
				cap = DefaultDataChannelCapacity
			}
			pr.extra[ep.Name] = make(chan frame.Frame, cap)
		} else {
			pr.extra[ep.Name] = ep.Chan
		}
	}
	return pr, nil
}

// decodeAndValidateParams applies spec §4.2's "Parameter validation": decode
// the raw args map into a fresh ParamsSchema value via mapstructure
// (defaults live as the schema's zero values / struct tags), then validate
// with validator/v10, collecting every violated constraint into a single
// Error.BadConfig.
func decodeAndValidateParams(d Descriptor, args map[string]interface{}) (interface{}, error) {
	if d.ParamsSchema == nil {
		return nil, nil
	}
	target := reflect.New(reflect.TypeOf(d.ParamsSchema)).Interface()

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, pipelineerr.BadConfig("failed to build param decoder", err)
	}
	if err := decoder.Decode(args); err != nil {
		return nil, pipelineerr.BadConfig("failed to decode process args", err)
	}

	if err := validate.Struct(target); err != nil {
		var verrs validatorpkg.ValidationErrors
		if asValidationErrors(err, &verrs) {
			var msgs []string
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return nil, pipelineerr.BadConfig(strings.Join(msgs, "; "), err)
		}
		return nil, pipelineerr.BadConfig("invalid process args", err)
	}
	return target, nil
}

func asValidationErrors(err error, out *validatorpkg.ValidationErrors) bool {
	if verrs, ok := err.(validatorpkg.ValidationErrors); ok {
		*out = verrs
		return true
	}
	return false
}

func (fl *Flow) wireConns(conns []Conn) error {
	for _, c := range conns {
		from, ok := fl.procs[c.FromProc]
		if !ok {
			return fmt.Errorf("connection references unknown source process %q", c.FromProc)
		}
		if _, ok := fl.procs[c.ToProc]; !ok {
			return fmt.Errorf("connection references unknown destination process %q", c.ToProc)
		}
		from.outEdges[c.FromPort] = append(from.outEdges[c.FromPort], edge{toProc: c.ToProc, toPort: c.ToPort})
	}
	return nil
}

// Logger exposes the flow's logger, e.g. for a host wiring a collaborator
// outside the graph.
func (fl *Flow) Logger() commons.Logger { return fl.logger }

// Inject delivers a frame into procID from outside the graph — the entry
// point a host uses to feed external input (a mic/telephony byte stream, a
// text-input frame from an HTTP handler) onto a process's in/sys-in.
// Classification is applied exactly as it would be for an inter-process
// emission.
func (fl *Flow) Inject(procID string, f frame.Frame) error {
	to, ok := fl.procs[procID]
	if !ok {
		return fmt.Errorf("inject: unknown process %q", procID)
	}
	fl.deliver(to, "in", f)
	return nil
}
