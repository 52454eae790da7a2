// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package flow

import (
	"fmt"
	"reflect"

	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/pkg/frame"
)

// Start transitions every process through EventStart and spawns its worker
// goroutine. Flows start paused (spec §3.5 "started (paused)") — call
// Resume to begin scheduling frames. Process start transitions run
// concurrently (each process's Init already opened its own collaborator
// connections independently), the same errgroup-fan-out idiom the
// teacher's LLM executor uses to establish its connection and fetch
// history in parallel.
func (fl *Flow) Start() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	g, gctx := errgroup.WithContext(fl.ctx)
	for id, pr := range fl.procs {
		id, pr := id, pr
		g.Go(func() error {
			state, err := pr.proc.Transition(gctx, pr.state, EventStart)
			if err != nil {
				return fmt.Errorf("process %s: start transition failed: %w", id, err)
			}
			pr.state = state
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, pr := range fl.procs {
		pr.resumeCh = make(chan struct{}) // closed (never) == paused gate held
		pr.started = true

		fl.wg.Add(1)
		go fl.runWorker(pr)
	}
	return nil
}

// Resume opens every process's pause gate and lets the workers begin
// dequeuing frames.
func (fl *Flow) Resume() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	for id, pr := range fl.procs {
		state, err := pr.proc.Transition(fl.ctx, pr.state, EventResume)
		if err != nil {
			return fmt.Errorf("process %s: resume transition failed: %w", id, err)
		}
		pr.state = state

		pr.resumeMu.Lock()
		if pr.resumeCh != nil {
			close(pr.resumeCh)
			pr.resumeCh = nil
		}
		pr.resumeMu.Unlock()
	}
	fl.running = true
	return nil
}

// Pause closes every process's pause gate again; in-flight Transform calls
// still complete, but no new frame is processed until Resume.
func (fl *Flow) Pause() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	for id, pr := range fl.procs {
		state, err := pr.proc.Transition(fl.ctx, pr.state, EventPause)
		if err != nil {
			return fmt.Errorf("process %s: pause transition failed: %w", id, err)
		}
		pr.state = state

		pr.resumeMu.Lock()
		if pr.resumeCh == nil {
			pr.resumeCh = make(chan struct{})
		}
		pr.resumeMu.Unlock()
	}
	fl.running = false
	return nil
}

// Stop is the only shutdown path (spec §5 "Cancellation & timeouts"). It
// calls Transition(stop) on every process so each releases its resources,
// then cancels the flow's context (the fast signal every worker's select
// is also waiting on) and closes each process's in and sys-in channels.
func (fl *Flow) Stop() error {
	fl.mu.Lock()
	var firstErr error
	for id, pr := range fl.procs {
		state, err := pr.proc.Transition(fl.ctx, pr.state, EventStop)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("process %s: stop transition failed: %w", id, err)
		}
		pr.state = state

		// Release anything still parked behind a pause gate so the worker
		// can observe ctx.Done() instead of blocking forever.
		pr.resumeMu.Lock()
		if pr.resumeCh != nil {
			close(pr.resumeCh)
			pr.resumeCh = nil
		}
		pr.resumeMu.Unlock()
	}
	fl.mu.Unlock()

	fl.cancel()
	fl.wg.Wait()

	for _, pr := range fl.procs {
		close(pr.sysIn)
		close(pr.in)
	}
	return firstErr
}

// runWorker is the per-process scheduling loop implementing spec §5's
// strict sys-in-before-in priority: a non-blocking drain of sys-in runs
// before every blocking select that also watches in and any declared extra
// in-ports (testable property #10).
func (fl *Flow) runWorker(pr *procRuntime) {
	defer fl.wg.Done()

	extraInNames, extraInChans := pr.extraInPorts()

	for {
		pr.resumeMu.Lock()
		gate := pr.resumeCh
		pr.resumeMu.Unlock()
		if gate != nil {
			select {
			case <-gate:
			case <-fl.ctx.Done():
				return
			}
		}

		// Priority drain: process every sys-in frame available right now
		// before considering any data-class or extra-port frame.
		drained := true
		for drained {
			select {
			case f, ok := <-pr.sysIn:
				if !ok {
					return
				}
				fl.dispatch(pr, "sys-in", f)
			default:
				drained = false
			}
		}

		cases := make([]reflect.SelectCase, 0, 3+len(extraInChans))
		cases = append(cases,
			reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(fl.ctx.Done())},
			reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(pr.sysIn)},
			reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(pr.in)},
		)
		for _, ch := range extraInChans {
			cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ch)})
		}

		chosen, recv, ok := reflect.Select(cases)
		// A Pause that landed while parked in the select holds this frame until Resume.
		pr.resumeMu.Lock()
		held := chosen >= 1 && ok && pr.resumeCh != nil
		gate = pr.resumeCh
		pr.resumeMu.Unlock()
		if held {
			select {
			case <-gate:
			case <-fl.ctx.Done():
				return
			}
			for chosen >= 2 && len(pr.sysIn) > 0 { // system frames queued meanwhile go first
				fl.dispatch(pr, "sys-in", <-pr.sysIn)
			}
		}
		switch chosen {
		case 0: // ctx.Done()
			return
		case 1: // sys-in
			if !ok {
				return
			}
			fl.dispatch(pr, "sys-in", recv.Interface().(frame.Frame))
		case 2: // in
			if !ok {
				return
			}
			fl.dispatch(pr, "in", recv.Interface().(frame.Frame))
		default:
			if !ok {
				continue
			}
			name := extraInNames[chosen-3]
			fl.dispatch(pr, name, recv.Interface().(frame.Frame))
		}
	}
}

func (pr *procRuntime) extraInPorts() ([]string, []chan frame.Frame) {
	var names []string
	var chans []chan frame.Frame
	for name, ch := range pr.extra {
		names = append(names, name)
		chans = append(chans, ch)
	}
	return names, chans
}

// dispatch invokes Transform (via the compute pool when the process
// declares WorkloadCompute) and routes its Output through the flow's conns.
func (fl *Flow) dispatch(pr *procRuntime, port string, f frame.Frame) {
	var (
		newState State
		out      Output
		err      error
	)

	run := func() {
		newState, out, err = pr.proc.Transform(fl.ctx, pr.state, port, f)
	}

	if pr.descriptor.Workload == WorkloadCompute {
		fl.computeSem <- struct{}{}
		run()
		<-fl.computeSem
	} else {
		run()
	}

	if err != nil {
		fl.logger.Errorw("process transform failed", "process", pr.id, "port", port, "error", err.Error())
		return
	}
	pr.state = newState

	for outPort, frames := range out {
		for _, of := range frames {
			fl.emit(pr.id, outPort, of)
		}
	}
}

// emit routes one frame from (fromProc, fromPort) to every connected
// destination, reclassifying onto in/sys-in per spec §4.2 unless the
// destination port is a named extra (out-of-band) port.
func (fl *Flow) emit(fromProc, fromPort string, f frame.Frame) {
	from, ok := fl.procs[fromProc]
	if !ok {
		return
	}
	for _, e := range from.outEdges[fromPort] {
		to, ok := fl.procs[e.toProc]
		if !ok {
			continue
		}
		fl.deliver(to, e.toPort, f)
	}
}

func (fl *Flow) deliver(to *procRuntime, toPort string, f frame.Frame) {
	if toPort == "in" || toPort == "sys-in" {
		if frame.Classify(f.Type()) == frame.ClassSystem {
			fl.sendSys(to, f)
		} else {
			fl.sendData(to, f)
		}
		return
	}
	if ch, ok := to.extra[toPort]; ok {
		select {
		case ch <- f:
		default:
			fl.logger.Warnw("extra port full, dropping frame", "process", to.id, "port", toPort, "type", string(f.Type()))
		}
	}
}

// sendSys delivers a system-class frame. System frames must never be
// dropped (spec §5 backpressure rule) so the send blocks the producer
// instead of discarding.
func (fl *Flow) sendSys(to *procRuntime, f frame.Frame) {
	select {
	case to.sysIn <- f:
	case <-fl.ctx.Done():
	}
}

// sendData delivers a data-class frame, applying graceful degradation:
// only audio-input-raw may be dropped under backpressure (spec §5, §7).
// Every other data-class frame blocks the producer like a system frame,
// since dropping e.g. an llm-text-chunk or llm-response-end would break
// the "response-start is always eventually followed by exactly one
// response-end" invariant.
func (fl *Flow) sendData(to *procRuntime, f frame.Frame) {
	if f.Type() != frame.AudioInputRaw {
		select {
		case to.in <- f:
		case <-fl.ctx.Done():
		}
		return
	}
	select {
	case to.in <- f:
	default:
		fl.logger.Warnw("data channel full, dropping frame", "process", to.id, "type", string(f.Type()))
	}
}
