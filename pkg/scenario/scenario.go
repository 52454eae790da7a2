// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package scenario implements the scenario manager's frame surface (spec
// §4.8): a structured-dialog state machine that injects context-update
// frames into the graph on node transitions. Its authoring API (how nodes
// and actions are declared) is out of scope — this package is only the
// producer of the frames a scenario transition emits.
package scenario

import (
	"fmt"
	"sync"
	"time"

	"github.com/rapidaai/pkg/flow"
	"github.com/rapidaai/pkg/frame"
	"github.com/rapidaai/pkg/llmcontext"
)

// ActionKind is either one of the two built-in action types or a
// host-defined custom kind dispatched to Handler.
type ActionKind string

const (
	ActionTTSSay          ActionKind = "tts-say"
	ActionEndConversation ActionKind = "end-conversation"
)

// Action is a single pre- or post-action run on a node transition.
type Action struct {
	Kind    ActionKind
	Text    string       // used by ActionTTSSay
	Handler func() error // used by any kind other than the two built-ins
}

// Node is one state in the dialog graph.
type Node struct {
	ID          string
	PreActions  []Action
	PostActions []Action
	Messages    []llmcontext.Message
	Tools       []llmcontext.ToolDef
	// RunLLM overrides the default run-llm: true on this node's
	// scenario-context-update. Nil means the default applies.
	RunLLM *bool
}

// Manager holds {currentNode, nodes} (spec §4.8) and injects frames into a
// designated coordinate of the flow on every transition.
type Manager struct {
	fl         *flow.Flow
	targetProc string

	mu      sync.Mutex
	nodes   map[string]Node
	current string
}

// New constructs a scenario manager over the given flow, injecting frames
// into targetProc (the process whose in-port receives scenario-context-update
// and speak-frame frames — ordinarily the assistant assembler). startID
// selects the initial node; its pre-actions run and its context-update is
// injected immediately.
func New(fl *flow.Flow, targetProc string, nodes []Node, startID string) (*Manager, error) {
	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	if _, ok := byID[startID]; !ok {
		return nil, fmt.Errorf("scenario: unknown start node %q", startID)
	}
	m := &Manager{fl: fl, targetProc: targetProc, nodes: byID}
	if err := m.enter(startID); err != nil {
		return nil, err
	}
	return m, nil
}

// SetNode runs the current node's post-actions, advances to id, runs its
// pre-actions, then injects id's scenario-context-update frame.
func (m *Manager) SetNode(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.nodes[m.current]; ok {
		if err := m.runActions(cur.PostActions); err != nil {
			return err
		}
	}
	return m.enter(id)
}

// enter advances current to id, runs its pre-actions and injects its
// context-update. Caller holds mu, except on the very first call from New.
func (m *Manager) enter(id string) error {
	next, ok := m.nodes[id]
	if !ok {
		return fmt.Errorf("scenario: unknown node %q", id)
	}
	m.current = id
	if err := m.runActions(next.PreActions); err != nil {
		return err
	}

	runLLM := true
	if next.RunLLM != nil {
		runLLM = *next.RunLLM
	}
	tools := m.wrapTransitionTools(next.Tools)

	update, err := frame.NewScenarioContextUpdate(next.Messages, tools, frame.Properties{RunLLM: runLLM}, time.Now())
	if err != nil {
		return err
	}
	return m.fl.Inject(m.targetProc, update)
}

func (m *Manager) runActions(actions []Action) error {
	for _, a := range actions {
		switch a.Kind {
		case ActionTTSSay:
			speak, err := frame.NewSpeakFrame(a.Text, time.Now())
			if err != nil {
				return err
			}
			if err := m.fl.Inject(m.targetProc, speak); err != nil {
				return err
			}
		case ActionEndConversation:
			if err := m.fl.Stop(); err != nil {
				return err
			}
		default:
			if a.Handler != nil {
				if err := a.Handler(); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// wrapTransitionTools wraps every tool with a non-empty TransitionTo so
// that, after its handler returns successfully, SetNode(tool.TransitionTo)
// runs (spec §3.3, §4.8 "transition tool"). TransitionCb is also set to the
// same transition, so the dispatcher sees a non-nil TransitionCb and emits
// {run-llm: false, on-update: transitionCb} instead of auto-resuming the
// LLM (spec §4.4) — without it the dispatcher has no way to tell a
// transition tool's result apart from an ordinary one.
func (m *Manager) wrapTransitionTools(tools []llmcontext.ToolDef) []llmcontext.ToolDef {
	wrapped := make([]llmcontext.ToolDef, len(tools))
	for i, t := range tools {
		t := t
		if t.TransitionTo == "" {
			wrapped[i] = t
			continue
		}
		inner := t.Handler
		target := t.TransitionTo
		t.Handler = func(args map[string]interface{}) (interface{}, error) {
			res, err := inner(args)
			if err != nil {
				return res, err
			}
			if err := m.SetNode(target); err != nil {
				return res, err
			}
			return res, nil
		}
		t.TransitionCb = func() { _ = m.SetNode(target) }
		wrapped[i] = t
	}
	return wrapped
}
