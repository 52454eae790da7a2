// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package llmcontext implements the LLM conversation Context (spec §3.2):
// the single source of truth for message history, tools, and tool-choice,
// shared — never concurrently mutated — between the user aggregator, the
// assistant assembler, and the scenario manager (spec §5 "Shared
// resources").
package llmcontext

// Role is one of the five roles the wire format (spec §6, OpenAI
// chat-completions shape) recognizes.
type Role string

const (
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolChoice selects how the model may invoke tools.
type ToolChoice struct {
	Mode     string // "auto" | "none" | "required" | "function"
	Function string // set when Mode == "function"
}

var (
	ToolChoiceAuto     = ToolChoice{Mode: "auto"}
	ToolChoiceNone     = ToolChoice{Mode: "none"}
	ToolChoiceRequired = ToolChoice{Mode: "required"}
)

// ToolChoiceFunction pins the model to a single named function.
func ToolChoiceFunction(name string) ToolChoice {
	return ToolChoice{Mode: "function", Function: name}
}

// ContentPart is a single chunk of message content. Plain string content is
// represented as a single ContentPart{Type: "text"} — see Message.PlainText.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolCall is an assistant-requested function invocation, carried on an
// assistant message instead of Content (spec §3.2).
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // always "function"
	Function ToolCallFunc `json:"function"`
}

// ToolCallFunc names the function and carries its JSON-encoded arguments,
// assembled fragment by fragment as the model streams (spec §4.4).
type ToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one turn in the conversation. Exactly one of Content /
// ToolCalls is populated for an assistant message carrying a tool call;
// user/tool messages always carry Content; ToolCallID is set only on tool
// messages (spec §3.2, §6).
type Message struct {
	Role       Role          `json:"role"`
	Content    []ContentPart `json:"content,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

// NewTextMessage builds a plain-text message for the given role.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Content: []ContentPart{{Type: "text", Text: text}}}
}

// NewToolResultMessage builds a tool-role message carrying a function's
// JSON-encoded return value.
func NewToolResultMessage(toolCallID string, text string) Message {
	return Message{
		Role:       RoleTool,
		Content:    []ContentPart{{Type: "text", Text: text}},
		ToolCallID: toolCallID,
	}
}

// IsPlainText reports whether the message carries exactly one text content
// part and no tool calls — the shape the same-role merge rule (spec §3.4)
// operates on.
func (m Message) IsPlainText() bool {
	return len(m.ToolCalls) == 0 && len(m.Content) == 1 && m.Content[0].Type == "text"
}

// PlainText returns the message's text content, assuming IsPlainText.
func (m Message) PlainText() string {
	if len(m.Content) == 0 {
		return ""
	}
	return m.Content[0].Text
}

// IsEmpty reports whether the message carries no content and no tool
// calls — the "suppress empty assistant turn" rule from spec §9 Open
// Questions.
func (m Message) IsEmpty() bool {
	return len(m.ToolCalls) == 0 && (len(m.Content) == 0 || (m.IsPlainText() && m.PlainText() == ""))
}

// IsToolResult reports whether m is a tool-role message (a tool result,
// not a tool call) — used by the user aggregator to decide whether an
// llm-context update must be forwarded downstream immediately (spec §4.3).
func (m Message) IsToolResult() bool { return m.Role == RoleTool }

// ToolDef describes a callable function the model may invoke (spec §3.3).
// Handler, Async, TransitionTo and TransitionCb are server-local — they
// never cross the wire, only Name/Description/Parameters do.
type ToolDef struct {
	Type     string       `json:"type"` // always "function"
	Function ToolFunction `json:"function"`

	// Handler is invoked by the tool dispatcher with the JSON-decoded
	// arguments and returns the value to JSON-encode into the tool result.
	Handler func(args map[string]interface{}) (interface{}, error) `json:"-"`

	// Async, when true, means Handler's side effects continue after it
	// returns and the dispatcher must await a future instead (spec §3.3).
	// The runtime models "await the future" as Handler simply blocking
	// until done — Async only documents that the caller chose to run it
	// off the main scheduler (it always does, see spec §4.4).
	Async bool `json:"-"`

	// TransitionTo, when non-empty, tells the scenario manager which node
	// to move to after Handler returns (spec §3.3, §4.8).
	TransitionTo string `json:"-"`

	// TransitionCb, when set, is not called by the dispatcher: the
	// dispatcher copies it into the tool result's Properties.OnUpdate and
	// sets run-llm false, so the next LLM call is not driven automatically.
	TransitionCb func() `json:"-"`
}

// ToolFunction is the JSON-schema-described function signature.
type ToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// Context is the authoritative conversation state (spec §3.2).
type Context struct {
	Messages   []Message
	Tools      []ToolDef
	ToolChoice *ToolChoice
}

// AppendMerged appends msg to the context's message list, applying the
// same-role merge law (spec §3.4, testable property #3): if the last
// existing message and msg share a role and both are plain-string content,
// they are merged into one message separated by a space instead of being
// appended as two.
func (c Context) AppendMerged(msg Message) Context {
	out := Context{
		Messages:   make([]Message, len(c.Messages), len(c.Messages)+1),
		Tools:      c.Tools,
		ToolChoice: c.ToolChoice,
	}
	copy(out.Messages, c.Messages)

	if n := len(out.Messages); n > 0 {
		last := out.Messages[n-1]
		if last.Role == msg.Role && last.IsPlainText() && msg.IsPlainText() {
			merged := last
			merged.Content = []ContentPart{{Type: "text", Text: last.PlainText() + " " + msg.PlainText()}}
			out.Messages[n-1] = merged
			return out
		}
	}
	out.Messages = append(out.Messages, msg)
	return out
}

// Context itself defines no MarshalJSON/UnmarshalJSON — hosts serialize
// Messages/Tools individually per the OpenAI chat-completions wire shape
// (spec §6, via Message's own json tags); Context is a runtime-only
// aggregate, never sent over the wire as a single value.
