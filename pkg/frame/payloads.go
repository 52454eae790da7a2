// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package frame

import (
	"time"

	"github.com/rapidaai/pkg/llmcontext"
)

// ============================================================================
// Payload shapes — one per frame type that carries structured data.
// Every payload, audio and transcripts included, is a struct here;
// validatePayload enforces the validator tags of whichever struct a frame
// carries.
// ============================================================================

// AudioPayload carries raw PCM bytes plus the format needed to interpret
// them, used by audio-input-raw / audio-output-raw.
type AudioPayload struct {
	Data       []byte `validate:"required"`
	SampleRate int    `validate:"required,gt=0"`
}

// TranscriptPayload carries STT output text, used by transcription-interim
// and transcription-result.
type TranscriptPayload struct {
	Text string
}

// ToolCallChunkPayload is a fragment of a streamed tool call (spec §4.4):
// id and name arrive at most once (first non-nil wins downstream),
// arguments arrives in concatenable fragments.
type ToolCallChunkPayload struct {
	ID       *string
	Name     *string
	Argument string
}

// ContextPayload wraps an llmcontext.Context for llm-context /
// llm-context-messages-append frames. Properties carries routing hints
// like run-llm / tool-call consumed by downstream aggregators.
type ContextPayload struct {
	Context    llmcontext.Context
	Properties Properties
}

// Properties are the boolean routing hints attached to context-update
// frames (spec §4.4): whether the recipient should trigger another LLM
// call, whether this update represents a tool-call round-trip, and an
// optional on-update callback for transition tools.
type Properties struct {
	RunLLM   bool
	ToolCall bool
	OnUpdate func()
}

// ToolCallResultPayload is emitted by the tool dispatcher (spec §4.4).
type ToolCallResultPayload struct {
	Request    llmcontext.Message
	Result     llmcontext.Message
	Properties Properties
}

// SpeakPayload carries text destined for TTS (speak-frame, text-input).
type SpeakPayload struct {
	Text string `validate:"required"`
}

// ConfigChangePayload carries a partial configuration update — e.g. a
// transport/serializer swap consumed by the pacer (spec §4.5).
type ConfigChangePayload struct {
	Key   string `validate:"required"`
	Value interface{}
}

// ErrorPayload carries a surfaced system-error reason (spec §7,
// TransportFatal).
type ErrorPayload struct {
	Reason string `validate:"required"`
}

// ScenarioContextUpdatePayload is emitted by the scenario manager on node
// transitions (spec §4.8).
type ScenarioContextUpdatePayload struct {
	Messages   []llmcontext.Message
	Tools      []llmcontext.ToolDef
	Properties Properties
}

// AudioWriteCommandPayload carries the pacer's paced output: the frame
// bytes (already run through the attached serializer, if any) plus the
// wall-clock instant the owning worker goroutine should sleep until before
// writing to the device.
type AudioWriteCommandPayload struct {
	Data         []byte `validate:"required"`
	SampleRate   int    `validate:"required,gt=0"`
	DelayUntilMs int64
}

// ============================================================================
// Constructors. Each normalizes ts and applies SchemaChecking per §4.1.
// ============================================================================

func NewAudioInputRaw(data []byte, sampleRate int, ts time.Time) (Frame, error) {
	return New(AudioInputRaw, AudioPayload{Data: data, SampleRate: sampleRate}, ts)
}

func NewAudioOutputRaw(data []byte, sampleRate int, ts time.Time) (Frame, error) {
	return New(AudioOutputRaw, AudioPayload{Data: data, SampleRate: sampleRate}, ts)
}

func NewTranscriptionInterim(text string, ts time.Time) (Frame, error) {
	return New(TranscriptionInterim, TranscriptPayload{Text: text}, ts)
}

func NewTranscriptionResult(text string, ts time.Time) (Frame, error) {
	return New(TranscriptionResult, TranscriptPayload{Text: text}, ts)
}

func NewLLMTextChunk(text string, ts time.Time) (Frame, error) {
	return New(LLMTextChunk, TranscriptPayload{Text: text}, ts)
}

func NewLLMToolCallChunk(id, name *string, argument string, ts time.Time) (Frame, error) {
	return New(LLMToolCallChunk, ToolCallChunkPayload{ID: id, Name: name, Argument: argument}, ts)
}

func NewLLMResponseStart(ts time.Time) (Frame, error) { return New(LLMResponseStart, nil, ts) }
func NewLLMResponseEnd(ts time.Time) (Frame, error)   { return New(LLMResponseEnd, nil, ts) }

func NewLLMContext(ctx llmcontext.Context, props Properties, ts time.Time) (Frame, error) {
	return New(LLMContext, ContextPayload{Context: ctx, Properties: props}, ts)
}

func NewLLMContextMessagesAppend(ctx llmcontext.Context, props Properties, ts time.Time) (Frame, error) {
	return New(LLMContextMessagesAppend, ContextPayload{Context: ctx, Properties: props}, ts)
}

func NewLLMToolCallResult(req, res llmcontext.Message, props Properties, ts time.Time) (Frame, error) {
	return New(LLMToolCallResult, ToolCallResultPayload{Request: req, Result: res, Properties: props}, ts)
}

func NewUserSpeechStart(ts time.Time) (Frame, error)    { return New(UserSpeechStart, nil, ts) }
func NewUserSpeechStop(ts time.Time) (Frame, error)     { return New(UserSpeechStop, nil, ts) }
func NewVADUserSpeechStart(ts time.Time) (Frame, error) { return New(VADUserSpeechStart, nil, ts) }
func NewVADUserSpeechStop(ts time.Time) (Frame, error)  { return New(VADUserSpeechStop, nil, ts) }
func NewBotSpeechStart(ts time.Time) (Frame, error)     { return New(BotSpeechStart, nil, ts) }
func NewBotSpeechStop(ts time.Time) (Frame, error)      { return New(BotSpeechStop, nil, ts) }
func NewBotInterrupt(ts time.Time) (Frame, error)       { return New(BotInterrupt, nil, ts) }
func NewControlInterruptStart(ts time.Time) (Frame, error) {
	return New(ControlInterruptStart, nil, ts)
}
func NewControlInterruptStop(ts time.Time) (Frame, error) { return New(ControlInterruptStop, nil, ts) }

func NewSpeakFrame(text string, ts time.Time) (Frame, error) {
	return New(SpeakFrame, SpeakPayload{Text: text}, ts)
}

func NewTextInput(text string, ts time.Time) (Frame, error) {
	return New(TextInput, SpeakPayload{Text: text}, ts)
}

func NewScenarioContextUpdate(msgs []llmcontext.Message, tools []llmcontext.ToolDef, props Properties, ts time.Time) (Frame, error) {
	return New(ScenarioContextUpdate, ScenarioContextUpdatePayload{Messages: msgs, Tools: tools, Properties: props}, ts)
}

func NewSystemStart(ts time.Time) (Frame, error) { return New(SystemStart, nil, ts) }
func NewSystemStop(ts time.Time) (Frame, error)  { return New(SystemStop, nil, ts) }

func NewSystemConfigChange(key string, value interface{}, ts time.Time) (Frame, error) {
	return New(SystemConfigChange, ConfigChangePayload{Key: key, Value: value}, ts)
}

func NewSystemError(reason string, ts time.Time) (Frame, error) {
	return New(SystemError, ErrorPayload{Reason: reason}, ts)
}

func NewMuteInputStart(ts time.Time) (Frame, error) { return New(MuteInputStart, nil, ts) }
func NewMuteInputStop(ts time.Time) (Frame, error)  { return New(MuteInputStop, nil, ts) }

func NewAudioWriteCommand(data []byte, sampleRate int, delayUntilMs int64, ts time.Time) (Frame, error) {
	return New(AudioWriteCommand, AudioWriteCommandPayload{Data: data, SampleRate: sampleRate, DelayUntilMs: delayUntilMs}, ts)
}

func NewPacerTimerTick(ts time.Time) (Frame, error) { return New(PacerTimerTick, nil, ts) }

// ============================================================================
// Predicates — one per type, per spec §4.1's "predicate and constructor".
// ============================================================================

func IsAudioInputRaw(f Frame) bool           { return f.typ == AudioInputRaw }
func IsAudioOutputRaw(f Frame) bool          { return f.typ == AudioOutputRaw }
func IsTranscriptionInterim(f Frame) bool    { return f.typ == TranscriptionInterim }
func IsTranscriptionResult(f Frame) bool     { return f.typ == TranscriptionResult }
func IsLLMTextChunk(f Frame) bool            { return f.typ == LLMTextChunk }
func IsLLMToolCallChunk(f Frame) bool        { return f.typ == LLMToolCallChunk }
func IsLLMResponseStart(f Frame) bool        { return f.typ == LLMResponseStart }
func IsLLMResponseEnd(f Frame) bool          { return f.typ == LLMResponseEnd }
func IsLLMContext(f Frame) bool              { return f.typ == LLMContext }
func IsLLMContextMessagesAppend(f Frame) bool { return f.typ == LLMContextMessagesAppend }
func IsLLMToolCallResult(f Frame) bool       { return f.typ == LLMToolCallResult }
func IsUserSpeechStart(f Frame) bool         { return f.typ == UserSpeechStart }
func IsUserSpeechStop(f Frame) bool          { return f.typ == UserSpeechStop }
func IsVADUserSpeechStart(f Frame) bool      { return f.typ == VADUserSpeechStart }
func IsVADUserSpeechStop(f Frame) bool       { return f.typ == VADUserSpeechStop }
func IsBotSpeechStart(f Frame) bool          { return f.typ == BotSpeechStart }
func IsBotSpeechStop(f Frame) bool           { return f.typ == BotSpeechStop }
func IsBotInterrupt(f Frame) bool            { return f.typ == BotInterrupt }
func IsControlInterruptStart(f Frame) bool   { return f.typ == ControlInterruptStart }
func IsControlInterruptStop(f Frame) bool    { return f.typ == ControlInterruptStop }
func IsSpeakFrame(f Frame) bool              { return f.typ == SpeakFrame }
func IsTextInput(f Frame) bool               { return f.typ == TextInput }
func IsScenarioContextUpdate(f Frame) bool   { return f.typ == ScenarioContextUpdate }
func IsSystemStart(f Frame) bool             { return f.typ == SystemStart }
func IsSystemStop(f Frame) bool              { return f.typ == SystemStop }
func IsSystemConfigChange(f Frame) bool      { return f.typ == SystemConfigChange }
func IsSystemError(f Frame) bool             { return f.typ == SystemError }
func IsMuteInputStart(f Frame) bool          { return f.typ == MuteInputStart }
func IsMuteInputStop(f Frame) bool           { return f.typ == MuteInputStop }
func IsAudioWriteCommand(f Frame) bool       { return f.typ == AudioWriteCommand }
func IsPacerTimerTick(f Frame) bool          { return f.typ == PacerTimerTick }
