// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package frame implements the closed, typed message vocabulary exchanged
// between every process in a flow (spec §3.1, §4.1). Frames are immutable
// once constructed: Type and class never change after New returns.
package frame

import (
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/rapidaai/pkg/pipelineerr"
)

// Type is the closed, globally unique frame-type enumeration. New types are
// never added outside this file — that closure is what makes the graph's
// contracts mechanically checkable.
type Type string

const (
	AudioInputRaw             Type = "audio-input-raw"
	AudioOutputRaw             Type = "audio-output-raw"
	TranscriptionResult        Type = "transcription-result"
	TranscriptionInterim       Type = "transcription-interim"
	LLMTextChunk               Type = "llm-text-chunk"
	LLMToolCallChunk           Type = "llm-tool-call-chunk"
	LLMResponseStart           Type = "llm-response-start"
	LLMResponseEnd             Type = "llm-response-end"
	LLMContext                 Type = "llm-context"
	LLMContextMessagesAppend   Type = "llm-context-messages-append"
	LLMToolCallResult           Type = "llm-tool-call-result"
	UserSpeechStart             Type = "user-speech-start"
	UserSpeechStop              Type = "user-speech-stop"
	VADUserSpeechStart          Type = "vad-user-speech-start"
	VADUserSpeechStop           Type = "vad-user-speech-stop"
	BotSpeechStart              Type = "bot-speech-start"
	BotSpeechStop               Type = "bot-speech-stop"
	BotInterrupt                Type = "bot-interrupt"
	ControlInterruptStart       Type = "control-interrupt-start"
	ControlInterruptStop        Type = "control-interrupt-stop"
	SpeakFrame                  Type = "speak-frame"
	TextInput                   Type = "text-input"
	ScenarioContextUpdate       Type = "scenario-context-update"
	SystemStart                 Type = "system-start"
	SystemStop                  Type = "system-stop"
	SystemConfigChange          Type = "system-config-change"
	SystemError                 Type = "system-error"
	MuteInputStart              Type = "mute-input-start"
	MuteInputStop               Type = "mute-input-stop"

	// AudioWriteCommand is the pacer's paced, device-ready output (spec
	// §4.5 step 4): raw bytes plus the wall-clock instant they should be
	// handed to the device.
	AudioWriteCommand Type = "audio-write-command"

	// PacerTimerTick is delivered on the pacer's self-owned "timer-out"
	// extra port (spec §4.5); it never crosses flow.deliver, so its
	// classification is never consulted.
	PacerTimerTick Type = "pacer-timer-tick"
)

// Class is the routing class a frame is classified into (spec §3.1):
// system-class frames are delivered on a process's sys-in channel ahead of
// any data-class frame waiting on in.
type Class string

const (
	ClassSystem Class = "system"
	ClassData   Class = "data"
)

// systemTypes is the fixed set from spec §3.1. Anything not in this set is
// data-class.
var systemTypes = map[Type]bool{
	UserSpeechStart:       true,
	UserSpeechStop:        true,
	VADUserSpeechStart:    true,
	VADUserSpeechStop:     true,
	BotSpeechStart:        true,
	BotSpeechStop:         true,
	BotInterrupt:          true,
	ControlInterruptStart: true,
	ControlInterruptStop:  true,
	SystemStart:           true,
	SystemStop:            true,
	SystemConfigChange:    true,
	SystemError:           true,
	MuteInputStart:        true,
	MuteInputStop:         true,
}

// Classify returns ClassSystem or ClassData for any constructible frame
// type. Total over the closed Type enumeration (testable property #2).
func Classify(t Type) Class {
	if systemTypes[t] {
		return ClassSystem
	}
	return ClassData
}

// Frame is the immutable record exchanged between processes. Data's
// concrete shape is determined by Type — see the payload structs in
// payloads.go. Frame itself never exposes a setter; every field is fixed at
// construction (testable property #1).
type Frame struct {
	typ   Type
	class Class
	data  interface{}
	ts    int64 // milliseconds since epoch
}

// Type returns the frame's type. Immutable after construction.
func (f Frame) Type() Type { return f.typ }

// Class returns the frame's routing class. Immutable after construction.
func (f Frame) Class() Class { return f.class }

// Data returns the frame's payload. Callers type-assert based on Type().
func (f Frame) Data() interface{} { return f.data }

// TimestampMs returns the frame's creation timestamp, normalized to
// milliseconds since epoch regardless of whether the caller passed an
// epoch integer or a time.Time at construction.
func (f Frame) TimestampMs() int64 { return f.ts }

var validate = validator.New()

// SchemaChecking is a process-wide flag that New and NewAtMs read on every
// call. Constructors validate payload shape against schema when this is
// true; MustNew validates whatever its value.
var SchemaChecking = false

// New constructs a Frame of type t carrying data, normalizing ts to
// milliseconds. When SchemaChecking is enabled, data is validated against
// its registered payload schema and construction fails with
// pipelineerr.BadFrame on violation.
func New(t Type, data interface{}, ts time.Time) (Frame, error) {
	if SchemaChecking {
		if err := validatePayload(t, data); err != nil {
			return Frame{}, err
		}
	}
	return Frame{
		typ:   t,
		class: Classify(t),
		data:  data,
		ts:    ts.UnixMilli(),
	}, nil
}

// NewAtMs is like New but accepts an already-epoch-millisecond timestamp,
// for collaborators (e.g. provider SDKs) that hand back raw epoch ints
// rather than time.Time.
func NewAtMs(t Type, data interface{}, tsMs int64) (Frame, error) {
	if SchemaChecking {
		if err := validatePayload(t, data); err != nil {
			return Frame{}, err
		}
	}
	return Frame{typ: t, class: Classify(t), data: data, ts: tsMs}, nil
}

// MustNew behaves like New but always validates (the "unconditionally in
// tests" half of spec §4.1) and panics on error. Test-only helper.
func MustNew(t Type, data interface{}, ts time.Time) Frame {
	if err := validatePayload(t, data); err != nil {
		panic(err)
	}
	f, err := New(t, data, ts)
	if err != nil {
		panic(err)
	}
	return f
}

func validatePayload(t Type, data interface{}) error {
	if data == nil {
		return nil
	}
	v := reflect.ValueOf(data)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		// Non-struct payloads have nothing for validator/v10 to walk. Every
		// payload type in payloads.go, audio and transcripts included, is a
		// struct, so only data handed to New directly ends up here.
		return nil
	}
	if err := validate.Struct(v.Interface()); err != nil {
		return pipelineerr.BadFrame("invalid payload for frame type "+string(t), err)
	}
	return nil
}
