// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package pipelineerr defines the closed set of error kinds the runtime
// raises, per the propagation policy: throw for programmer errors
// (BadFrame, BadConfig), surface as frames for tool/transport-fatal
// failures, recover locally for transient I/O.
package pipelineerr

import (
	"errors"
	"fmt"
)

// Kind classifies a runtime error for callers that need to branch on it
// (e.g. a host deciding whether to retry a flow.Create or abort).
type Kind string

const (
	KindBadFrame          Kind = "bad_frame"
	KindBadConfig         Kind = "bad_config"
	KindTransportTransient Kind = "transport_transient"
	KindTransportFatal    Kind = "transport_fatal"
	KindToolError         Kind = "tool_error"
)

// Error wraps an underlying cause with a Kind so errors.As can recover it
// without string-matching messages.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// BadFrame wraps a frame-construction schema violation. Raised at the call
// site (frame.New) and never propagated as a frame itself.
func BadFrame(msg string, cause error) error { return newErr(KindBadFrame, msg, cause) }

// BadConfig wraps a process-init parameter-validation failure. Raised
// before the flow starts; no process is started if any config is bad.
func BadConfig(msg string, cause error) error { return newErr(KindBadConfig, msg, cause) }

// TransportTransient wraps a recoverable network failure. wsclient returns
// it when a dial or a write fails; the operation is not retried, and the
// error goes straight back to the caller.
func TransportTransient(msg string, cause error) error {
	return newErr(KindTransportTransient, msg, cause)
}

// TransportFatal wraps an unrecoverable transport failure. The owning
// process surfaces a system-error frame and releases its resources; the
// flow itself is not torn down.
func TransportFatal(msg string, cause error) error { return newErr(KindTransportFatal, msg, cause) }

// ToolError wraps a tool-handler failure (not found, or handler returned an
// error). Surfaced as a tool-role message, never thrown.
func ToolError(msg string, cause error) error { return newErr(KindToolError, msg, cause) }

// Is reports whether err is a pipelineerr.Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
