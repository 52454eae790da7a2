// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package wsclient is the generic WebSocket session helper the STT/TTS/LLM
// collaborator stubs build on, grounded on websocket_executor.go's
// dialer/keep-alive/read-loop idiom. A Session does not reconnect: once its
// connection closes, ReadLoop returns and the Session stays closed.
package wsclient

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rapidaai/pkg/commons"
	"github.com/rapidaai/pkg/pipelineerr"
)

// maxMessageBytes bounds a single inbound frame, mirroring the teacher's
// establishConnection SetReadLimit call.
const maxMessageBytes = 10 * 1024 * 1024

// Session is a single established WebSocket connection to a collaborator
// provider, with writes serialized behind a mutex exactly as
// websocketExecutor.sendMessage does.
type Session struct {
	logger    commons.Logger
	conn      *websocket.Conn
	writeMu   sync.Mutex
	sessionID string
}

// Dial opens a WebSocket connection with a bounded handshake timeout,
// configures a generous read limit, and logs (but does not act on) pongs —
// the same connection setup as the teacher's establishConnection. Every
// session is tagged with a generated correlation id (an
// "X-Session-Id" header, mirroring callcontext's uuid-keyed correlation)
// so provider-side logs can be matched back to this connection.
func Dial(ctx context.Context, logger commons.Logger, url string, headers http.Header) (*Session, error) {
	sessionID := uuid.NewString()
	if headers == nil {
		headers = http.Header{}
	} else {
		headers = headers.Clone()
	}
	headers.Set("X-Session-Id", sessionID)

	dialer := websocket.Dialer{HandshakeTimeout: 30 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		return nil, pipelineerr.TransportTransient("websocket dial failed", err)
	}
	conn.SetReadLimit(maxMessageBytes)
	conn.SetPongHandler(func(string) error {
		logger.Debugf("wsclient: pong received")
		return nil
	})
	logger.Debugf("wsclient: dialed session %s", sessionID)
	return &Session{logger: logger, conn: conn, sessionID: sessionID}, nil
}

// SessionID returns the correlation id generated for this connection.
func (s *Session) SessionID() string { return s.sessionID }

// WriteJSON marshals v and writes it as a text frame.
func (s *Session) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.WriteMessage(websocket.TextMessage, data)
}

// WriteBinary writes raw bytes as a binary frame (used for PCM audio).
func (s *Session) WriteBinary(data []byte) error {
	return s.WriteMessage(websocket.BinaryMessage, data)
}

// WriteMessage writes a single frame, serialized against concurrent writers.
func (s *Session) WriteMessage(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(messageType, data); err != nil {
		return pipelineerr.TransportTransient("websocket write failed", err)
	}
	return nil
}

// ReadLoop blocks reading frames and invoking handle on each payload until
// ctx is cancelled or the connection closes. A normal/going-away close
// returns nil; anything else returns a TransportFatal error, matching the
// teacher's responseListener classification.
func (s *Session) ReadLoop(ctx context.Context, handle func(data []byte) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return pipelineerr.TransportFatal("websocket read error", err)
		}

		if err := handle(data); err != nil {
			s.logger.Errorw("wsclient: handler error", "error", err.Error())
		}
	}
}

// KeepAlive calls ping on every tick until ctx is cancelled. Collaborators
// use this for the periodic keep-alive the TTS session requires.
func (s *Session) KeepAlive(ctx context.Context, interval time.Duration, ping func() error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ping(); err != nil {
				s.logger.Warnw("wsclient: keep-alive failed", "error", err.Error())
			}
		}
	}
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}
