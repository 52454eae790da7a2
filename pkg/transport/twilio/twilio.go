// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package twilio implements the concrete Twilio-in transport (spec §6
// "Twilio in"): a WebSocket media stream carrying JSON events, turned into
// the frame surface the rest of the graph consumes. Grounded on
// telephony/twilio.go for the Twilio SDK wiring and
// websocket_executor.go's read-loop idiom, adapted from an outbound client
// dialer into an inbound HTTP-upgrade handler.
package twilio

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/rapidaai/pkg/commons"
	"github.com/rapidaai/pkg/flow"
	"github.com/rapidaai/pkg/frame"
)

// mediaSampleRate is the fixed PCM rate Twilio media streams carry
// (8kHz mu-law, decoded upstream of this package).
const mediaSampleRate = 8000

// Serializer turns an outbound audio-output-raw frame into the Twilio
// media-stream JSON envelope the pacer's write command carries (spec
// §4.5's Serializer contract). It carries its own stream SID so a single
// system-config-change payload delivers both (spec §6 "emit
// system-config-change{stream-sid, serializer}").
type Serializer struct {
	StreamSID string
}

func (s Serializer) Serialize(f frame.Frame) ([]byte, error) {
	payload := f.Data().(frame.AudioPayload)
	msg := outboundMessage{
		Event:     "media",
		StreamSID: s.StreamSID,
		Media:     &outboundMedia{Payload: base64.StdEncoding.EncodeToString(payload.Data)},
	}
	return json.Marshal(msg)
}

type outboundMessage struct {
	Event     string         `json:"event"`
	StreamSID string         `json:"streamSid"`
	Media     *outboundMedia `json:"media,omitempty"`
}

type outboundMedia struct {
	Payload string `json:"payload"`
}

// inboundMessage is the subset of Twilio's media-stream wire events this
// transport consumes.
type inboundMessage struct {
	Event string        `json:"event"`
	Start *inboundStart `json:"start,omitempty"`
	Media *inboundMedia `json:"media,omitempty"`
}

type inboundStart struct {
	StreamSID string `json:"streamSid"`
}

type inboundMedia struct {
	Payload string `json:"payload"`
}

// Handler upgrades an incoming HTTP request to a Twilio media-stream
// WebSocket and forwards events onto the flow's designated process.
type Handler struct {
	logger     commons.Logger
	fl         *flow.Flow
	targetProc string
	validator  twilioclient.RequestValidator
	upgrader   websocket.Upgrader
}

// New constructs a Twilio media-stream handler. authToken is the Twilio
// account auth token used to verify the X-Twilio-Signature header on the
// upgrade request.
func New(logger commons.Logger, fl *flow.Flow, targetProc, authToken string) *Handler {
	return &Handler{
		logger:     logger,
		fl:         fl,
		targetProc: targetProc,
		validator:  twilioclient.NewRequestValidator(authToken),
	}
}

// ServeHTTP validates the Twilio request signature, upgrades the
// connection, and runs the media-stream read loop until the socket closes
// or Twilio sends a stop event.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	signature := r.Header.Get("X-Twilio-Signature")
	if !h.validator.Validate(requestURL(r), nil, signature) {
		http.Error(w, "invalid twilio signature", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("twilio websocket upgrade failed", "error", err.Error())
		return
	}
	h.readLoop(conn)
}

func requestURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func (h *Handler) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warnw("twilio websocket read error", "error", err.Error())
			}
			h.injectSystemStop()
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Warnw("twilio websocket: malformed event", "error", err.Error())
			continue
		}

		switch msg.Event {
		case "start":
			h.handleStart(msg.Start)
		case "media":
			h.handleMedia(msg.Media)
		case "stop":
			h.injectSystemStop()
			return
		}
	}
}

func (h *Handler) handleStart(start *inboundStart) {
	if start == nil {
		return
	}
	cfg, err := frame.NewSystemConfigChange("transport/serializer", Serializer{StreamSID: start.StreamSID}, time.Now())
	if err != nil {
		h.logger.Errorw("twilio: building system-config-change failed", "error", err.Error())
		return
	}
	if err := h.fl.Inject(h.targetProc, cfg); err != nil {
		h.logger.Errorw("twilio: inject failed", "error", err.Error())
	}
}

func (h *Handler) handleMedia(media *inboundMedia) {
	if media == nil {
		return
	}
	raw, err := base64.StdEncoding.DecodeString(media.Payload)
	if err != nil {
		h.logger.Warnw("twilio: bad media payload", "error", err.Error())
		return
	}
	f, err := frame.NewAudioInputRaw(raw, mediaSampleRate, time.Now())
	if err != nil {
		h.logger.Errorw("twilio: building audio-input-raw failed", "error", err.Error())
		return
	}
	if err := h.fl.Inject(h.targetProc, f); err != nil {
		h.logger.Errorw("twilio: inject failed", "error", err.Error())
	}
}

func (h *Handler) injectSystemStop() {
	f, err := frame.NewSystemStop(time.Now())
	if err != nil {
		h.logger.Errorw("twilio: building system-stop failed", "error", err.Error())
		return
	}
	if err := h.fl.Inject(h.targetProc, f); err != nil {
		h.logger.Errorw("twilio: inject failed", "error", err.Error())
	}
}
