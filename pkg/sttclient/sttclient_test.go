package sttclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/pkg/commons"
	"github.com/rapidaai/pkg/flow"
	"github.com/rapidaai/pkg/frame"
)

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func validParams() *Params {
	return &Params{
		SampleRate:     16000,
		Encoding:       "linear16",
		Language:       "en-US",
		Model:          "general",
		InterimResults: true,
	}
}

func TestParams_CrossField_UtteranceEndRequiresInterim(t *testing.T) {
	p := validParams()
	p.InterimResults = false
	p.UtteranceEndMs = 500
	err := p.validateCrossFields()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "utterance_end_ms")
}

func TestParams_CrossField_SmartFormatExcludesPunctuate(t *testing.T) {
	p := validParams()
	p.SmartFormat = true
	p.Punctuate = true
	err := p.validateCrossFields()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smart_format")
}

func TestParams_CrossField_ValidCombinationPasses(t *testing.T) {
	p := validParams()
	require.NoError(t, p.validateCrossFields())
}

// providerServer accepts one connection, captures every inbound message on
// messages, and sends each of sendEvents as a JSON text frame after the
// first inbound "configure" message arrives.
func providerServer(t *testing.T, sendEvents []wireEvent) (*httptest.Server, chan []byte) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	messages := make(chan []byte, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		messages <- data

		for _, evt := range sendEvents {
			b, _ := json.Marshal(evt)
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			messages <- data
		}
	}))
	return srv, messages
}

func TestProcess_Init_EmitsSpeechAndTranscriptEvents(t *testing.T) {
	srv, messages := providerServer(t, []wireEvent{
		{Type: eventSpeechStarted},
		{Type: eventInterimTranscript, Text: "hel"},
		{Type: eventFinalTranscript, Text: "hello"},
		{Type: eventSpeechEnded},
	})
	defer srv.Close()

	p := New(commons.NewNoopLogger(), wsURL(srv.URL), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, ports, err := p.Init(ctx, validParams())
	require.NoError(t, err)
	require.Len(t, ports, 1)
	assert.Equal(t, "provider-events", ports[0].Name)
	assert.Equal(t, flow.DirOut, ports[0].Dir)

	// the configure message should have gone out first.
	select {
	case <-messages:
	case <-time.After(2 * time.Second):
		t.Fatal("provider never received configure message")
	}

	want := []frame.Type{
		frame.UserSpeechStart,
		frame.TranscriptionInterim,
		frame.TranscriptionResult,
		frame.UserSpeechStop,
	}
	for _, wantType := range want {
		select {
		case f := <-ports[0].Chan:
			assert.Equal(t, wantType, f.Type())
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", wantType)
		}
	}

	_ = st
}

func TestProcess_Transform_WritesAudioToSession(t *testing.T) {
	srv, messages := providerServer(t, nil)
	defer srv.Close()

	p := New(commons.NewNoopLogger(), wsURL(srv.URL), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, _, err := p.Init(ctx, validParams())
	require.NoError(t, err)

	<-messages // configure

	audio, err := frame.NewAudioInputRaw([]byte{1, 2, 3}, 16000, time.Now())
	require.NoError(t, err)
	_, out, err := p.Transform(ctx, st, "in", audio)
	require.NoError(t, err)
	assert.Empty(t, out)

	select {
	case data := <-messages:
		assert.Equal(t, []byte{1, 2, 3}, data)
	case <-time.After(2 * time.Second):
		t.Fatal("provider never received audio bytes")
	}
}

func TestProcess_Transform_ForwardsProviderEventPort(t *testing.T) {
	p := New(commons.NewNoopLogger(), "ws://unused", nil)
	st := &state{}
	f, err := frame.NewTranscriptionResult("hi", time.Now())
	require.NoError(t, err)

	_, out, err := p.Transform(context.Background(), st, "provider-events", f)
	require.NoError(t, err)
	require.Len(t, out["out"], 1)
	assert.Equal(t, f, out["out"][0])
}
