package ttsclient

import (
	"context"
	"encoding/base64"
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

func providerServer(t *testing.T, sendEvents []wireEvent) (*httptest.Server, chan outboundMessage) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	received := make(chan outboundMessage, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

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
			var msg outboundMessage
			if json.Unmarshal(data, &msg) == nil {
				received <- msg
			}
		}
	}))
	return srv, received
}

func TestProcess_Init_SendsSessionStart(t *testing.T) {
	srv, received := providerServer(t, nil)
	defer srv.Close()

	p := New(commons.NewNoopLogger(), wsURL(srv.URL), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, _, err := p.Init(ctx, &Params{Voice: "nova", SampleRate: 24000, Encoding: "linear16"})
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, msgSessionStart, msg.Type)
		assert.Equal(t, "nova", msg.Voice)
	case <-time.After(2 * time.Second):
		t.Fatal("provider never received session_start")
	}
}

func TestProcess_Transform_SpeakFrameSendsTextThenFlush(t *testing.T) {
	srv, received := providerServer(t, nil)
	defer srv.Close()

	p := New(commons.NewNoopLogger(), wsURL(srv.URL), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, _, err := p.Init(ctx, &Params{Voice: "nova", SampleRate: 24000, Encoding: "linear16"})
	require.NoError(t, err)
	<-received // session_start

	speak, err := frame.NewSpeakFrame("hello there", time.Now())
	require.NoError(t, err)
	_, out, err := p.Transform(ctx, st, "in", speak)
	require.NoError(t, err)
	assert.Empty(t, out)

	select {
	case msg := <-received:
		assert.Equal(t, msgSpeak, msg.Type)
		assert.Equal(t, "hello there", msg.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("provider never received speak message")
	}
	select {
	case msg := <-received:
		assert.Equal(t, msgFlush, msg.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("provider never received flush message")
	}
}

func TestProcess_Init_EmitsBotSpeechAndAudioFrames(t *testing.T) {
	audio := base64.StdEncoding.EncodeToString([]byte{7, 7, 7})
	srv, _ := providerServer(t, []wireEvent{
		{Type: eventAudioChunk, Audio: audio},
		{Type: eventUtteranceEnd},
	})
	defer srv.Close()

	p := New(commons.NewNoopLogger(), wsURL(srv.URL), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, ports, err := p.Init(ctx, &Params{Voice: "nova", SampleRate: 24000, Encoding: "linear16"})
	require.NoError(t, err)
	require.Len(t, ports, 1)

	want := []frame.Type{frame.BotSpeechStart, frame.AudioOutputRaw, frame.BotSpeechStop}
	for _, wantType := range want {
		select {
		case f := <-ports[0].Chan:
			assert.Equal(t, wantType, f.Type())
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", wantType)
		}
	}
}

func TestProcess_Transition_Stop_SendsCloseMessage(t *testing.T) {
	srv, received := providerServer(t, nil)
	defer srv.Close()

	p := New(commons.NewNoopLogger(), wsURL(srv.URL), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, _, err := p.Init(ctx, &Params{Voice: "nova", SampleRate: 24000, Encoding: "linear16"})
	require.NoError(t, err)
	<-received // session_start

	_, err = p.Transition(ctx, st, flow.EventStop)
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, msgClose, msg.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("provider never received close message")
	}
}
