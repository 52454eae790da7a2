package wsclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/pkg/commons"
	"github.com/rapidaai/pkg/pipelineerr"
)

// echoServer upgrades and echoes every text message it receives, prefixed
// with "echo:".
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, append([]byte("echo:"), data...)); err != nil {
				return
			}
		}
	}))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestSession_WriteAndReadRoundTrip(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	sess, err := Dial(context.Background(), commons.NewNoopLogger(), wsURL(srv.URL), nil)
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.WriteMessage(websocket.TextMessage, []byte("hello")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	received := make(chan string, 1)
	go func() {
		_ = sess.ReadLoop(ctx, func(data []byte) error {
			received <- string(data)
			cancel()
			return nil
		})
	}()

	select {
	case msg := <-received:
		assert.Equal(t, "echo:hello", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echo")
	}
}

func TestSession_WriteJSON_RoundTrip(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	sess, err := Dial(context.Background(), commons.NewNoopLogger(), wsURL(srv.URL), nil)
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.WriteJSON(map[string]string{"type": "ping"}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	received := make(chan string, 1)
	go func() {
		_ = sess.ReadLoop(ctx, func(data []byte) error {
			received <- string(data)
			cancel()
			return nil
		})
	}()

	select {
	case msg := <-received:
		assert.Contains(t, msg, `"type":"ping"`)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echo")
	}
}

func TestDial_BadURL_ReturnsTransportTransient(t *testing.T) {
	_, err := Dial(context.Background(), commons.NewNoopLogger(), "ws://127.0.0.1:1", nil)
	require.Error(t, err)
	assert.True(t, pipelineerr.Is(err, pipelineerr.KindTransportTransient))
}

func TestDial_SetsSessionIDHeader(t *testing.T) {
	var gotHeader string
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Session-Id")
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		conn.Close()
	}))
	defer srv.Close()

	sess, err := Dial(context.Background(), commons.NewNoopLogger(), wsURL(srv.URL), nil)
	require.NoError(t, err)
	defer sess.Close()

	assert.NotEmpty(t, gotHeader)
	assert.Equal(t, gotHeader, sess.SessionID())
}

func TestKeepAlive_CallsPingUntilCancelled(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	sess, err := Dial(context.Background(), commons.NewNoopLogger(), wsURL(srv.URL), nil)
	require.NoError(t, err)
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	count := 0
	done := make(chan struct{})
	go func() {
		sess.KeepAlive(ctx, 10*time.Millisecond, func() error { count++; return nil })
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done
	assert.GreaterOrEqual(t, count, 2)
}
