package twilio

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/pkg/frame"
)

func TestSerializer_EncodesMediaEnvelope(t *testing.T) {
	s := Serializer{StreamSID: "MZ123"}
	f, err := frame.NewAudioOutputRaw([]byte{1, 2, 3}, 8000, time.Now())
	require.NoError(t, err)

	out, err := s.Serialize(f)
	require.NoError(t, err)

	var msg outboundMessage
	require.NoError(t, json.Unmarshal(out, &msg))
	assert.Equal(t, "media", msg.Event)
	assert.Equal(t, "MZ123", msg.StreamSID)
	require.NotNil(t, msg.Media)

	decoded, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, decoded)
}

func TestInboundMessage_ParsesStartEvent(t *testing.T) {
	raw := `{"event":"start","start":{"streamSid":"MZ999"}}`
	var msg inboundMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	assert.Equal(t, "start", msg.Event)
	require.NotNil(t, msg.Start)
	assert.Equal(t, "MZ999", msg.Start.StreamSID)
}

func TestInboundMessage_ParsesMediaEvent(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte{9, 9, 9})
	raw := `{"event":"media","media":{"payload":"` + payload + `"}}`
	var msg inboundMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	require.NotNil(t, msg.Media)
	decoded, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9, 9}, decoded)
}

func TestInboundMessage_ParsesStopEvent(t *testing.T) {
	raw := `{"event":"stop"}`
	var msg inboundMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	assert.Equal(t, "stop", msg.Event)
	assert.Nil(t, msg.Start)
	assert.Nil(t, msg.Media)
}
