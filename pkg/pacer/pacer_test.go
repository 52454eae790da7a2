package pacer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/pkg/commons"
	"github.com/rapidaai/pkg/flow"
	"github.com/rapidaai/pkg/frame"
)

// fakeClock lets tests drive the pacer's wall-clock decisions deterministically.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(start time.Time) *fakeClock { return &fakeClock{t: start} }

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeWriter struct{}

func (fakeWriter) Write(data []byte, sampleRate int) error { return nil }

func newTestProcess(t *testing.T, clock *fakeClock, chunkMs, silenceMs int) (*Process, flow.State) {
	t.Helper()
	p := New(commons.NewNoopLogger(), fakeWriter{}, WithClock(clock.now))
	st, extras, err := p.Init(context.Background(), &Params{ChunkDurationMs: chunkMs, SilenceThresholdMs: silenceMs})
	require.NoError(t, err)
	require.Len(t, extras, 1)
	assert.Equal(t, "timer-out", extras[0].Name)
	return p, st
}

func audioFrame(t *testing.T, ts time.Time) frame.Frame {
	t.Helper()
	f, err := frame.NewAudioOutputRaw([]byte{1, 2, 3, 4}, 16000, ts)
	require.NoError(t, err)
	return f
}

func TestPacer_FirstAudioFrame_EmitsBotSpeechStart(t *testing.T) {
	clock := newFakeClock(time.Now())
	p, st := newTestProcess(t, clock, 20, 500)

	next, out, err := p.Transform(context.Background(), st, "in", audioFrame(t, clock.now()))
	require.NoError(t, err)

	require.Len(t, out["out"], 1)
	assert.Equal(t, frame.BotSpeechStart, out["out"][0].Type())
	require.Len(t, out["audio-write"], 1)
	assert.Equal(t, frame.AudioWriteCommand, out["audio-write"][0].Type())

	s := next.(*state)
	assert.True(t, s.speaking)
}

func TestPacer_SecondAudioFrame_NoDuplicateBotSpeechStart(t *testing.T) {
	clock := newFakeClock(time.Now())
	p, st := newTestProcess(t, clock, 20, 500)

	st, _, err := p.Transform(context.Background(), st, "in", audioFrame(t, clock.now()))
	require.NoError(t, err)

	clock.advance(20 * time.Millisecond)
	_, out, err := p.Transform(context.Background(), st, "in", audioFrame(t, clock.now()))
	require.NoError(t, err)
	assert.Empty(t, out["out"])
	require.Len(t, out["audio-write"], 1)
}

// sendingInterval is half the configured chunk duration (spec §4.5).
func TestPacer_SendingIntervalHalvesChunkDuration(t *testing.T) {
	clock := newFakeClock(time.Now())
	_, st := newTestProcess(t, clock, 20, 500)
	s := st.(*state)
	assert.Equal(t, 10*time.Millisecond, s.sendingInterval)
}

// delayUntil never moves backward relative to lastSendTime+interval, even
// when frames arrive faster than the interval.
func TestPacer_DelayUntil_PacesFasterProducer(t *testing.T) {
	clock := newFakeClock(time.Now())
	p, st := newTestProcess(t, clock, 20, 500)

	next, out, err := p.Transform(context.Background(), st, "in", audioFrame(t, clock.now()))
	require.NoError(t, err)
	first := out["audio-write"][0].Data().(frame.AudioWriteCommandPayload).DelayUntilMs

	// No time passes before the next frame arrives — producer faster than
	// the paced interval.
	next, out, err = p.Transform(context.Background(), next, "in", audioFrame(t, clock.now()))
	require.NoError(t, err)
	second := out["audio-write"][0].Data().(frame.AudioWriteCommandPayload).DelayUntilMs

	assert.GreaterOrEqual(t, second, first+10)
	_ = next
}

func TestPacer_TimerTick_EmitsBotSpeechStopAfterSilence(t *testing.T) {
	clock := newFakeClock(time.Now())
	p, st := newTestProcess(t, clock, 20, 500)

	st, _, err := p.Transform(context.Background(), st, "in", audioFrame(t, clock.now()))
	require.NoError(t, err)

	clock.advance(600 * time.Millisecond)
	tick, err := frame.NewPacerTimerTick(clock.now())
	require.NoError(t, err)
	next, out, err := p.Transform(context.Background(), st, "timer-out", tick)
	require.NoError(t, err)

	require.Len(t, out["out"], 1)
	assert.Equal(t, frame.BotSpeechStop, out["out"][0].Type())
	assert.False(t, next.(*state).speaking)
}

func TestPacer_TimerTick_NoopWhenNotSpeaking(t *testing.T) {
	clock := newFakeClock(time.Now())
	p, st := newTestProcess(t, clock, 20, 500)

	tick, _ := frame.NewPacerTimerTick(clock.now())
	_, out, err := p.Transform(context.Background(), st, "timer-out", tick)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestPacer_TimerTick_WithinThreshold_NoStop(t *testing.T) {
	clock := newFakeClock(time.Now())
	p, st := newTestProcess(t, clock, 20, 500)

	st, _, err := p.Transform(context.Background(), st, "in", audioFrame(t, clock.now()))
	require.NoError(t, err)

	clock.advance(100 * time.Millisecond)
	tick, _ := frame.NewPacerTimerTick(clock.now())
	_, out, err := p.Transform(context.Background(), st, "timer-out", tick)
	require.NoError(t, err)
	assert.Empty(t, out)
}

// a serializer attached via system-config-change transforms subsequent
// audio-write payloads.
type upperSerializer struct{}

func (upperSerializer) Serialize(f frame.Frame) ([]byte, error) {
	return []byte("serialized"), nil
}

func TestPacer_SerializerSwap_AppliesToSubsequentFrames(t *testing.T) {
	clock := newFakeClock(time.Now())
	p, st := newTestProcess(t, clock, 20, 500)

	cfgFrame, err := frame.NewSystemConfigChange("transport/serializer", upperSerializer{}, clock.now())
	require.NoError(t, err)
	st, _, err = p.Transform(context.Background(), st, "sys-in", cfgFrame)
	require.NoError(t, err)

	_, out, err := p.Transform(context.Background(), st, "in", audioFrame(t, clock.now()))
	require.NoError(t, err)
	payload := out["audio-write"][0].Data().(frame.AudioWriteCommandPayload)
	assert.Equal(t, []byte("serialized"), payload.Data)
}
