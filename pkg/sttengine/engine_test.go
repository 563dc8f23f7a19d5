package sttengine

import (
	"testing"
	"time"

	"github.com/lokutor-ai/speechd/pkg/buffer"
	"github.com/stretchr/testify/assert"
)

func TestMergeTexts(t *testing.T) {
	assert.Equal(t, "hello", mergeTexts("hello", ""))
	assert.Equal(t, "hello", mergeTexts("", "hello"))
	assert.Equal(t, "hello world", mergeTexts("hello", "hello world"))
	assert.Equal(t, "hello there", mergeTexts("hello", "lo there"))
	assert.Equal(t, "abc", mergeTexts("abc", "abc"))
}

// stubBackend is a no-op Backend used to exercise flush/dedup logic
// without a real goroutine loop running.
type stubBackend struct{}

func (stubBackend) StartProcessingImpl() error                      { return nil }
func (stubBackend) StopProcessingImpl()                             {}
func (stubBackend) ProcessBuff(e *Engine) (ProcessResult, error)     { return WaitForSamples, nil }
func (stubBackend) ResetImpl()                                      {}

func newTestEngine(mode SpeechMode) (*Engine, *[]string, *[]string) {
	var finals, intermediates []string
	cb := Callbacks{
		TextDecoded:             func(s string) { finals = append(finals, s) },
		IntermediateTextDecoded: func(s string) { intermediates = append(intermediates, s) },
	}
	e := New(Config{Mode: mode, MinTextSize: 2}, stubBackend{}, buffer.New(1024), cb)
	return e, &finals, &intermediates
}

func TestFlushEmitsFinalWhenThresholdMet(t *testing.T) {
	e, finals, _ := newTestEngine(ModeAutomatic)
	e.SetIntermediateText("hello")
	e.Flush(FlushRegular)
	assert.Equal(t, []string{"hello"}, *finals)
}

func TestFlushSingleSentenceClearsSpeechStarted(t *testing.T) {
	e, finals, _ := newTestEngine(ModeSingleSentence)
	e.SetSpeechStarted(true)
	assert.True(t, e.SpeechStarted())

	e.SetIntermediateText("hi there")
	e.Flush(FlushRegular)

	assert.Equal(t, []string{"hi there"}, *finals)
	assert.False(t, e.SpeechStarted())
}

func TestFlushBelowMinSizeDoesNotEmit(t *testing.T) {
	e, finals, _ := newTestEngine(ModeAutomatic)
	e.SetIntermediateText("h")
	e.Flush(FlushRegular)
	assert.Empty(t, *finals)
}

func TestIntermediateDedup(t *testing.T) {
	e, _, intermediates := newTestEngine(ModeAutomatic)
	e.SetIntermediateText("he")
	e.SetIntermediateText("he")
	assert.Len(t, *intermediates, 1, "repeated identical text must not re-emit")
}

func TestSentenceTimerLazilyStarts(t *testing.T) {
	e, _, _ := newTestEngine(ModeSingleSentence)
	e.cfg.SentenceTimeout = 10 * time.Millisecond

	assert.False(t, e.SentenceTimerTimedOut(), "first check lazily starts the timer, never reports a timeout")
	time.Sleep(15 * time.Millisecond)
	assert.True(t, e.SentenceTimerTimedOut())
}

func TestProjectedStatusPrecedence(t *testing.T) {
	e, _, _ := newTestEngine(ModeAutomatic)

	e.SetProcessingState(StateInitializing)
	assert.Equal(t, StatusInitializing, e.ProjectedStatus())

	e.SetProcessingState(StateDecoding)
	assert.Equal(t, StatusDecoding, e.ProjectedStatus())

	e.SetSpeechDetectionStatus(SpeechDetected)
	assert.Equal(t, StatusSpeechDetected, e.ProjectedStatus(), "raw speech_detected overrides decoding")
}
