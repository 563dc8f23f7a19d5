// Package sttengine implements the STT engine base (C3): the owned
// processing goroutine, VAD/speech-mode policy, flush semantics, text
// merging, and the projected speech-detection status a client observes.
// Concrete backends (stt_ds, stt_vosk, stt_whisper) satisfy the Backend
// hook contract; this package drives them identically regardless of
// which one is plugged in.
package sttengine

import (
	"strings"
	"sync"
	"time"

	"github.com/lokutor-ai/speechd/pkg/buffer"
)

// SpeechMode selects which policy governs speech-start/-end detection.
type SpeechMode int

const (
	ModeManual SpeechMode = iota
	ModeAutomatic
	ModeSingleSentence
)

// RawStatus is the backend's unprojected speech-detection status.
type RawStatus int

const (
	NoSpeech RawStatus = iota
	SpeechDetected
)

// Status is the projected, client-observable speech-detection status.
type Status int

const (
	StatusNoSpeech Status = iota
	StatusSpeechDetected
	StatusDecoding
	StatusInitializing
)

// ProcessingState is the engine's internal backend-driving state.
type ProcessingState int

const (
	StateIdle ProcessingState = iota
	StateInitializing
	StateDecoding
)

// FlushType selects why flush() is firing.
type FlushType int

const (
	FlushRegular FlushType = iota
	FlushEOF
	FlushRestart
	FlushExit
)

// ProcessResult is returned by a Backend's ProcessBuff to tell the
// engine loop whether to keep pumping or to sleep on the condvar.
type ProcessResult int

const (
	NoSamplesNeeded ProcessResult = iota
	WaitForSamples
)

// Backend is the subclass hook contract every concrete STT engine_kind
// must satisfy.
type Backend interface {
	// StartProcessingImpl loads the backend; may take seconds.
	StartProcessingImpl() error
	// StopProcessingImpl unblocks any in-flight blocking backend call.
	StopProcessingImpl()
	// ProcessBuff drains frames from the shared buffer via
	// AcquireForProcessing, decodes, and calls SetIntermediateText /
	// Flush(FlushRegular) as decoding progresses.
	ProcessBuff(e *Engine) (ProcessResult, error)
	// ResetImpl discards backend-internal state.
	ResetImpl()
}

// Callbacks is the set delivered by the engine; callers (normally the
// orchestrator) must arrange for these to run in their own serialized
// context — the engine invokes them synchronously from its own
// goroutine (the "queued connection" hand-off is
// the caller's responsibility, not the engine's).
type Callbacks struct {
	TextDecoded                  func(text string)
	IntermediateTextDecoded      func(text string)
	SpeechDetectionStatusChanged func(status Status)
	SentenceTimeout              func()
	EOF                          func()
	Error                        func(err error)
}

// Config is the construction-time configuration for an engine instance.
type Config struct {
	ModelFile       string
	ScorerFile      string
	LangID          string
	Mode            SpeechMode
	VADAggressiveness int
	Translate       bool
	MinTextSize     int
	SentenceTimeout time.Duration
}

// Engine is the STT engine base (C3).
type Engine struct {
	cfg       Config
	backend   Backend
	buf       *buffer.Shared
	callbacks Callbacks

	mu   sync.Mutex
	cond *sync.Cond

	speechStarted    bool
	sentenceStarted  bool
	sentenceStart    time.Time
	rawStatus        RawStatus
	processingState  ProcessingState
	lastProjected    Status
	projectedValid   bool

	intermediateText     string
	lastEmittedIntermediate string
	lastEmittedValid        bool

	restartRequested bool
	exitRequested    bool
	started          bool

	done chan struct{}
}

// New constructs an engine bound to a shared buffer and backend. The
// engine does not start its goroutine until Start is called.
func New(cfg Config, backend Backend, buf *buffer.Shared, callbacks Callbacks) *Engine {
	if cfg.MinTextSize <= 0 {
		cfg.MinTextSize = 1
	}
	if cfg.SentenceTimeout <= 0 {
		cfg.SentenceTimeout = 10 * time.Second
	}
	e := &Engine{cfg: cfg, backend: backend, buf: buf, callbacks: callbacks}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Buffer returns the shared in-buffer this engine drains, so the
// orchestrator's frame pump can borrow/return it.
func (e *Engine) Buffer() *buffer.Shared { return e.buf }

// Mode returns the configured speech mode.
func (e *Engine) Mode() SpeechMode { return e.cfg.Mode }

// Started reports whether the processing goroutine is running and no
// stop has been requested.
func (e *Engine) Started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started && !e.exitRequested
}

// Start launches the owned processing goroutine.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.done = make(chan struct{})
	e.mu.Unlock()

	go e.run()
}

func (e *Engine) run() {
	defer close(e.done)

	e.setProcessingState(StateInitializing)
	if err := e.backend.StartProcessingImpl(); err != nil {
		e.callbacks.Error(err)
		return
	}
	e.setProcessingState(StateIdle)

	for {
		e.mu.Lock()
		if e.exitRequested {
			e.mu.Unlock()
			break
		}
		if e.restartRequested {
			e.restartRequested = false
			e.mu.Unlock()
			e.flush(FlushRestart)
			continue
		}
		e.mu.Unlock()

		result, err := e.backend.ProcessBuff(e)
		if err != nil {
			e.callbacks.Error(err)
			return
		}

		if result == WaitForSamples {
			e.waitForWork()
		}
	}

	e.flush(FlushExit)
}

// waitForWork blocks the processing goroutine until Return() signals the
// buffer's condvar, a restart is requested, or exit is requested.
func (e *Engine) waitForWork() {
	cancel := make(chan struct{})
	go func() {
		e.mu.Lock()
		for {
			if e.exitRequested || e.restartRequested {
				e.mu.Unlock()
				close(cancel)
				return
			}
			e.mu.Unlock()
			return
		}
	}()
	e.buf.Wait(cancel)
}

// Stop sets the exit flag, signals the condvar, calls the backend's
// cooperative stop hook, joins the processing goroutine, then resets
// speech-started, detection status, and processing state.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.exitRequested = true
	done := e.done
	e.mu.Unlock()

	e.backend.StopProcessingImpl()
	e.buf.Clear() // wakes anyone blocked in Wait via the condvar broadcast path
	if done != nil {
		<-done
	}

	e.mu.Lock()
	e.speechStarted = false
	e.sentenceStarted = false
	e.rawStatus = NoSpeech
	e.processingState = StateIdle
	e.started = false
	e.exitRequested = false
	e.mu.Unlock()
}

// RequestRestart asks the processing loop to flush(restart) on its next
// wake, without tearing the goroutine down.
func (e *Engine) RequestRestart() {
	e.mu.Lock()
	e.restartRequested = true
	e.mu.Unlock()
	e.buf.Clear()
}

// Flush runs the flush(type) procedure. Exported so a Backend's
// ProcessBuff can flush on automatic speech-end or eof, and so the
// orchestrator can flush when the SentenceTimeout callback reaches it.
func (e *Engine) Flush(t FlushType) { e.flush(t) }

func (e *Engine) flush(t FlushType) {
	e.mu.Lock()
	mode := e.cfg.Mode

	if mode == ModeAutomatic {
		e.setSpeechDetectionStatusLocked(NoSpeech)
	}
	if mode == ModeManual && t != FlushRestart {
		e.speechStarted = false
	}

	text := e.intermediateText
	shouldEmit := len(text) >= e.cfg.MinTextSize &&
		(t == FlushRegular || t == FlushEOF || mode != ModeSingleSentence)

	if shouldEmit && mode == ModeSingleSentence {
		e.speechStarted = false
	}

	e.intermediateText = ""
	e.mu.Unlock()

	if shouldEmit && e.callbacks.TextDecoded != nil {
		e.callbacks.TextDecoded(text)
	}
	if t == FlushEOF && e.callbacks.EOF != nil {
		e.callbacks.EOF()
	}
}

// SetIntermediateText merges newText into the buffered intermediate text
// and emits IntermediateTextDecoded only when the dedup gate passes.
func (e *Engine) SetIntermediateText(newText string) {
	e.mu.Lock()
	merged := mergeTexts(e.intermediateText, newText)
	e.intermediateText = merged

	shouldEmit := (!e.lastEmittedValid || merged != e.lastEmittedIntermediate) &&
		(merged == "" || len(merged) >= e.cfg.MinTextSize)
	if shouldEmit {
		e.lastEmittedIntermediate = merged
		e.lastEmittedValid = true
	}
	e.mu.Unlock()

	if shouldEmit && e.callbacks.IntermediateTextDecoded != nil {
		e.callbacks.IntermediateTextDecoded(merged)
	}
}

// mergeTexts finds the longest suffix of old that is a prefix of newText
// (over their common length) and appends the remaining tail of newText to
// old with a single space separator, left-trimming that tail only when an
// overlap was actually found. Empty newText leaves old unchanged; empty
// old returns newText verbatim.
func mergeTexts(old, newText string) string {
	if newText == "" {
		return old
	}
	if old == "" {
		return newText
	}

	maxOverlap := len(old)
	if len(newText) < maxOverlap {
		maxOverlap = len(newText)
	}

	overlap := 0
	for n := maxOverlap; n > 0; n-- {
		if strings.HasSuffix(old, newText[:n]) {
			overlap = n
			break
		}
	}

	tail := newText[overlap:]
	if overlap > 0 {
		tail = strings.TrimLeft(tail, " \t\n\r")
	}
	if tail == "" {
		return old
	}
	return old + " " + tail
}

// SetSpeechStarted sets the externally-driven speech-start flag (manual
// mode: mic capture start/stop). It always resets the sentence timer's
// start time on change, and for manual/single_sentence modes also
// directly sets the detection status to mirror the new value.
func (e *Engine) SetSpeechStarted(started bool) {
	e.mu.Lock()
	if e.speechStarted == started {
		e.mu.Unlock()
		return
	}
	e.speechStarted = started
	e.sentenceStart = time.Now()
	e.sentenceStarted = started

	mode := e.cfg.Mode
	if mode == ModeManual || mode == ModeSingleSentence {
		status := NoSpeech
		if started {
			status = SpeechDetected
		}
		e.setSpeechDetectionStatusLocked(status)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
}

// SpeechStarted reports the current externally/VAD-driven flag.
func (e *Engine) SpeechStarted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speechStarted
}

// SetSpeechDetectionStatus sets the raw (unprojected) status. No-ops if
// unchanged; fires the callback only if the *projected* value changes.
func (e *Engine) SetSpeechDetectionStatus(status RawStatus) {
	e.mu.Lock()
	e.setSpeechDetectionStatusLocked(status)
	e.mu.Unlock()
}

func (e *Engine) setSpeechDetectionStatusLocked(status RawStatus) {
	if e.rawStatus == status {
		return
	}
	e.rawStatus = status
	e.fireProjectedIfChangedLocked()
}

// setProcessingState sets the internal processing state and fires the
// status-changed callback only when the *derived* (projected) status
// actually changes as a result — not on every raw processing-state
// change, matching the original source's set_processing_state exactly.
func (e *Engine) setProcessingState(state ProcessingState) {
	e.mu.Lock()
	e.processingState = state
	e.fireProjectedIfChangedLocked()
	e.mu.Unlock()
}

func (e *Engine) fireProjectedIfChangedLocked() {
	projected := e.projectedStatusLocked()
	if e.projectedValid && projected == e.lastProjected {
		return
	}
	e.lastProjected = projected
	e.projectedValid = true
	cb := e.callbacks.SpeechDetectionStatusChanged
	if cb != nil {
		e.mu.Unlock()
		cb(projected)
		e.mu.Lock()
	}
}

// projectedStatusLocked implements the three-way precedence: initializing
// while processingState==initializing; decoding while
// processingState==decoding AND raw != speech_detected; else raw.
func (e *Engine) projectedStatusLocked() Status {
	switch {
	case e.processingState == StateInitializing:
		return StatusInitializing
	case e.processingState == StateDecoding && e.rawStatus != SpeechDetected:
		return StatusDecoding
	case e.rawStatus == SpeechDetected:
		return StatusSpeechDetected
	default:
		return StatusNoSpeech
	}
}

// ProjectedStatus returns the current client-observable status.
func (e *Engine) ProjectedStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.projectedStatusLocked()
}

// SetProcessingState is exported so a Backend implementation can drive
// idle<->decoding transitions as it starts/stops active decoding.
func (e *Engine) SetProcessingState(state ProcessingState) { e.setProcessingState(state) }

// SentenceTimerTimedOut returns true when now-start >= timeout. If the
// timer was never started, this call lazily starts it (mirroring the
// original source's sentence_timer_timed_out, which self-initializes
// rather than reporting a spurious timeout on first check).
func (e *Engine) SentenceTimerTimedOut() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.sentenceStarted {
		e.sentenceStarted = true
		e.sentenceStart = time.Now()
		return false
	}
	return time.Since(e.sentenceStart) >= e.cfg.SentenceTimeout
}

// RestartSentenceTimer explicitly restarts the sentence timer.
func (e *Engine) RestartSentenceTimer() {
	e.mu.Lock()
	e.sentenceStarted = true
	e.sentenceStart = time.Now()
	e.mu.Unlock()
}

// FireSentenceTimeout invokes the SentenceTimeout callback. Nothing in
// this module calls it or polls SentenceTimerTimedOut, so no sentence
// timeout fires on its own in single_sentence mode.
func (e *Engine) FireSentenceTimeout() {
	if e.callbacks.SentenceTimeout != nil {
		e.callbacks.SentenceTimeout()
	}
}

// Reset discards backend-internal state and clears runtime fields,
// called on engine reset only (not on every stop).
func (e *Engine) Reset() {
	e.mu.Lock()
	e.intermediateText = ""
	e.lastEmittedValid = false
	e.rawStatus = NoSpeech
	e.mu.Unlock()
	e.buf.Clear()
	e.backend.ResetImpl()
}
