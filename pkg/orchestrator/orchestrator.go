package orchestrator

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/lokutor-ai/speechd/pkg/audiosource"
	"github.com/lokutor-ai/speechd/pkg/buffer"
	"github.com/lokutor-ai/speechd/pkg/models"
	"github.com/lokutor-ai/speechd/pkg/sttengine"
	"github.com/lokutor-ai/speechd/pkg/ttsengine"
)

// STTBackendFactory builds a concrete sttengine.Backend for a resolved
// model config. Kept out of this package so orchestrator never imports
// pkg/backends/*, keeping backend construction behind an injected factory.
type STTBackendFactory func(models.Config) (sttengine.Backend, error)

// TTSBackendFactory builds a concrete ttsengine.Backend for a resolved
// model config.
type TTSBackendFactory func(models.Config) (ttsengine.Backend, error)

// TTTBackendFactory builds a TTTRestorer for a resolved model config's
// attached TTT model (cfg.TTTModelID non-empty). May be nil if no TTT
// backend is configured, in which case punctuation restoration is
// silently unavailable.
type TTTBackendFactory func(models.Config) (TTTRestorer, error)

// sourceKindNone marks "no audio source currently bound", distinct from
// audiosource.KindMic (0) and audiosource.KindFile (1).
const sourceKindNone = audiosource.Kind(-1)

// SignalKind tags a Signal's payload shape.
type SignalKind int

const (
	SigStateChanged SignalKind = iota
	SigCurrentTaskChanged
	SigSpeechChanged
	SigSttIntermediateTextDecoded
	SigSttTextDecoded
	SigSttFileProgress
	SigSttFileFinished
	SigTtsPlaySpeechFinished
	SigErrorOccured
	SigSttModelsChanged
	SigSttLangsChanged
	SigTtsModelsChanged
	SigTtsLangsChanged
)

// Signal is a single property-change or event notification, delivered
// over Orchestrator.Events(). The non-blocking, drop-if-full emit pattern
// mirrors a typical event-channel pattern: callers range over Events()
// rather than registering handlers.
type Signal struct {
	Kind     SignalKind
	Task     int
	Text     string
	LangID   string
	ModelID  string
	Progress float64
	State    State
	Speech   sttengine.Status
	Code     int
	Models   map[string]string
}

// Orchestrator is the task state machine (C6): the single serialized
// coordinator owning the current/pending/previous task slots, bound
// engines, audio source, and keepalive timers.
type Orchestrator struct {
	cfg        Config
	logger     Logger
	resolver   *models.Resolver
	sttFactory STTBackendFactory
	ttsFactory TTSBackendFactory
	tttFactory TTTBackendFactory

	events chan Signal
	cmdCh  chan func()
	stopCh chan struct{}

	mu sync.Mutex

	nextID  int
	current *Task
	pending *Task
	prev    *Task

	lastIntermediateTaskID int
	lastIntermediateValid  bool

	sttEngine  *sttengine.Engine
	sttKey     EngineKey
	sttKeySet  bool
	sttBuf     *buffer.Shared
	sttCancel  context.CancelFunc
	source     audiosource.Source
	sourceKind audiosource.Kind
	micSource  *audiosource.MicSource

	ttsEngine *ttsengine.Engine
	ttsKey    EngineKey
	ttsKeySet bool

	tttRestorer TTTRestorer
	tttKey      EngineKey
	tttKeySet   bool

	state        State
	fileProgress float64
	sttAvailable bool
	ttsAvailable bool

	serviceTimer *time.Timer
	taskTimer    *time.Timer
}

// New constructs an orchestrator. tttFactory may be nil if no punctuation
// restoration backend is configured. Call Start to launch its command
// loop and Close to tear it down.
func New(cfg Config, resolver *models.Resolver, sttFactory STTBackendFactory, ttsFactory TTSBackendFactory, tttFactory TTTBackendFactory, logger Logger) *Orchestrator {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	o := &Orchestrator{
		cfg:          cfg,
		logger:       logger,
		resolver:     resolver,
		sttFactory:   sttFactory,
		ttsFactory:   ttsFactory,
		tttFactory:   tttFactory,
		events:       make(chan Signal, 64),
		cmdCh:        make(chan func(), 64),
		stopCh:       make(chan struct{}),
		state:        StateIdle,
		sttAvailable: len(resolver.AvailableModels(models.RoleSTT)) > 0,
		ttsAvailable: len(resolver.AvailableModels(models.RoleTTS)) > 0,
	}
	o.sourceKind = sourceKindNone
	o.deriveState()
	return o
}

// Events returns the channel external callers read Signal values from.
func (o *Orchestrator) Events() <-chan Signal { return o.events }

// Start launches the single command-processing goroutine.
func (o *Orchestrator) Start() {
	go o.loop()
	o.startServiceTimer()
}

// Close stops the command loop, tearing down any live engine/source.
func (o *Orchestrator) Close() {
	close(o.stopCh)
}

func (o *Orchestrator) loop() {
	for {
		select {
		case f := <-o.cmdCh:
			f()
		case <-o.stopCh:
			o.teardownLocked()
			return
		}
	}
}

// call runs f on the command loop and blocks until it completes,
// returning f's error. This is the synchronous request path every public
// method uses.
func (o *Orchestrator) call(f func() error) error {
	done := make(chan error, 1)
	select {
	case o.cmdCh <- func() { done <- f() }:
	case <-o.stopCh:
		return fmt.Errorf("orchestrator: closed")
	}
	return <-done
}

// post enqueues f without waiting; used by engine/source callbacks, which
// run on a different goroutine and must never block their caller nor
// mutate orchestrator state directly.
func (o *Orchestrator) post(f func()) {
	select {
	case o.cmdCh <- f:
	case <-o.stopCh:
	}
}

func (o *Orchestrator) emit(s Signal) {
	select {
	case o.events <- s:
	default:
		o.logger.Warn("dropping signal, events channel full", "kind", s.Kind)
	}
}

// nextTaskID allocates the next task id, wrapping before it could ever
// collide with InvalidTask.
func (o *Orchestrator) nextTaskID() int {
	id := o.nextID
	if id == math.MaxInt {
		o.nextID = 0
	} else {
		o.nextID = id + 1
	}
	if id == InvalidTask {
		id = 0
		o.nextID = 1
	}
	return id
}

func (o *Orchestrator) currentTaskID() int {
	if o.current == nil {
		return InvalidTask
	}
	return o.current.ID
}

func (o *Orchestrator) setState(s State) {
	if o.state == s {
		return
	}
	o.state = s
	o.emit(Signal{Kind: SigStateChanged, State: s})
}

// setCurrent installs t as the current task (or clears it with nil) and
// arms/disarms the per-task keepalive to match, mirroring the original's
// start_keepalive_current_task()/stop_keepalive_current_task() pairing
// with every task start, transition, and end.
func (o *Orchestrator) setCurrent(t *Task) {
	o.current = t
	if t != nil {
		o.restartTaskTimer()
	} else {
		o.stopTaskTimer()
	}
	o.emit(Signal{Kind: SigCurrentTaskChanged, Task: o.currentTaskID()})
	o.deriveState()
}

// deriveState recomputes the externally observable state from the
// current task, bound source kind, and model availability.
func (o *Orchestrator) deriveState() {
	switch {
	case !o.sttAvailable && !o.ttsAvailable:
		o.setState(StateNotConfigured)
	case o.sourceKind == audiosource.KindFile:
		o.setState(StateTranscribingFile)
	case o.sourceKind == audiosource.KindMic:
		if o.current == nil {
			o.setState(StateIdle)
			return
		}
		if o.current.Kind == TaskTTS {
			o.setState(StatePlayingSpeech)
			return
		}
		switch o.current.Mode {
		case sttengine.ModeManual:
			if o.sttEngine != nil && o.sttEngine.Started() && o.sttEngine.SpeechStarted() {
				o.setState(StateListeningManual)
			} else {
				o.setState(StateIdle)
			}
		case sttengine.ModeSingleSentence:
			o.setState(StateListeningSingleSentence)
		default:
			o.setState(StateListeningAuto)
		}
	case o.current != nil && o.current.Kind == TaskTTS:
		o.setState(StatePlayingSpeech)
	default:
		o.setState(StateIdle)
	}
}

func (o *Orchestrator) busy() bool {
	return o.state == StateBusy || o.state == StateNotConfigured || o.state == StateUnknown
}

// ---- timers -----------------------------------------------------------

func (o *Orchestrator) startServiceTimer() {
	if o.cfg.ServiceKeepalive <= 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.serviceTimer != nil {
		o.serviceTimer.Stop()
	}
	o.serviceTimer = time.AfterFunc(o.cfg.ServiceKeepalive, func() {
		o.logger.Warn("service keepalive expired, shutting down")
		o.Close()
	})
}

func (o *Orchestrator) restartServiceTimer() {
	if o.cfg.ServiceKeepalive <= 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.serviceTimer != nil {
		o.serviceTimer.Stop()
	}
	o.serviceTimer = time.AfterFunc(o.cfg.ServiceKeepalive, func() {
		o.logger.Warn("service keepalive expired, shutting down")
		o.Close()
	})
}

func (o *Orchestrator) restartTaskTimer() {
	if o.cfg.TaskKeepalive <= 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.taskTimer != nil {
		o.taskTimer.Stop()
	}
	o.taskTimer = time.AfterFunc(o.cfg.TaskKeepalive, func() {
		o.post(func() { o.onTaskKeepaliveExpired() })
	})
}

// stopTaskTimer cancels the per-task keepalive without rescheduling it,
// the counterpart to restartTaskTimer used once a task has fully ended.
func (o *Orchestrator) stopTaskTimer() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.taskTimer != nil {
		o.taskTimer.Stop()
	}
}

func (o *Orchestrator) onTaskKeepaliveExpired() {
	if o.current == nil {
		return
	}
	o.logger.Warn("task keepalive expired", "task", o.current.ID)
	o.internalCancel(o.current.ID)
}

// ---- request methods ----------------------------------------------------

// SttStartListen starts a microphone-sourced STT task in the given mode.
func (o *Orchestrator) SttStartListen(mode sttengine.SpeechMode, key string, translate bool) (int, error) {
	var id int
	err := o.call(func() error {
		o.restartServiceTimer()
		if o.busy() {
			return ErrBusy
		}

		cfg, ok := o.resolver.Resolve(models.RoleSTT, key, o.cfg.DefaultSTTLang, o.cfg.PunctuationRestore)
		if !ok {
			return ErrNoModel
		}

		if o.sourceKind == audiosource.KindFile {
			id = o.nextTaskID()
			o.pending = &Task{ID: id, Kind: TaskSTT, Mode: mode, ModelID: cfg.ModelID, LangID: cfg.LangID, Source: audiosource.KindMic}
			return nil
		}

		id = o.nextTaskID()
		t := &Task{ID: id, Kind: TaskSTT, Mode: mode, ModelID: cfg.ModelID, LangID: cfg.LangID, Source: audiosource.KindMic}
		if err := o.bindSTTEngine(cfg, translate, mode); err != nil {
			return err
		}
		if err := o.bindMicSource(); err != nil {
			return err
		}
		if mode == sttengine.ModeManual || mode == sttengine.ModeSingleSentence {
			o.sttEngine.SetSpeechStarted(true)
		}
		o.setCurrent(t)
		return nil
	})
	return id, err
}

// SttTranscribeFile starts a file-sourced STT task.
func (o *Orchestrator) SttTranscribeFile(path, key string, translate bool) (int, error) {
	var id int
	err := o.call(func() error {
		o.restartTaskTimer()
		if o.busy() {
			return ErrBusy
		}

		cfg, ok := o.resolver.Resolve(models.RoleSTT, key, o.cfg.DefaultSTTLang, o.cfg.PunctuationRestore)
		if !ok {
			return ErrNoModel
		}

		id = o.nextTaskID()
		t := &Task{ID: id, Kind: TaskSTT, Mode: sttengine.ModeAutomatic, ModelID: cfg.ModelID, LangID: cfg.LangID, Source: audiosource.KindFile}

		if o.current != nil && o.current.Kind == TaskSTT && o.current.Source == audiosource.KindMic && o.current.Mode != sttengine.ModeSingleSentence {
			o.pending = t
			return nil
		}

		if err := o.bindSTTEngine(cfg, translate, sttengine.ModeAutomatic); err != nil {
			return err
		}
		if err := o.bindFileSource(path); err != nil {
			return err
		}
		o.setCurrent(t)
		return nil
	})
	return id, err
}

// SttGetFileTranscribeProgress implements stt_get_file_transcribe_progress.
func (o *Orchestrator) SttGetFileTranscribeProgress(task int) (float64, error) {
	var progress float64
	err := o.call(func() error {
		o.restartTaskTimer()
		if o.current == nil || o.current.ID != task || o.sourceKind != audiosource.KindFile {
			progress = -1
			return nil
		}
		progress = o.fileProgress
		return nil
	})
	return progress, err
}

// TtsPlaySpeech synthesizes and plays the given text.
func (o *Orchestrator) TtsPlaySpeech(text, key string) (int, error) {
	var id int
	err := o.call(func() error {
		o.restartTaskTimer()
		if o.busy() {
			return ErrBusy
		}
		if o.ttsEngine != nil && o.ttsEngine.Busy() {
			return ErrBusy
		}

		cfg, ok := o.resolver.Resolve(models.RoleTTS, key, o.cfg.DefaultTTSLang, false)
		if !ok {
			return ErrNoModel
		}

		if err := o.bindTTSEngine(cfg); err != nil {
			return err
		}

		id = o.nextTaskID()
		t := &Task{ID: id, Kind: TaskTTS, ModelID: cfg.ModelID, LangID: cfg.LangID}
		o.setCurrent(t)
		o.ttsEngine.EncodeSpeech(text)
		return nil
	})
	return id, err
}

// SttStopListen stops a microphone-sourced STT task.
func (o *Orchestrator) SttStopListen(task int) error {
	return o.call(func() error {
		o.restartServiceTimer()
		if o.busy() {
			return ErrBusy
		}

		if o.pending != nil && o.pending.ID == task {
			o.pending = nil
			return nil
		}
		if o.current == nil || o.current.ID != task || o.current.Kind != TaskSTT {
			return ErrUnknownTask
		}

		switch o.current.Mode {
		case sttengine.ModeManual:
			if o.sttEngine != nil && o.sttEngine.Started() {
				o.sttEngine.SetSpeechStarted(false)
				o.stopSource()
			} else {
				o.hardStopSTT()
			}
		default:
			o.hardStopSTT()
		}
		return nil
	})
}

// TtsStopSpeech stops speech playback.
func (o *Orchestrator) TtsStopSpeech(task int) error {
	return o.call(func() error {
		o.restartTaskTimer()
		if o.current == nil || o.current.ID != task || o.current.Kind != TaskTTS {
			return ErrUnknownTask
		}
		o.hardStopTTS()
		return nil
	})
}

// Cancel cancels task, the guarded external path (rejected while busy).
func (o *Orchestrator) Cancel(task int) error {
	return o.call(func() error {
		o.restartServiceTimer()
		if o.busy() {
			return ErrBusy
		}
		return o.doCancel(task)
	})
}

// internalCancel bypasses the busy/not_configured/unknown guard, used by
// handle_stt_engine_error, handle_tts_engine_error, and task-keepalive
// expiry.
func (o *Orchestrator) internalCancel(task int) {
	o.post(func() { _ = o.doCancel(task) })
}

func (o *Orchestrator) doCancel(task int) error {
	if o.current == nil || o.current.ID != task {
		if o.pending != nil && o.pending.ID == task {
			o.pending = nil
			return nil
		}
		return ErrUnknownTask
	}

	if o.current.Kind == TaskTTS {
		o.hardStopTTS()
		return nil
	}

	if o.sourceKind == audiosource.KindFile {
		if o.pending != nil {
			o.prev = o.current
			o.stopSource()
			o.teardownSTTEngine()
			cfg, ok := o.resolver.Resolve(models.RoleSTT, "", o.cfg.DefaultSTTLang, o.cfg.PunctuationRestore)
			if !ok {
				o.pending = nil
				return nil
			}
			pending := o.pending
			o.pending = nil
			if err := o.bindSTTEngine(cfg, false, pending.Mode); err != nil {
				return err
			}
			if err := o.bindMicSource(); err != nil {
				return err
			}
			o.setCurrent(pending)
			return nil
		}
		o.hardStopSTT()
		return nil
	}

	// mic source
	if o.current.Mode == sttengine.ModeAutomatic {
		cfg, ok := o.resolver.Resolve(models.RoleSTT, "", o.cfg.DefaultSTTLang, o.cfg.PunctuationRestore)
		if !ok {
			o.hardStopSTT()
			return nil
		}
		mode := o.current.Mode
		o.hardStopSTT()
		if err := o.bindSTTEngine(cfg, false, mode); err != nil {
			return err
		}
		if err := o.bindMicSource(); err != nil {
			return err
		}
		o.setCurrent(&Task{ID: o.nextTaskID(), Kind: TaskSTT, Mode: mode, ModelID: cfg.ModelID, LangID: cfg.LangID, Source: audiosource.KindMic})
		return nil
	}
	o.hardStopSTT()
	return nil
}

// Reload reloads the model catalog's availability flags (the catalog
// collaborator itself is out of scope; here Reload just re-queries the
// resolver it already holds and republishes the model/lang property
// signals, so repeated calls with an unchanged resolver are idempotent).
func (o *Orchestrator) Reload() error {
	return o.call(func() error {
		o.restartServiceTimer()
		o.sttAvailable = len(o.resolver.AvailableModels(models.RoleSTT)) > 0
		o.ttsAvailable = len(o.resolver.AvailableModels(models.RoleTTS)) > 0
		o.emit(Signal{Kind: SigSttModelsChanged, Models: o.resolver.AvailableModels(models.RoleSTT)})
		o.emit(Signal{Kind: SigSttLangsChanged, Models: o.resolver.AvailableLangs(models.RoleSTT)})
		o.emit(Signal{Kind: SigTtsModelsChanged, Models: o.resolver.AvailableModels(models.RoleTTS)})
		o.emit(Signal{Kind: SigTtsLangsChanged, Models: o.resolver.AvailableLangs(models.RoleTTS)})
		o.deriveState()
		return nil
	})
}

// KeepAliveService restarts the service timer and returns the nominal
// remaining duration.
func (o *Orchestrator) KeepAliveService() (time.Duration, error) {
	err := o.call(func() error {
		o.restartServiceTimer()
		return nil
	})
	return o.cfg.ServiceKeepalive, err
}

// KeepAliveTask restarts the per-task timer (for the current task) and
// returns the nominal remaining duration; a pending task is reported as
// alive without actually starting a timer for it.
func (o *Orchestrator) KeepAliveTask(task int) (time.Duration, error) {
	var remaining time.Duration
	err := o.call(func() error {
		o.restartServiceTimer()
		if o.pending != nil && o.pending.ID == task {
			remaining = o.cfg.TaskKeepalive
			return nil
		}
		if o.current == nil || o.current.ID != task {
			return ErrUnknownTask
		}
		o.restartTaskTimer()
		remaining = o.cfg.TaskKeepalive
		return nil
	})
	return remaining, err
}

// State returns the current externally observable state.
func (o *Orchestrator) State() State {
	var s State
	o.call(func() error { s = o.state; return nil })
	return s
}

// CurrentTaskID returns the current task's id, or InvalidTask.
func (o *Orchestrator) CurrentTaskID() int {
	var id int
	o.call(func() error { id = o.currentTaskID(); return nil })
	return id
}

// ---- engine/source binding ----------------------------------------------

func keyFor(cfg models.Config, translate bool) EngineKey {
	return EngineKey{Kind: cfg.EngineKind, ModelFile: cfg.ModelFile, LangID: cfg.LangID, Speaker: cfg.Speaker, Translate: translate}
}

func (o *Orchestrator) bindSTTEngine(cfg models.Config, translate bool, mode sttengine.SpeechMode) error {
	if err := o.bindTTT(cfg); err != nil {
		o.logger.Warn("ttt restorer unavailable, final text will pass through unrestored", "error", err)
	}

	key := keyFor(cfg, translate)
	if o.sttEngine != nil && o.sttKeySet && o.sttKey == key {
		return nil
	}
	o.teardownSTTEngine()

	backend, err := o.sttFactory(cfg)
	if err != nil {
		return err
	}

	// A quarter-second frame-block at the configured sample rate, 16-bit mono.
	frameBlockBytes := o.cfg.SampleRate * o.cfg.Channels * 2 / 4
	if frameBlockBytes <= 0 {
		frameBlockBytes = 4096
	}
	o.sttBuf = buffer.New(frameBlockBytes)
	engine := sttengine.New(sttengine.Config{
		ModelFile:         cfg.ModelFile,
		ScorerFile:        cfg.ScorerFile,
		LangID:            cfg.LangID,
		Mode:              mode,
		VADAggressiveness: o.cfg.VADAggressiveness,
		Translate:         translate,
		MinTextSize:       o.cfg.MinTextSize,
	}, backend, o.sttBuf, sttengine.Callbacks{
		TextDecoded:                  func(text string) { o.post(func() { o.onSTTTextDecoded(text) }) },
		IntermediateTextDecoded:      func(text string) { o.post(func() { o.onSTTIntermediateTextDecoded(text) }) },
		SpeechDetectionStatusChanged: func(status sttengine.Status) { o.post(func() { o.onSpeechStatusChanged(status) }) },
		SentenceTimeout:              func() { o.post(func() { o.onSentenceTimeout() }) },
		EOF:                          func() { o.post(func() { o.onSTTEOF() }) },
		Error:                        func(err error) { o.post(func() { o.onSTTEngineError(err) }) },
	})

	o.sttEngine = engine
	o.sttKey = key
	o.sttKeySet = true
	engine.Start()
	return nil
}

func (o *Orchestrator) teardownSTTEngine() {
	if o.sttEngine != nil {
		o.sttEngine.Stop()
		o.sttEngine = nil
		o.sttKeySet = false
	}
	o.teardownTTT()
}

// bindTTT attaches the punctuation-restoration backend named by cfg's
// attached TTT triplet, reused across tasks the same way bindSTTEngine
// reuses its own engine. A Config with no TTT model attached tears any
// existing restorer down; a nil tttFactory leaves restoration disabled
// without surfacing an error.
func (o *Orchestrator) bindTTT(cfg models.Config) error {
	if cfg.TTTModelID == "" {
		o.teardownTTT()
		return nil
	}
	key := EngineKey{Kind: cfg.TTTEngineKind, ModelFile: cfg.TTTModelFile, LangID: cfg.LangID}
	if o.tttRestorer != nil && o.tttKeySet && o.tttKey == key {
		return nil
	}
	if o.tttFactory == nil {
		o.teardownTTT()
		return nil
	}
	restorer, err := o.tttFactory(cfg)
	if err != nil {
		o.teardownTTT()
		return err
	}
	o.tttRestorer = restorer
	o.tttKey = key
	o.tttKeySet = true
	return nil
}

func (o *Orchestrator) teardownTTT() {
	o.tttRestorer = nil
	o.tttKeySet = false
}

func (o *Orchestrator) bindTTSEngine(cfg models.Config) error {
	key := keyFor(cfg, false)
	if o.ttsEngine != nil && o.ttsKeySet && o.ttsKey == key {
		return nil
	}
	o.teardownTTSEngine()

	backend, err := o.ttsFactory(cfg)
	if err != nil {
		return err
	}

	engine := ttsengine.New(ttsengine.Config{ModelFile: cfg.ModelFile, Speaker: cfg.Speaker}, backend, ttsengine.Callbacks{
		SpeechEncoded: func(path string) { o.post(func() { o.onSpeechEncoded(path) }) },
		Error:         func(err error) { o.post(func() { o.onTTSEngineError(err) }) },
	})
	o.ttsEngine = engine
	o.ttsKey = key
	o.ttsKeySet = true
	return nil
}

func (o *Orchestrator) teardownTTSEngine() {
	if o.ttsEngine != nil {
		o.ttsEngine = nil
		o.ttsKeySet = false
	}
}

func (o *Orchestrator) bindMicSource() error {
	mic := audiosource.NewMicSource(o.cfg.SampleRate, o.cfg.Channels, audiosource.Callbacks{
		AudioAvailable: func(n int) { o.post(func() { o.pumpFrame(n) }) },
		Error:          func(err error) { o.post(func() { o.onSourceError(err) }) },
	})
	ctx, cancel := context.WithCancel(context.Background())
	if err := mic.Start(ctx); err != nil {
		cancel()
		return err
	}
	o.source = mic
	o.micSource = mic
	o.sourceKind = audiosource.KindMic
	o.sttCancel = cancel
	return nil
}

func (o *Orchestrator) bindFileSource(path string) error {
	path = strings.TrimPrefix(path, "file://")
	file := audiosource.NewFileSource(path, audiosource.Callbacks{
		AudioAvailable: func(n int) { o.post(func() { o.pumpFrame(n) }) },
		Progress:       func(p float64) { o.post(func() { o.onFileProgress(p) }) },
		EOF:            func() { o.post(func() { o.onFileEOF() }) },
		Error:          func(err error) { o.post(func() { o.onSourceError(err) }) },
	})
	ctx, cancel := context.WithCancel(context.Background())
	if err := file.Start(ctx); err != nil {
		cancel()
		return err
	}
	o.source = file
	o.micSource = nil
	o.sourceKind = audiosource.KindFile
	o.sttCancel = cancel
	return nil
}

func (o *Orchestrator) stopSource() {
	if o.sttCancel != nil {
		o.sttCancel()
		o.sttCancel = nil
	}
	if o.source != nil {
		o.source.Stop()
		o.source = nil
	}
	o.micSource = nil
	o.sourceKind = sourceKindNone
}

func (o *Orchestrator) hardStopSTT() {
	o.stopSource()
	o.teardownSTTEngine()
	if o.current != nil && o.current.Kind == TaskSTT {
		o.setCurrent(nil)
	} else {
		o.deriveState()
	}
}

func (o *Orchestrator) hardStopTTS() {
	o.teardownTTSEngine()
	if o.current != nil && o.current.Kind == TaskTTS {
		taskID := o.current.ID
		o.setCurrent(nil)
		o.emit(Signal{Kind: SigTtsPlaySpeechFinished, Task: taskID})
	} else {
		o.deriveState()
	}
}

func (o *Orchestrator) teardownLocked() {
	if o.sttEngine != nil {
		o.sttEngine.Stop()
	}
	if o.source != nil {
		o.source.Stop()
	}
	if o.serviceTimer != nil {
		o.serviceTimer.Stop()
	}
	if o.taskTimer != nil {
		o.taskTimer.Stop()
	}
}

// ---- frame pump -----------------------------------------------------------

func (o *Orchestrator) pumpFrame(n int) {
	if o.sttEngine == nil || o.source == nil {
		return
	}

	if o.sourceKind == audiosource.KindMic && o.sttEngine.ProjectedStatus() == sttengine.StatusInitializing {
		if o.micSource != nil {
			o.micSource.Clear()
		}
		return
	}

	region := o.sttBuf.Borrow()
	if region == nil {
		return
	}
	if n > len(region) {
		n = len(region)
	}
	read, err := o.source.Read(region[:n])
	if err != nil {
		o.sttBuf.Return(0, false, true)
		return
	}

	sof := o.sttBuf.Size() == 0
	// A zero-byte, error-free read from a file source is FileSource's
	// end-of-stream signal (it already fired its own EOF callback); latch it
	// into the shared buffer so the backend's next Data() call sees eof too.
	// A zero-byte mic read only means no audio is buffered yet.
	o.sttBuf.Return(read, sof, read == 0 && o.sourceKind == audiosource.KindFile)
}

// ---- engine callback handlers ----------------------------------------------

func (o *Orchestrator) onSTTTextDecoded(text string) {
	if o.current == nil {
		return
	}
	attributeTo := o.current
	if o.prev != nil && o.lastIntermediateValid && o.lastIntermediateTaskID == o.prev.ID {
		attributeTo = o.prev
		o.prev = nil
	}

	if restorer := o.tttRestorer; restorer != nil {
		taskID, langID, modelID := attributeTo.ID, attributeTo.LangID, attributeTo.ModelID
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			restored, err := restorer.Restore(ctx, text)
			if err != nil {
				restored = text
			}
			o.post(func() {
				o.emit(Signal{Kind: SigSttTextDecoded, Task: taskID, Text: restored, LangID: langID, ModelID: modelID})
			})
		}()
	} else {
		o.emit(Signal{Kind: SigSttTextDecoded, Task: attributeTo.ID, Text: text, LangID: attributeTo.LangID, ModelID: attributeTo.ModelID})
	}

	if o.current.Mode == sttengine.ModeSingleSentence {
		o.hardStopSTT()
	}
}

func (o *Orchestrator) onSTTIntermediateTextDecoded(text string) {
	if o.current == nil {
		return
	}
	o.lastIntermediateTaskID = o.current.ID
	o.lastIntermediateValid = true
	o.emit(Signal{Kind: SigSttIntermediateTextDecoded, Task: o.current.ID, Text: text, LangID: o.current.LangID})
}

func (o *Orchestrator) onSpeechStatusChanged(status sttengine.Status) {
	o.emit(Signal{Kind: SigSpeechChanged, Speech: status})
	o.deriveState()
}

func (o *Orchestrator) onSentenceTimeout() {
	if o.sttEngine != nil {
		o.sttEngine.Flush(sttengine.FlushRegular)
	}
}

func (o *Orchestrator) onSTTEOF() {
	if o.current == nil {
		return
	}
	o.emit(Signal{Kind: SigSttFileFinished, Task: o.current.ID})
	o.stopSource()
	o.teardownSTTEngine()

	if o.sourceKind == sourceKindNone && o.pending != nil {
		// stt_start_listen queued a mic session while this file task ran
		// it takes over now that the file has finished.
		pending := o.pending
		o.pending = nil
		cfg, ok := o.resolver.Resolve(models.RoleSTT, "", o.cfg.DefaultSTTLang, o.cfg.PunctuationRestore)
		if ok {
			if err := o.bindSTTEngine(cfg, false, pending.Mode); err == nil {
				if err := o.bindMicSource(); err == nil {
					if pending.Mode == sttengine.ModeManual || pending.Mode == sttengine.ModeSingleSentence {
						o.sttEngine.SetSpeechStarted(true)
					}
					o.setCurrent(pending)
					return
				}
			}
		}
	}

	o.setCurrent(nil)
}

func (o *Orchestrator) onFileProgress(p float64) {
	o.fileProgress = p
	if o.current != nil {
		o.emit(Signal{Kind: SigSttFileProgress, Task: o.current.ID, Progress: p})
	}
}

func (o *Orchestrator) onFileEOF() {
	o.fileProgress = 1
	// The file may have delivered its last chunk and hit EOF within the
	// same Read call (pumpFrame's read count was nonzero), in which case
	// the shared buffer's own eof latch never got set. Latching it here
	// wakes a backend blocked in ProcessBuff so it flushes the tail.
	if o.sttBuf != nil && o.sourceKind == audiosource.KindFile {
		o.sttBuf.Return(0, false, true)
	}
}

func (o *Orchestrator) onSourceError(err error) {
	o.logger.Error("audio source error", "error", err)
	o.emit(Signal{Kind: SigErrorOccured, Code: 1})
	if o.sourceKind == audiosource.KindFile {
		if o.current != nil {
			_ = o.doCancel(o.current.ID)
		}
	} else {
		o.hardStopSTT()
	}
}

// onSTTEngineError is handle_stt_engine_error: cancels the current task
// (via the unguarded internal path) and resets the STT engine.
func (o *Orchestrator) onSTTEngineError(err error) {
	o.logger.Error("stt engine error", "error", err)
	o.emit(Signal{Kind: SigErrorOccured, Code: 2})
	if o.current != nil && o.current.Kind == TaskSTT {
		o.internalCancel(o.current.ID)
	}
	if o.sttEngine != nil {
		o.sttEngine.Reset()
	}
}

// onTTSEngineError is handle_tts_engine_error: cancels the current task
// and resets the **TTS** engine (the original source's copy-paste bug,
// fixed here).
func (o *Orchestrator) onTTSEngineError(err error) {
	o.logger.Error("tts engine error", "error", err)
	o.emit(Signal{Kind: SigErrorOccured, Code: 3})
	if o.current != nil && o.current.Kind == TaskTTS {
		o.internalCancel(o.current.ID)
	}
	o.teardownTTSEngine()
}

func (o *Orchestrator) onSpeechEncoded(path string) {
	if o.current == nil || o.current.Kind != TaskTTS {
		return
	}
	taskID := o.current.ID
	o.emit(Signal{Kind: SigTtsPlaySpeechFinished, Task: taskID})
	o.setCurrent(nil)
}
