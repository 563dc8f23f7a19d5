package speechd

import (
	"github.com/lokutor-ai/speechd/pkg/orchestrator"
	"github.com/lokutor-ai/speechd/pkg/sttengine"
)

// Speech mode and return-code constants carry the external contract's
// numeric encodings; the speech modes take their values from
// sttengine.SpeechMode.
const (
	ModeManual         = int(sttengine.ModeManual)
	ModeAutomatic      = int(sttengine.ModeAutomatic)
	ModeSingleSentence = int(sttengine.ModeSingleSentence)

	Success     = 0
	Failure     = -1
	InvalidTask = orchestrator.InvalidTask
)

// Service is the external surface: every method is a synchronous request
// forwarded to the orchestrator, translated to the plain int/string/
// float64 shapes an IPC boundary would carry instead of Go-native types.
type Service struct {
	orch *orchestrator.Orchestrator
}

// New builds a Service around an already-constructed orchestrator. Start
// must be called before issuing requests.
func New(orch *orchestrator.Orchestrator) *Service {
	return &Service{orch: orch}
}

// Start launches the orchestrator's command loop.
func (s *Service) Start() { s.orch.Start() }

// Close shuts the service down.
func (s *Service) Close() { s.orch.Close() }

// Events returns the signal stream clients observe.
func (s *Service) Events() <-chan orchestrator.Signal { return s.orch.Events() }

// SttStartListen starts a microphone-sourced STT task.
func (s *Service) SttStartListen(mode int, lang string, translate bool) int {
	id, err := s.orch.SttStartListen(sttengine.SpeechMode(mode), lang, translate)
	if err != nil {
		return Failure
	}
	return id
}

// SttStopListen stops a microphone-sourced STT task.
func (s *Service) SttStopListen(task int) int {
	if err := s.orch.SttStopListen(task); err != nil {
		return Failure
	}
	return Success
}

// SttTranscribeFile starts a file-sourced STT task. path may carry an
// optional file:// scheme.
func (s *Service) SttTranscribeFile(path, lang string, translate bool) int {
	id, err := s.orch.SttTranscribeFile(path, lang, translate)
	if err != nil {
		return Failure
	}
	return id
}

// SttGetFileTranscribeProgress returns a fraction in [0,1], or -1 if task
// is not the current file-transcription task.
func (s *Service) SttGetFileTranscribeProgress(task int) float64 {
	p, err := s.orch.SttGetFileTranscribeProgress(task)
	if err != nil {
		return -1
	}
	return p
}

// TtsPlaySpeech synthesizes and plays text.
func (s *Service) TtsPlaySpeech(text, lang string) int {
	id, err := s.orch.TtsPlaySpeech(text, lang)
	if err != nil {
		return Failure
	}
	return id
}

// TtsStopSpeech stops speech playback.
func (s *Service) TtsStopSpeech(task int) int {
	if err := s.orch.TtsStopSpeech(task); err != nil {
		return Failure
	}
	return Success
}

// Cancel cancels task, rejected while the service is busy.
func (s *Service) Cancel(task int) int {
	if err := s.orch.Cancel(task); err != nil {
		return Failure
	}
	return Success
}

// Reload re-queries model availability and republishes the catalog
// property-change signals.
func (s *Service) Reload() int {
	if err := s.orch.Reload(); err != nil {
		return Failure
	}
	return Success
}

// KeepAliveService restarts the service keepalive timer, returning the
// nominal remaining duration in milliseconds.
func (s *Service) KeepAliveService() int64 {
	d, _ := s.orch.KeepAliveService()
	return d.Milliseconds()
}

// KeepAliveTask restarts the current task's keepalive timer and returns
// the nominal remaining duration in milliseconds. For a pending task it
// returns the same nominal duration without starting a timer. Returns -1
// if task is unknown.
func (s *Service) KeepAliveTask(task int) int64 {
	d, err := s.orch.KeepAliveTask(task)
	if err != nil {
		return -1
	}
	return d.Milliseconds()
}

// State returns the current externally observable state.
func (s *Service) State() orchestrator.State { return s.orch.State() }

// CurrentTaskID returns the current task's id, or InvalidTask.
func (s *Service) CurrentTaskID() int { return s.orch.CurrentTaskID() }
