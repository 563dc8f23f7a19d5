package speechd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/speechd/pkg/models"
	"github.com/lokutor-ai/speechd/pkg/orchestrator"
	"github.com/lokutor-ai/speechd/pkg/ttsengine"
)

type stubTTSBackend struct{}

func (stubTTSBackend) Init() error { return nil }
func (stubTTSBackend) Synthesize(text, speaker string) ([]byte, int, error) {
	return make([]byte, 320), 16000, nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	catalog := []models.Descriptor{
		{ID: "tts-en", LangID: "en", EngineKind: models.EngineTTSCoqui, Name: "Test TTS", DefaultForLang: true},
	}
	resolver := models.NewResolver(catalog)
	cfg := orchestrator.DefaultConfig()
	cfg.ServiceKeepalive = 0
	cfg.TaskKeepalive = 0

	orch := orchestrator.New(cfg, resolver, nil,
		func(models.Config) (ttsengine.Backend, error) { return stubTTSBackend{}, nil },
		nil, nil)
	svc := New(orch)
	svc.Start()
	t.Cleanup(svc.Close)
	return svc
}

func TestServiceTtsPlaySpeechSuccessAndFailure(t *testing.T) {
	svc := newTestService(t)

	id := svc.TtsPlaySpeech("hi", "")
	require.NotEqual(t, Failure, id)

	// busy while the first utterance is still (synchronously, in this
	// stub) wrapping up playback is exercised at the orchestrator level;
	// here we only check an unknown task is reported as Failure.
	assert.Equal(t, Failure, svc.TtsStopSpeech(id+1000))
}

func TestServiceUnknownTaskReturnsFailure(t *testing.T) {
	svc := newTestService(t)
	assert.Equal(t, Failure, svc.Cancel(999))
	assert.Equal(t, float64(-1), svc.SttGetFileTranscribeProgress(999))
}

func TestServiceCurrentTaskIDStartsInvalid(t *testing.T) {
	svc := newTestService(t)
	assert.Equal(t, InvalidTask, svc.CurrentTaskID())
}

func TestServiceKeepAliveService(t *testing.T) {
	svc := newTestService(t)
	ms := svc.KeepAliveService()
	assert.Equal(t, int64(0), ms, "ServiceKeepalive was configured as 0 for this test")
}

func TestServiceKeepAliveUnknownTask(t *testing.T) {
	svc := newTestService(t)
	assert.Equal(t, int64(-1), svc.KeepAliveTask(123))
}

func TestServiceReload(t *testing.T) {
	svc := newTestService(t)
	assert.Equal(t, Success, svc.Reload())
}

func TestServiceEventsDeliversStateChange(t *testing.T) {
	svc := newTestService(t)
	svc.TtsPlaySpeech("hello", "")

	select {
	case sig := <-svc.Events():
		_ = sig // any signal arriving confirms the channel is wired through
	case <-time.After(2 * time.Second):
		t.Fatal("expected at least one signal after TtsPlaySpeech")
	}
}
