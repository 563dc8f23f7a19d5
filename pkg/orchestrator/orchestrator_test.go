package orchestrator

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/speechd/pkg/models"
	"github.com/lokutor-ai/speechd/pkg/sttengine"
	"github.com/lokutor-ai/speechd/pkg/ttsengine"
)

// stubTTSBackend returns a fixed, tiny PCM payload without touching any
// real synthesis engine.
type stubTTSBackend struct {
	pcm   []byte
	delay time.Duration
}

func (s *stubTTSBackend) Init() error { return nil }
func (s *stubTTSBackend) Synthesize(text, speaker string) ([]byte, int, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.pcm, 16000, nil
}

// stubSTTBackend emits a single fixed final text once the buffer reports
// data (or eof), mirroring pkg/backends/stt/cloud.go's acquire/flush shape
// without making a network call.
type stubSTTBackend struct{ text string }

func (s *stubSTTBackend) StartProcessingImpl() error { return nil }
func (s *stubSTTBackend) StopProcessingImpl()        {}
func (s *stubSTTBackend) ResetImpl()                 {}
func (s *stubSTTBackend) ProcessBuff(e *sttengine.Engine) (sttengine.ProcessResult, error) {
	buf := e.Buffer()
	if !buf.AcquireForProcessing() {
		return sttengine.WaitForSamples, nil
	}
	defer buf.ReleaseProcessed()

	data, eof := buf.Data()
	if len(data) > 0 {
		e.SetIntermediateText(s.text)
		e.Flush(sttengine.FlushRegular)
	}
	if eof {
		e.Flush(sttengine.FlushEOF)
	}
	return sttengine.WaitForSamples, nil
}

// stubRestorer appends a fixed suffix, standing in for a real ttt_hftc call.
type stubRestorer struct{ suffix string }

func (r *stubRestorer) Restore(_ context.Context, text string) (string, error) {
	return text + r.suffix, nil
}

func newTestOrchestrator(t *testing.T, catalog []models.Descriptor, sttText string, ttt *stubRestorer) *Orchestrator {
	t.Helper()
	resolver := models.NewResolver(catalog)
	cfg := DefaultConfig()
	cfg.ServiceKeepalive = 0
	cfg.TaskKeepalive = 0
	if ttt != nil {
		cfg.PunctuationRestore = true
	}

	var tttFactory TTTBackendFactory
	if ttt != nil {
		tttFactory = func(models.Config) (TTTRestorer, error) { return ttt, nil }
	}

	o := New(cfg, resolver,
		func(models.Config) (sttengine.Backend, error) { return &stubSTTBackend{text: sttText}, nil },
		func(models.Config) (ttsengine.Backend, error) { return &stubTTSBackend{pcm: make([]byte, 320)}, nil },
		tttFactory,
		nil,
	)
	o.Start()
	t.Cleanup(o.Close)
	return o
}

func waitForSignal(t *testing.T, o *Orchestrator, kind SignalKind, timeout time.Duration) Signal {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case sig := <-o.Events():
			if sig.Kind == kind {
				return sig
			}
		case <-deadline:
			t.Fatalf("timed out waiting for signal kind %v", kind)
		}
	}
}

func ttsCatalog() []models.Descriptor {
	return []models.Descriptor{
		{ID: "tts-en", LangID: "en", EngineKind: models.EngineTTSCoqui, Name: "Test TTS", DefaultForLang: true},
	}
}

func TestTtsPlaySpeechEmitsFinishedSignal(t *testing.T) {
	o := newTestOrchestrator(t, ttsCatalog(), "", nil)

	id, err := o.TtsPlaySpeech("hello there", "")
	require.NoError(t, err)
	require.NotEqual(t, InvalidTask, id)

	sig := waitForSignal(t, o, SigTtsPlaySpeechFinished, 2*time.Second)
	assert.Equal(t, id, sig.Task)
	assert.Equal(t, InvalidTask, o.CurrentTaskID())
	assert.Equal(t, StateIdle, o.State())
}

func TestTtsPlaySpeechRejectedWhileBusy(t *testing.T) {
	resolver := models.NewResolver(ttsCatalog())
	cfg := DefaultConfig()
	cfg.ServiceKeepalive = 0
	cfg.TaskKeepalive = 0

	o := New(cfg, resolver,
		nil,
		func(models.Config) (ttsengine.Backend, error) {
			return &stubTTSBackend{pcm: make([]byte, 320), delay: 200 * time.Millisecond}, nil
		},
		nil, nil,
	)
	o.Start()
	t.Cleanup(o.Close)

	_, err := o.TtsPlaySpeech("first utterance, still encoding", "")
	require.NoError(t, err)

	_, err = o.TtsPlaySpeech("second utterance", "")
	assert.ErrorIs(t, err, ErrBusy)

	waitForSignal(t, o, SigTtsPlaySpeechFinished, 2*time.Second)
}

func TestSttStartListenNoModelReturnsErrNoModel(t *testing.T) {
	o := newTestOrchestrator(t, ttsCatalog(), "", nil) // catalog has no STT model

	_, err := o.SttStartListen(sttengine.ModeAutomatic, "", false)
	assert.ErrorIs(t, err, ErrNoModel)
}

func TestCancelUnknownTaskReturnsErrUnknownTask(t *testing.T) {
	o := newTestOrchestrator(t, ttsCatalog(), "", nil)
	err := o.Cancel(999)
	assert.ErrorIs(t, err, ErrUnknownTask)
}

// writeTestWAV writes a minimal 16-bit mono PCM WAV file. Callers pass a
// sample count larger than one quarter-second frame block (4000 samples
// at 16kHz) to exercise the multi-chunk AudioAvailable/Read drain path,
// not just a single-block file.
func writeTestWAV(t *testing.T, samples int) string {
	t.Helper()
	pcm := make([]int16, samples)
	for i := range pcm {
		pcm[i] = int16(i % 100)
	}

	data := &bytes.Buffer{}
	for _, s := range pcm {
		binary.Write(data, binary.LittleEndian, s)
	}

	buf := &bytes.Buffer{}
	dataLen := data.Len()
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint32(16000))
	binary.Write(buf, binary.LittleEndian, uint32(16000*2))
	binary.Write(buf, binary.LittleEndian, uint16(2))
	binary.Write(buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(data.Bytes())

	path := filepath.Join(t.TempDir(), "sample.wav")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func sttCatalogWithTTT() []models.Descriptor {
	return []models.Descriptor{
		{ID: "stt-en", LangID: "en", EngineKind: models.EngineSTTVosk, Name: "Test STT", DefaultForLang: true},
		{ID: "ttt-en", LangID: "en", EngineKind: models.EngineTTTHFTC, Name: "Test TTT", DefaultForLang: true},
	}
}

func TestSttTranscribeFileAppliesPunctuationRestoration(t *testing.T) {
	path := writeTestWAV(t, 20000)
	o := newTestOrchestrator(t, sttCatalogWithTTT(), "hello world", &stubRestorer{suffix: "."})

	id, err := o.SttTranscribeFile(path, "", false)
	require.NoError(t, err)

	sig := waitForSignal(t, o, SigSttTextDecoded, 3*time.Second)
	assert.Equal(t, id, sig.Task)
	assert.Equal(t, "hello world.", sig.Text, "restorer's suffix must be applied to the final text")

	waitForSignal(t, o, SigSttFileFinished, 3*time.Second)
}

func TestSttTranscribeFileWithoutRestorerPassesTextThrough(t *testing.T) {
	path := writeTestWAV(t, 20000)
	o := newTestOrchestrator(t, sttCatalogWithTTT(), "hello world", nil)

	id, err := o.SttTranscribeFile(path, "", false)
	require.NoError(t, err)

	sig := waitForSignal(t, o, SigSttTextDecoded, 3*time.Second)
	assert.Equal(t, id, sig.Task)
	assert.Equal(t, "hello world", sig.Text)
}

func TestNextTaskIDWrapsAroundInvalidTask(t *testing.T) {
	o := &Orchestrator{nextID: InvalidTask}
	id := o.nextTaskID()
	assert.Equal(t, 0, id)
	assert.Equal(t, 1, o.nextID)
}

func TestKeyForIncludesTranslateAndSpeaker(t *testing.T) {
	cfg := models.Config{EngineKind: models.EngineTTSCoqui, ModelFile: "m.onnx", LangID: "en", Speaker: "p1"}
	a := keyFor(cfg, false)
	b := keyFor(cfg, true)
	assert.NotEqual(t, a, b, "translate must be part of the reuse key")
	other := cfg
	other.Speaker = "p2"
	assert.NotEqual(t, a, keyFor(other, false), "speaker must be part of the reuse key")
}
