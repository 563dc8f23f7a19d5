package ttsengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	calls int
	pcm   []byte
}

func (f *fakeBackend) Init() error { return nil }

func (f *fakeBackend) Synthesize(text, speaker string) ([]byte, int, error) {
	f.calls++
	return f.pcm, 16000, nil
}

func TestEncodeSpeechReusesCache(t *testing.T) {
	dir := t.TempDir()
	backend := &fakeBackend{pcm: []byte{1, 2, 3, 4}}

	done := make(chan string, 2)
	e := New(Config{CacheDir: dir, ModelFile: "m", Speaker: "s"}, backend, Callbacks{
		SpeechEncoded: func(path string) { done <- path },
	})

	e.EncodeSpeech("hello world")
	path1 := <-done
	require.NotEmpty(t, path1)

	e.EncodeSpeech("hello world")
	path2 := <-done
	assert.Equal(t, path1, path2)
	assert.Equal(t, 1, backend.calls, "second call with identical tuple must reuse the cache, not resynthesize")
}

func TestEncodeSpeechTransitionsIdleBusyIdle(t *testing.T) {
	dir := t.TempDir()
	backend := &fakeBackend{pcm: []byte{1, 2}}
	done := make(chan struct{})
	e := New(Config{CacheDir: dir}, backend, Callbacks{
		SpeechEncoded: func(string) { close(done) },
	})

	assert.Equal(t, StateIdle, e.State())
	e.EncodeSpeech("hi")
	<-done

	// allow the deferred state reset to run
	assert.Eventually(t, func() bool { return e.State() == StateIdle }, time.Second, time.Millisecond)
}

func TestEncodeSpeechRejectsSecondWhileBusy(t *testing.T) {
	dir := t.TempDir()
	backend := &fakeBackend{pcm: []byte{1, 2}}
	e := New(Config{CacheDir: dir}, backend, Callbacks{})

	e.mu.Lock()
	e.state = StateEncoding
	e.mu.Unlock()

	e.EncodeSpeech("some text that is not cached")
	assert.Equal(t, 0, backend.calls, "busy engine must not start a second synthesis")
}
