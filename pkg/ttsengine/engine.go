// Package ttsengine implements the TTS engine base (C4): async
// whole-utterance synthesis to a cached WAV file, with idle -> initializing
// -> encoding -> idle state reporting.
package ttsengine

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// State is the engine's async worker state, reported via the external
// integer speech sub-state (2 = encoding, 3 = initializing).
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateEncoding
)

// Backend synthesizes one utterance to raw 16-bit PCM. Concrete
// backends (tts_coqui, tts_piper) implement this; the engine base
// handles caching, async dispatch, and state reporting identically
// regardless of which is plugged in.
type Backend interface {
	// Init loads the backend; may take seconds. Called lazily on first
	// EncodeSpeech, mirroring the STT engine's StartProcessingImpl.
	Init() error
	// Synthesize renders text to raw PCM samples at the backend's native
	// sample rate, returning the sample rate used.
	Synthesize(text string, speaker string) (pcm []byte, sampleRate int, err error)
}

// Callbacks delivered by the engine.
type Callbacks struct {
	SpeechEncoded func(wavFilePath string)
	Error         func(err error)
}

// Config is construction-time configuration.
type Config struct {
	ModelFile string
	Speaker   string
	CacheDir  string
}

// Engine is the TTS engine base (C4). Only one synthesis is in flight at
// a time per instance; a second EncodeSpeech call while busy is
// rejected by the caller (the orchestrator), not queued here.
type Engine struct {
	cfg       Config
	backend   Backend
	callbacks Callbacks

	mu        sync.Mutex
	state     State
	initDone  bool
}

// New constructs a TTS engine bound to a backend.
func New(cfg Config, backend Backend, callbacks Callbacks) *Engine {
	if cfg.CacheDir == "" {
		cfg.CacheDir = os.TempDir()
	}
	return &Engine{cfg: cfg, backend: backend, callbacks: callbacks}
}

// State reports the engine's current async state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Busy reports whether a synthesis is currently in flight.
func (e *Engine) Busy() bool {
	s := e.State()
	return s == StateInitializing || s == StateEncoding
}

// cacheKey hashes the (model, speaker, text) tuple: identical inputs
// must resolve to the same cache file without resynthesizing.
func (e *Engine) cacheKey(text string) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s", e.cfg.ModelFile, e.cfg.Speaker, text)
	return hex.EncodeToString(h.Sum(nil))
}

func (e *Engine) cachePath(text string) string {
	return filepath.Join(e.cfg.CacheDir, e.cacheKey(text)+".wav")
}

// EncodeSpeech is non-blocking: it enqueues synthesis on a goroutine,
// which transitions idle -> initializing -> encoding -> idle, emitting
// SpeechEncoded(path) on success or Error on failure. If an identical
// (model, speaker, text) tuple was already synthesized, the cached file
// is reused without invoking the backend. The cache-hit stat happens on
// that same goroutine, not the caller's, so a slow cache filesystem never
// stalls whatever command loop is driving this engine.
func (e *Engine) EncodeSpeech(text string) {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return
	}
	e.state = StateInitializing
	e.mu.Unlock()

	go e.encode(text, e.cachePath(text))
}

func (e *Engine) encode(text, path string) {
	defer func() {
		e.mu.Lock()
		e.state = StateIdle
		e.mu.Unlock()
	}()

	if _, err := os.Stat(path); err == nil {
		if e.callbacks.SpeechEncoded != nil {
			e.callbacks.SpeechEncoded(path)
		}
		return
	}

	if !e.initDone {
		if err := e.backend.Init(); err != nil {
			e.fail(err)
			return
		}
		e.initDone = true
	}

	e.mu.Lock()
	e.state = StateEncoding
	e.mu.Unlock()

	pcm, sampleRate, err := e.backend.Synthesize(text, e.cfg.Speaker)
	if err != nil {
		e.fail(err)
		return
	}

	if err := os.MkdirAll(e.cfg.CacheDir, 0o755); err != nil {
		e.fail(err)
		return
	}
	if err := os.WriteFile(path, encodeWAV(pcm, sampleRate), 0o644); err != nil {
		e.fail(err)
		return
	}

	if e.callbacks.SpeechEncoded != nil {
		e.callbacks.SpeechEncoded(path)
	}
}

func (e *Engine) fail(err error) {
	if e.callbacks.Error != nil {
		e.callbacks.Error(err)
	}
}
