// Package stt contains the concrete Backend implementations plugged into
// pkg/sttengine.Engine for each STT engine_kind.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/lokutor-ai/speechd/pkg/sttengine"
)

// Whisper drives a local whisper.cpp HTTP server (whisper-server's
// POST /inference endpoint), the same batch-inference-over-REST pattern
// MrWong99-glyphoxa's pkg/provider/stt/whisper uses, adapted here to the
// engine's pull-based ProcessBuff contract instead of a push session API.
// whisper.cpp cannot stream partials, so each completed utterance is
// delivered as both the intermediate and the final text for that buffer.
//
// Like Cloud, this backend has no recognizer-embedded VAD, so automatic
// mode runs its own sttengine.RMSVAD to decide speech-start/-end instead
// of transcribing every frame-block regardless of silence.
type Whisper struct {
	ServerURL  string
	Language   string
	Model      string
	SampleRate int

	client    *http.Client
	vad       *sttengine.RMSVAD
	speechPCM []byte
}

// NewWhisper builds a Whisper backend targeting a running whisper-server.
// vadAggressiveness (0..3) tunes the automatic-mode speech-start/-end
// detector.
func NewWhisper(serverURL, language, model string, sampleRate, vadAggressiveness int) *Whisper {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Whisper{
		ServerURL:  serverURL,
		Language:   language,
		Model:      model,
		SampleRate: sampleRate,
		client:     &http.Client{Timeout: 30 * time.Second},
		vad:        sttengine.NewRMSVAD(vadAggressiveness, 500*time.Millisecond),
	}
}

func (w *Whisper) StartProcessingImpl() error { return nil }
func (w *Whisper) StopProcessingImpl()        {}
func (w *Whisper) ResetImpl() {
	w.vad.Reset()
	w.speechPCM = nil
}

// ProcessBuff acquires a full (or eof) frame, POSTs it as a WAV upload,
// and flushes the engine's intermediate buffer with the resulting text
// once the request completes. A backend this batch-oriented always asks
// the engine loop to wait for the next frame-block after processing one.
// In automatic mode, transcription is instead gated on the VAD reporting
// speech-end (see processAutomatic).
func (w *Whisper) ProcessBuff(e *sttengine.Engine) (sttengine.ProcessResult, error) {
	buf := e.Buffer()
	if !buf.AcquireForProcessing() {
		return sttengine.WaitForSamples, nil
	}
	defer buf.ReleaseProcessed()

	e.SetProcessingState(sttengine.StateDecoding)
	defer e.SetProcessingState(sttengine.StateIdle)

	data, eof := buf.Data()
	if len(data) == 0 {
		if eof {
			e.Flush(sttengine.FlushEOF)
		}
		return sttengine.WaitForSamples, nil
	}

	if e.Mode() == sttengine.ModeAutomatic {
		return w.processAutomatic(e, data, eof)
	}

	text, err := w.infer(context.Background(), data)
	if err != nil {
		return sttengine.WaitForSamples, err
	}

	if text != "" {
		e.SetIntermediateText(text)
		e.Flush(sttengine.FlushRegular)
	}
	if eof {
		e.Flush(sttengine.FlushEOF)
	}
	return sttengine.WaitForSamples, nil
}

// processAutomatic feeds the acquired block to the VAD, accumulating PCM
// while it reports speech, and transcribes + flushes the collected
// segment once the VAD reports speech-end (or eof cuts a segment short).
func (w *Whisper) processAutomatic(e *sttengine.Engine, data []byte, eof bool) (sttengine.ProcessResult, error) {
	event := w.vad.Process(data)

	status := sttengine.NoSpeech
	if w.vad.IsSpeaking() {
		status = sttengine.SpeechDetected
		w.speechPCM = append(w.speechPCM, data...)
	}
	e.SetSpeechDetectionStatus(status)

	speechEnded := event != nil && event.Type == sttengine.VADSpeechEnd
	if (speechEnded || eof) && len(w.speechPCM) > 0 {
		segment := w.speechPCM
		w.speechPCM = nil

		text, err := w.infer(context.Background(), segment)
		if err != nil {
			return sttengine.WaitForSamples, err
		}
		if text != "" {
			e.SetIntermediateText(text)
			e.Flush(sttengine.FlushRegular)
		}
	}
	if eof {
		e.Flush(sttengine.FlushEOF)
	}
	return sttengine.WaitForSamples, nil
}

func (w *Whisper) infer(ctx context.Context, pcm []byte) (string, error) {
	wavBody := encodeWAV(pcm, w.SampleRate)

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, bytes.NewReader(wavBody)); err != nil {
		return "", err
	}
	if w.Language != "" {
		if err := mw.WriteField("language", w.Language); err != nil {
			return "", err
		}
	}
	if w.Model != "" {
		if err := mw.WriteField("model", w.Model); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.ServerURL+"/inference", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("stt: whisper-server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", err
	}
	return result.Text, nil
}
