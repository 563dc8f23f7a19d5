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

// Cloud drives a cloud transcription API over the same multipart/form-data
// upload pattern as pkg/providers/stt/groq.go (API key header,
// WAV-encoded upload, JSON {text} response), generalized to any endpoint
// speaking that protocol. It backs the stt_ds engine_kind: the deepspeech
// family's successor, a hosted general-purpose ASR service.
//
// Unlike Sherpa, this backend has no recognizer-embedded VAD, so in
// automatic mode it runs its own sttengine.RMSVAD over each acquired
// frame-block to decide speech-start/speech-end the way the spec
// requires, accumulating PCM while the VAD reports speech and
// transcribing the collected segment once it reports speech-end.
type Cloud struct {
	Endpoint   string
	APIKey     string
	Model      string
	Language   string
	SampleRate int

	client    *http.Client
	vad       *sttengine.RMSVAD
	speechPCM []byte
}

// NewCloud builds a Cloud STT backend targeting endpoint (a Groq/OpenAI
// compatible /audio/transcriptions URL). vadAggressiveness (0..3) tunes
// the automatic-mode speech-start/-end detector.
func NewCloud(endpoint, apiKey, model, language string, sampleRate, vadAggressiveness int) *Cloud {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Cloud{
		Endpoint:   endpoint,
		APIKey:     apiKey,
		Model:      model,
		Language:   language,
		SampleRate: sampleRate,
		client:     &http.Client{Timeout: 30 * time.Second},
		vad:        sttengine.NewRMSVAD(vadAggressiveness, 500*time.Millisecond),
	}
}

func (c *Cloud) StartProcessingImpl() error { return nil }
func (c *Cloud) StopProcessingImpl()        {}
func (c *Cloud) ResetImpl() {
	c.vad.Reset()
	c.speechPCM = nil
}

func (c *Cloud) ProcessBuff(e *sttengine.Engine) (sttengine.ProcessResult, error) {
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
		return c.processAutomatic(e, data, eof)
	}

	text, err := c.transcribe(context.Background(), data)
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
func (c *Cloud) processAutomatic(e *sttengine.Engine, data []byte, eof bool) (sttengine.ProcessResult, error) {
	event := c.vad.Process(data)

	status := sttengine.NoSpeech
	if c.vad.IsSpeaking() {
		status = sttengine.SpeechDetected
		c.speechPCM = append(c.speechPCM, data...)
	}
	e.SetSpeechDetectionStatus(status)

	speechEnded := event != nil && event.Type == sttengine.VADSpeechEnd
	if (speechEnded || eof) && len(c.speechPCM) > 0 {
		segment := c.speechPCM
		c.speechPCM = nil

		text, err := c.transcribe(context.Background(), segment)
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

func (c *Cloud) transcribe(ctx context.Context, pcm []byte) (string, error) {
	wavData := encodeWAV(pcm, c.SampleRate)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if c.Model != "" {
		if err := writer.WriteField("model", c.Model); err != nil {
			return "", err
		}
	}
	if c.Language != "" {
		if err := writer.WriteField("language", c.Language); err != nil {
			return "", err
		}
	}

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, bytes.NewReader(wavData)); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("stt: cloud endpoint returned HTTP %d: %s", resp.StatusCode, data)
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
