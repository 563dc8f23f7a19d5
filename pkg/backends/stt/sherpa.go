package stt

import (
	"encoding/binary"

	sherpa "github.com/k2-fsa/sherpa-onnx-go-linux/sherpa_onnx"
	"github.com/lokutor-ai/speechd/pkg/sttengine"
)

// Sherpa drives an offline sherpa-onnx recognizer plus its bundled Silero
// VAD, the API surface confirmed against agalue's
// internal/stt/recognizer.go (that repo wraps the same upstream types
// behind its own internal/sherpa package; this backend calls the real
// github.com/k2-fsa/sherpa-onnx-go-linux bindings directly). It backs the
// stt_vosk engine_kind: a fully local, non-streaming recognizer fed
// frame-blocks from the shared buffer, with VAD segmenting speech
// boundaries independently of the engine's own speech-mode policy.
type Sherpa struct {
	ModelConfig sherpa.OfflineModelConfig
	VADConfig   sherpa.VadModelConfig
	SampleRate  int

	recognizer *sherpa.OfflineRecognizer
	vad        *sherpa.VoiceActivityDetector
}

// NewSherpa builds a Sherpa backend. Callers populate ModelConfig fields
// (e.g. Whisper.Encoder/Decoder/Tokens, or a Paraformer/Transducer config)
// before Start; VADConfig.SileroVad.Model points at a silero_vad.onnx file.
func NewSherpa(modelConfig sherpa.OfflineModelConfig, vadConfig sherpa.VadModelConfig, sampleRate int) *Sherpa {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	vadConfig.SampleRate = sampleRate
	return &Sherpa{ModelConfig: modelConfig, VADConfig: vadConfig, SampleRate: sampleRate}
}

func (s *Sherpa) StartProcessingImpl() error {
	recCfg := &sherpa.OfflineRecognizerConfig{
		ModelConfig:    s.ModelConfig,
		DecodingMethod: "greedy_search",
	}
	s.recognizer = sherpa.NewOfflineRecognizer(recCfg)
	s.vad = sherpa.NewVoiceActivityDetector(&s.VADConfig, 30)
	return nil
}

func (s *Sherpa) StopProcessingImpl() {
	if s.vad != nil {
		sherpa.DeleteVoiceActivityDetector(s.vad)
		s.vad = nil
	}
	if s.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(s.recognizer)
		s.recognizer = nil
	}
}

func (s *Sherpa) ResetImpl() {
	if s.vad != nil {
		s.vad.Clear()
	}
}

// ProcessBuff feeds the acquired frame-block to the VAD sample-by-sample
// (as float32, sherpa-onnx's native sample format), decodes every segment
// the VAD completes, and flushes each as a regular text emission.
func (s *Sherpa) ProcessBuff(e *sttengine.Engine) (sttengine.ProcessResult, error) {
	buf := e.Buffer()
	if !buf.AcquireForProcessing() {
		return sttengine.WaitForSamples, nil
	}
	defer buf.ReleaseProcessed()

	data, eof := buf.Data()
	samples := pcm16ToFloat32(data)

	e.SetProcessingState(sttengine.StateDecoding)
	s.vad.AcceptWaveform(samples)

	wasSpeaking := s.vad.IsSpeech()
	status := sttengine.NoSpeech
	if wasSpeaking {
		status = sttengine.SpeechDetected
	}
	e.SetSpeechDetectionStatus(status)

	for !s.vad.IsEmpty() {
		segment := s.vad.Front()
		s.vad.Pop()
		if len(segment.Samples) == 0 {
			continue
		}

		stream := sherpa.NewOfflineStream(s.recognizer)
		stream.AcceptWaveform(s.SampleRate, segment.Samples)
		s.recognizer.Decode(stream)
		result := stream.GetResult()
		sherpa.DeleteOfflineStream(stream)

		if result.Text != "" {
			e.SetIntermediateText(result.Text)
			e.Flush(sttengine.FlushRegular)
		}
	}
	e.SetProcessingState(sttengine.StateIdle)

	if eof {
		e.Flush(sttengine.FlushEOF)
	}
	return sttengine.WaitForSamples, nil
}

func pcm16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		out[i] = float32(sample) / 32768.0
	}
	return out
}
