package tts

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"
)

// Piper runs a local piper-style ONNX voice graph via onnxruntime-purego,
// the session/value lifecycle grounded on CWBudde-go-pocket-tts's
// internal/onnx/runner.go (runtime -> env -> session, tensors in, tensors
// out, explicit Close on every ORT value). It backs the tts_piper
// engine_kind: fully offline, CPU-bound synthesis with one voice per
// graph (Synthesize does not use its speaker argument) and no network
// round trip.
type Piper struct {
	LibraryPath string
	ModelPath   string
	SampleRate  int

	mu      sync.Mutex
	runtime *ort.Runtime
	env     *ort.Env
	session *ort.Session
}

// NewPiper builds a Piper backend. libraryPath points at libonnxruntime.so;
// modelPath at the piper voice's .onnx graph.
func NewPiper(libraryPath, modelPath string, sampleRate int) *Piper {
	if sampleRate <= 0 {
		sampleRate = 22050
	}
	return &Piper{LibraryPath: libraryPath, ModelPath: modelPath, SampleRate: sampleRate}
}

// Init lazily loads the ORT runtime and the voice's session graph.
func (p *Piper) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		return nil
	}

	runtime, err := ort.NewRuntime(p.LibraryPath, 23)
	if err != nil {
		return fmt.Errorf("tts: piper ort runtime: %w", err)
	}
	env, err := runtime.NewEnv("speechd-piper", ort.LoggingLevelWarning)
	if err != nil {
		runtime.Close()
		return fmt.Errorf("tts: piper ort env: %w", err)
	}
	session, err := runtime.NewSession(env, p.ModelPath, nil)
	if err != nil {
		env.Close()
		runtime.Close()
		return fmt.Errorf("tts: piper ort session %q: %w", p.ModelPath, err)
	}

	p.runtime, p.env, p.session = runtime, env, session
	return nil
}

// Synthesize maps text to phoneme ids itself (textToPhonemeIDs), runs
// them through the voice graph and returns the float32 PCM the graph
// emits, converted to mono 16-bit. The speaker argument is not used.
func (p *Piper) Synthesize(text, speaker string) ([]byte, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	phonemeIDs := textToPhonemeIDs(text)
	scales := []float32{0.667, 1.0, 0.8} // noise_scale, length_scale, noise_w — piper's standard defaults

	idsTensor, err := ort.NewTensorValue(p.runtime, phonemeIDs, []int64{1, int64(len(phonemeIDs))})
	if err != nil {
		return nil, 0, fmt.Errorf("tts: piper input tensor: %w", err)
	}
	defer idsTensor.Close()

	lengthsTensor, err := ort.NewTensorValue(p.runtime, []int64{int64(len(phonemeIDs))}, []int64{1})
	if err != nil {
		return nil, 0, fmt.Errorf("tts: piper lengths tensor: %w", err)
	}
	defer lengthsTensor.Close()

	scalesTensor, err := ort.NewTensorValue(p.runtime, scales, []int64{3})
	if err != nil {
		return nil, 0, fmt.Errorf("tts: piper scales tensor: %w", err)
	}
	defer scalesTensor.Close()

	ctx := context.Background()
	inputs := map[string]*ort.Value{
		"input":        idsTensor,
		"input_lengths": lengthsTensor,
		"scales":        scalesTensor,
	}
	outputs, err := p.session.Run(ctx, inputs)
	if err != nil {
		return nil, 0, fmt.Errorf("tts: piper run: %w", err)
	}
	defer func() {
		for _, v := range outputs {
			v.Close()
		}
	}()

	out, ok := outputs["output"]
	if !ok {
		return nil, 0, fmt.Errorf("tts: piper graph has no 'output' tensor")
	}
	samples, _, err := ort.GetTensorData[float32](out)
	if err != nil {
		return nil, 0, fmt.Errorf("tts: piper output tensor: %w", err)
	}

	return float32PCMToInt16(samples), p.SampleRate, nil
}

func (p *Piper) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		p.session.Close()
		p.session = nil
	}
	if p.env != nil {
		p.env.Close()
		p.env = nil
	}
	if p.runtime != nil {
		p.runtime.Close()
		p.runtime = nil
	}
}

// textToPhonemeIDs is a stand-in grapheme-to-id mapper; a production voice
// ships its own phoneme table alongside the .onnx graph.
func textToPhonemeIDs(text string) []int64 {
	ids := make([]int64, 0, len(text)+2)
	ids = append(ids, 1) // BOS, piper convention
	for _, r := range text {
		ids = append(ids, int64(r))
	}
	ids = append(ids, 2) // EOS
	return ids
}

func float32PCMToInt16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(s * 32767)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
