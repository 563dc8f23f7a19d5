package audiosource

import (
	"context"
	"sync"

	"github.com/gen2brain/malgo"
)

// MicSource captures 16-bit mono PCM from the default capture device via
// malgo, in the device-callback + ring-buffer pattern
// cmd/agent/main.go and agalue-sherpa-voice-assistant's
// internal/audio/capture.go both use, generalized behind the Source
// contract instead of being wired ad hoc into a CLI's main func.
type MicSource struct {
	sampleRate int
	channels   int

	mu     sync.Mutex
	pcm    []byte
	device *malgo.Device
	ctx    *malgo.AllocatedContext
	cb     Callbacks
	closed bool
}

// NewMicSource builds a mic source at the given sample rate/channels.
func NewMicSource(sampleRate, channels int, cb Callbacks) *MicSource {
	return &MicSource{sampleRate: sampleRate, channels: channels, cb: cb}
}

func (m *MicSource) Kind() Kind { return KindMic }

func (m *MicSource) Start(ctx context.Context) error {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(m.channels)
	deviceConfig.SampleRate = uint32(m.sampleRate)

	onSamples := func(_, input []byte, _ uint32) {
		if len(input) == 0 {
			return
		}
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		m.pcm = append(m.pcm, input...)
		n := len(input)
		m.mu.Unlock()

		if m.cb.AudioAvailable != nil {
			m.cb.AudioAvailable(n)
		}
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		mctx.Uninit()
		return err
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		mctx.Uninit()
		return err
	}

	m.mu.Lock()
	m.device = device
	m.ctx = mctx
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.Stop()
	}()

	return nil
}

// Read drains up to len(p) accumulated bytes, oldest first.
func (m *MicSource) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed && len(m.pcm) == 0 {
		return 0, ErrSourceClosed
	}
	n := copy(p, m.pcm)
	m.pcm = m.pcm[n:]
	return n, nil
}

// Clear discards any accumulated-but-unread audio, used by the
// orchestrator's frame pump while the bound engine is still
// initializing (no frames are pushed during warm-up).
func (m *MicSource) Clear() {
	m.mu.Lock()
	m.pcm = m.pcm[:0]
	m.mu.Unlock()
}

func (m *MicSource) Stop() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	device, ctx := m.device, m.ctx
	m.mu.Unlock()

	if device != nil {
		device.Uninit()
	}
	if ctx != nil {
		ctx.Uninit()
	}
}
