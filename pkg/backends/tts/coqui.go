// Package tts contains the concrete Backend implementations plugged into
// pkg/ttsengine.Engine for each TTS engine_kind.
package tts

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Coqui drives a coqui-tts-server style websocket endpoint, the same
// connect-once/request-response/binary-chunk protocol as
// pkg/providers/tts/lokutor.go, pointed at a self-hosted server instead
// of a SaaS host. It backs the tts_coqui engine_kind.
type Coqui struct {
	Host string // host:port of the coqui-tts-server, no scheme

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewCoqui builds a Coqui backend targeting host (e.g. "localhost:5002").
func NewCoqui(host string) *Coqui {
	return &Coqui{Host: host}
}

func (c *Coqui) Init() error { return nil } // connection is lazy, on first Synthesize

func (c *Coqui) getConn(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}

	u := url.URL{Scheme: "ws", Host: c.Host, Path: "/api/tts/stream"}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("tts: coqui dial: %w", err)
	}
	c.conn = conn
	return conn, nil
}

// Synthesize sends a single request and accumulates the binary chunks the
// server streams back until it signals "EOS", matching the protocol shape
// LokutorTTS speaks over the same websocket library.
func (c *Coqui) Synthesize(text, speaker string) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	conn, err := c.getConn(ctx)
	if err != nil {
		return nil, 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	req := map[string]any{
		"text":        text,
		"speaker_id":  speaker,
		"sample_rate": 22050,
	}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		c.conn = nil
		conn.Close(websocket.StatusAbnormalClosure, "write failed")
		return nil, 0, fmt.Errorf("tts: coqui send: %w", err)
	}

	var pcm []byte
	for {
		messageType, payload, err := conn.Read(ctx)
		if err != nil {
			c.conn = nil
			conn.Close(websocket.StatusAbnormalClosure, "read failed")
			return nil, 0, fmt.Errorf("tts: coqui read: %w", err)
		}

		switch messageType {
		case websocket.MessageBinary:
			pcm = append(pcm, payload...)
		case websocket.MessageText:
			msg := string(payload)
			if msg == "EOS" {
				return pcm, 22050, nil
			}
			if len(msg) >= 4 && msg[:4] == "ERR:" {
				return nil, 0, fmt.Errorf("tts: coqui error: %s", msg)
			}
		}
	}
}

func (c *Coqui) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		err := c.conn.Close(websocket.StatusNormalClosure, "")
		c.conn = nil
		return err
	}
	return nil
}
