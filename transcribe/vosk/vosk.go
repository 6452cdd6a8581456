// Package vosk recognizes speech with a Vosk server over its websocket
// protocol. Each call opens a session, streams the PCM and reads the final
// result after sending EOF.
package vosk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/hb9tf/spiritbox/transcribe"
)

const (
	Name = "vosk"

	// SampleRate is the rate the common Vosk models expect.
	SampleRate = 16000
	chunkBytes = 8000
)

var _ transcribe.Recognizer = (*Recognizer)(nil)

type Recognizer struct {
	serverURL string
	dialer    *websocket.Dialer
}

type config struct {
	Config struct {
		SampleRate int `json:"sample_rate"`
	} `json:"config"`
}

type result struct {
	Text    string `json:"text"`
	Partial string `json:"partial"`
}

func New(serverURL string) (*Recognizer, error) {
	if serverURL == "" {
		return nil, errors.New("vosk: server URL must not be empty")
	}
	return &Recognizer{
		serverURL: serverURL,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

func (r *Recognizer) Name() string {
	return Name
}

func (r *Recognizer) Recognize(ctx context.Context, pcm []byte, sampleRate, bytesPerSample int) (string, error) {
	if bytesPerSample != 2 {
		return "", fmt.Errorf("vosk: unsupported sample width %d", bytesPerSample)
	}
	pcm = transcribe.ResamplePCM16(pcm, sampleRate, SampleRate)

	conn, _, err := r.dialer.DialContext(ctx, r.serverURL, nil)
	if err != nil {
		return "", fmt.Errorf("vosk: connect: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
		conn.SetWriteDeadline(deadline)
	}

	var cfg config
	cfg.Config.SampleRate = SampleRate
	if err := conn.WriteJSON(cfg); err != nil {
		return "", fmt.Errorf("vosk: send config: %w", err)
	}

	var texts []string
	// The server answers every message with a partial or a final result.
	for start := 0; start < len(pcm); start += chunkBytes {
		end := min(start+chunkBytes, len(pcm))
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[start:end]); err != nil {
			return "", fmt.Errorf("vosk: send audio: %w", err)
		}
		res, err := readResult(conn)
		if err != nil {
			return "", err
		}
		if res.Text != "" {
			texts = append(texts, res.Text)
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"eof" : 1}`)); err != nil {
		return "", fmt.Errorf("vosk: send eof: %w", err)
	}
	res, err := readResult(conn)
	if err != nil {
		return "", err
	}
	if res.Text != "" {
		texts = append(texts, res.Text)
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteMessage(websocket.CloseMessage, closeMsg); err != nil {
		glog.V(2).Infof("vosk: close handshake: %s", err)
	}

	text := strings.Join(texts, " ")
	if text == "" {
		return "", transcribe.ErrNoMatch
	}
	return text, nil
}

func readResult(conn *websocket.Conn) (result, error) {
	var res result
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return res, fmt.Errorf("vosk: read result: %w", err)
	}
	if err := json.Unmarshal(msg, &res); err != nil {
		return res, fmt.Errorf("vosk: parse result: %w", err)
	}
	res.Text = strings.TrimSpace(res.Text)
	return res, nil
}
