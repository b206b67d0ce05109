package speech

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/codehornets/supacall/internal/prompts"
	"github.com/codehornets/supacall/pkg/logger"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// VAD parameters configured on every session. Server-side voice activity
// detection decides end-of-turn; these values tune it for phone audio.
const (
	VADThreshold         = 0.5
	VADPrefixPaddingMs   = 300
	VADSilenceDurationMs = 500
)

// Conn is one live connection to the realtime speech backend. All sends are
// serialized; decoded events are delivered through the handler passed to Dial.
// The adapter performs no persistence or carrier access.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	closeOnce sync.Once
}

// Dialer connects sessions to the realtime speech backend
type Dialer struct {
	APIKey string
	URL    string
}

// Dial opens a backend connection, configures the session and starts the read
// loop. Every decoded event, including decode failures surfaced as error
// events, is passed to onEvent; onClosed fires once when the read loop exits.
// There is no reconnect: a dropped backend connection ends the call session.
func (d *Dialer) Dial(ctx context.Context, instructions string, tools []interface{}, onEvent func(Event), onClosed func(err error)) (*Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+d.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial speech backend (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial speech backend: %w", err)
	}

	c := &Conn{ws: ws}

	if err := c.sendSessionUpdate(instructions, tools); err != nil {
		ws.Close()
		return nil, fmt.Errorf("failed to configure speech session: %w", err)
	}

	go c.readLoop(onEvent, onClosed)

	return c, nil
}

func (c *Conn) readLoop(onEvent func(Event), onClosed func(err error)) {
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			onClosed(err)
			return
		}

		ev, err := DecodeEvent(raw)
		if err != nil {
			// one malformed frame is not fatal to the session
			logger.Base().Warn("Dropping malformed backend frame", zap.Error(err))
			continue
		}
		onEvent(ev)
	}
}

func (c *Conn) send(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

// sendSessionUpdate declares modality, audio formats, VAD and the tool schema set
func (c *Conn) sendSessionUpdate(instructions string, tools []interface{}) error {
	if instructions == "" {
		instructions = prompts.SessionInstructions
	}
	return c.send(map[string]interface{}{
		"type": "session.update",
		"session": map[string]interface{}{
			"modalities":          []string{"text", "audio"},
			"instructions":        instructions,
			"voice":               "alloy",
			"input_audio_format":  "g711_ulaw",
			"output_audio_format": "g711_ulaw",
			"input_audio_transcription": map[string]interface{}{
				"model": "whisper-1",
			},
			"turn_detection": map[string]interface{}{
				"type":                "server_vad",
				"threshold":           VADThreshold,
				"prefix_padding_ms":   VADPrefixPaddingMs,
				"silence_duration_ms": VADSilenceDurationMs,
			},
			"tools":       tools,
			"tool_choice": "auto",
		},
	})
}

// SendAudio appends one inbound audio chunk to the backend's input buffer.
// The payload is forwarded unmodified.
func (c *Conn) SendAudio(payloadBase64 string) error {
	return c.send(map[string]interface{}{
		"type":  "input_audio_buffer.append",
		"audio": payloadBase64,
	})
}

// InjectUserText injects a synthetic user turn (greeting, silence prompt,
// human feedback) into the conversation.
func (c *Conn) InjectUserText(text string) error {
	return c.send(map[string]interface{}{
		"type": "conversation.item.create",
		"item": map[string]interface{}{
			"type": "message",
			"role": "user",
			"content": []interface{}{
				map[string]interface{}{
					"type": "input_text",
					"text": text,
				},
			},
		},
	})
}

// RequestResponse asks the backend to take its next turn
func (c *Conn) RequestResponse() error {
	return c.send(map[string]interface{}{
		"type": "response.create",
	})
}

// SendToolResult returns a function call result. The protocol requires a
// result for every tool call before the next response turn.
func (c *Conn) SendToolResult(callID, output string) error {
	return c.send(map[string]interface{}{
		"type": "conversation.item.create",
		"item": map[string]interface{}{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	})
}

// Close closes the backend socket. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.ws.Close()
	})
	return err
}
