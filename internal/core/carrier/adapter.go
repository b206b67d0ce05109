package carrier

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// EventType discriminates the carrier media-stream envelope
type EventType string

const (
	EventConnected EventType = "connected"
	EventStart     EventType = "start"
	EventMedia     EventType = "media"
	EventMark      EventType = "mark"
	EventStop      EventType = "stop"
	EventUnknown   EventType = "unknown"
)

// MediaFormat describes the audio encoding of the stream
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// StartInfo carries the identifiers delivered with the start event
type StartInfo struct {
	StreamSID   string      `json:"streamSid"`
	CallSID     string      `json:"callSid"`
	AccountSID  string      `json:"accountSid"`
	Tracks      []string    `json:"tracks"`
	MediaFormat MediaFormat `json:"mediaFormat"`
}

// Event is one decoded carrier frame. Exactly the fields for the event's Type
// are populated; unknown event names decode to EventUnknown with RawEvent set.
type Event struct {
	Type     EventType
	Start    *StartInfo
	Payload  string // base64 audio, media events only
	MarkName string
	RawEvent string // original event name, for unknown events
}

// envelope mirrors the carrier's JSON frame layout
type envelope struct {
	Event string `json:"event"`
	Media *struct {
		Track     string `json:"track"`
		Chunk     string `json:"chunk"`
		Timestamp string `json:"timestamp"`
		Payload   string `json:"payload"`
	} `json:"media"`
	Start *StartInfo `json:"start"`
	Mark  *struct {
		Name string `json:"name"`
	} `json:"mark"`
}

// Decode decodes one raw carrier frame into an Event. Malformed JSON is an
// error; recognized envelopes with missing bodies decode to their type with
// zero fields.
func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("failed to decode carrier frame: %w", err)
	}

	switch env.Event {
	case "connected":
		return Event{Type: EventConnected}, nil
	case "start":
		return Event{Type: EventStart, Start: env.Start}, nil
	case "media":
		ev := Event{Type: EventMedia}
		if env.Media != nil {
			ev.Payload = env.Media.Payload
		}
		return ev, nil
	case "mark":
		ev := Event{Type: EventMark}
		if env.Mark != nil {
			ev.MarkName = env.Mark.Name
		}
		return ev, nil
	case "stop":
		return Event{Type: EventStop}, nil
	default:
		return Event{Type: EventUnknown, RawEvent: env.Event}, nil
	}
}

// Conn wraps the inbound carrier WebSocket. Writes are serialized; the
// adapter performs no persistence access.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// NewConn wraps an upgraded carrier WebSocket connection and immediately
// acknowledges it with the connected envelope.
func NewConn(ws *websocket.Conn) (*Conn, error) {
	c := &Conn{ws: ws}
	if err := c.SendConnected(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Conn) send(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

// SendConnected sends the connected acknowledgement
func (c *Conn) SendConnected() error {
	return c.send(map[string]interface{}{
		"event":    "connected",
		"protocol": "Call",
	})
}

// SendMedia sends one outbound audio payload to the carrier
func (c *Conn) SendMedia(streamSID, payload string) error {
	return c.send(map[string]interface{}{
		"event":     "media",
		"streamSid": streamSID,
		"media": map[string]interface{}{
			"payload": payload,
		},
	})
}

// SendClear flushes the carrier-side playback buffer, used on barge-in
func (c *Conn) SendClear(streamSID string) error {
	return c.send(map[string]interface{}{
		"event":     "clear",
		"streamSid": streamSID,
	})
}

// ReadMessage blocks for the next raw carrier frame
func (c *Conn) ReadMessage() ([]byte, error) {
	_, raw, err := c.ws.ReadMessage()
	return raw, err
}

// Close closes the carrier socket
func (c *Conn) Close() error {
	return c.ws.Close()
}
