package speech

import (
	"encoding/json"
	"fmt"
)

// EventType discriminates decoded realtime backend events
type EventType string

const (
	EventSessionCreated          EventType = "session.created"
	EventAudioDelta              EventType = "response.audio.delta"
	EventAudioDone               EventType = "response.audio.done"
	EventUserTranscriptDone      EventType = "conversation.item.input_audio_transcription.completed"
	EventAssistantTranscriptDone EventType = "response.audio_transcript.done"
	EventSpeechStarted           EventType = "input_audio_buffer.speech_started"
	EventSpeechStopped           EventType = "input_audio_buffer.speech_stopped"
	EventToolCallDone            EventType = "response.function_call_arguments.done"
	EventError                   EventType = "error"
	EventOther                   EventType = "other"
)

// Event is one decoded backend frame. The transcript delivery contract is
// completed-transcript events only; audio deltas carry the streaming payload.
type Event struct {
	Type       EventType
	Delta      string // base64 audio, audio delta events only
	Transcript string // completed transcript events only
	ToolName   string // tool call events only
	Arguments  string // tool call events only, raw JSON
	CallID     string // tool call events only
	ErrorText  string // error events only
	RawType    string // original type string, for EventOther
}

// frame mirrors the realtime protocol's JSON layout for the fields we consume
type frame struct {
	Type       string          `json:"type"`
	Delta      json.RawMessage `json:"delta"`
	Transcript string          `json:"transcript"`
	Name       string          `json:"name"`
	Arguments  string          `json:"arguments"`
	CallID     string          `json:"call_id"`
	Error      *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// DecodeEvent decodes one raw backend frame into an Event
func DecodeEvent(raw []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Event{}, fmt.Errorf("failed to decode backend frame: %w", err)
	}

	switch f.Type {
	case "session.created":
		return Event{Type: EventSessionCreated}, nil
	case "response.audio.delta":
		var delta string
		if len(f.Delta) > 0 {
			// delta is a JSON string holding base64 audio
			if err := json.Unmarshal(f.Delta, &delta); err != nil {
				return Event{}, fmt.Errorf("failed to decode audio delta: %w", err)
			}
		}
		return Event{Type: EventAudioDelta, Delta: delta}, nil
	case "response.audio.done":
		return Event{Type: EventAudioDone}, nil
	case "conversation.item.input_audio_transcription.completed":
		return Event{Type: EventUserTranscriptDone, Transcript: f.Transcript}, nil
	case "response.audio_transcript.done":
		return Event{Type: EventAssistantTranscriptDone, Transcript: f.Transcript}, nil
	case "input_audio_buffer.speech_started":
		return Event{Type: EventSpeechStarted}, nil
	case "input_audio_buffer.speech_stopped":
		return Event{Type: EventSpeechStopped}, nil
	case "response.function_call_arguments.done":
		return Event{
			Type:      EventToolCallDone,
			ToolName:  f.Name,
			Arguments: f.Arguments,
			CallID:    f.CallID,
		}, nil
	case "error":
		ev := Event{Type: EventError}
		if f.Error != nil {
			ev.ErrorText = f.Error.Message
		}
		return ev, nil
	default:
		return Event{Type: EventOther, RawType: f.Type}, nil
	}
}
