package speech

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSessionCreated(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"session.created","session":{"id":"sess_1"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventSessionCreated, ev.Type)
}

func TestDecodeAudioDelta(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"response.audio.delta","delta":"AAA="}`))
	require.NoError(t, err)
	assert.Equal(t, EventAudioDelta, ev.Type)
	assert.Equal(t, "AAA=", ev.Delta)
}

func TestDecodeAudioDeltaMalformed(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"type":"response.audio.delta","delta":42}`))
	assert.Error(t, err)
}

func TestDecodeTranscripts(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"conversation.item.input_audio_transcription.completed","transcript":"hello there"}`))
	require.NoError(t, err)
	assert.Equal(t, EventUserTranscriptDone, ev.Type)
	assert.Equal(t, "hello there", ev.Transcript)

	ev, err = DecodeEvent([]byte(`{"type":"response.audio_transcript.done","transcript":"how can I help"}`))
	require.NoError(t, err)
	assert.Equal(t, EventAssistantTranscriptDone, ev.Type)
	assert.Equal(t, "how can I help", ev.Transcript)
}

func TestDecodeSpeechBoundaries(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"input_audio_buffer.speech_started","audio_start_ms":120}`))
	require.NoError(t, err)
	assert.Equal(t, EventSpeechStarted, ev.Type)

	ev, err = DecodeEvent([]byte(`{"type":"input_audio_buffer.speech_stopped","audio_end_ms":2400}`))
	require.NoError(t, err)
	assert.Equal(t, EventSpeechStopped, ev.Type)
}

func TestDecodeToolCall(t *testing.T) {
	raw := []byte(`{
		"type": "response.function_call_arguments.done",
		"name": "phone_agent",
		"call_id": "call_abc",
		"arguments": "{\"query\":\"opening hours\"}"
	}`)

	ev, err := DecodeEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, EventToolCallDone, ev.Type)
	assert.Equal(t, "phone_agent", ev.ToolName)
	assert.Equal(t, "call_abc", ev.CallID)
	assert.JSONEq(t, `{"query":"opening hours"}`, ev.Arguments)
}

func TestDecodeError(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"error","error":{"message":"session expired"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventError, ev.Type)
	assert.Equal(t, "session expired", ev.ErrorText)
}

func TestDecodeUnrecognizedType(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"rate_limits.updated"}`))
	require.NoError(t, err)
	assert.Equal(t, EventOther, ev.Type)
	assert.Equal(t, "rate_limits.updated", ev.RawType)
}

func TestDecodeMalformedFrame(t *testing.T) {
	_, err := DecodeEvent([]byte(`not json`))
	assert.Error(t, err)
}
