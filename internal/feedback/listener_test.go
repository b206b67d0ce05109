package feedback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestFeedbackForwardsOperatorTurn(t *testing.T) {
	raw := []byte(`[
		{"role":"user","content":"hello","timestamp":"2026-08-29T10:00:00Z"},
		{"role":"assistant","content":"hi","timestamp":"2026-08-29T10:00:02Z"},
		{"role":"human_feedback","content":"offer them the annual plan","timestamp":"2026-08-29T10:00:30Z"}
	]`)

	content, ok, err := latestFeedback(raw)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "offer them the annual plan", content)
}

func TestLatestFeedbackIgnoresOrdinaryTurns(t *testing.T) {
	raw := []byte(`[
		{"role":"human_feedback","content":"earlier note","timestamp":"2026-08-29T10:00:00Z"},
		{"role":"assistant","content":"of course","timestamp":"2026-08-29T10:00:05Z"}
	]`)

	_, ok, err := latestFeedback(raw)
	require.NoError(t, err)
	assert.False(t, ok, "only the most recent turn may be delivered")
}

func TestLatestFeedbackEmptyList(t *testing.T) {
	_, ok, err := latestFeedback([]byte(`[]`))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLatestFeedbackMalformed(t *testing.T) {
	_, _, err := latestFeedback([]byte(`{not json`))
	assert.Error(t, err)
}

func TestKeyspacePattern(t *testing.T) {
	assert.Equal(t, "__keyspace@0__:conversation:conv-1", keyspacePattern("conv-1"))
}
