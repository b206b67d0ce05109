package bridge

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/codehornets/supacall/internal/domain"
)

// ConversationMirror keeps a live copy of each conversation's transcript in
// redis so side channels (dashboards, the feedback endpoint) can read and
// extend it without touching postgres. The whole turn array is rewritten on
// every append; transcripts are short enough that this stays cheap.
type ConversationMirror struct {
	client *redis.Client
}

func NewConversationMirror(client *redis.Client) *ConversationMirror {
	return &ConversationMirror{client: client}
}

// Append adds one turn to the mirrored transcript. A missing or corrupt key
// is treated as an empty transcript rather than an error.
func (m *ConversationMirror) Append(ctx context.Context, conversationID string, turn domain.Turn) error {
	key := domain.ConversationKey(conversationID)

	var turns []domain.Turn
	raw, err := m.client.Get(ctx, key).Result()
	if err == nil && raw != "" {
		if uerr := json.Unmarshal([]byte(raw), &turns); uerr != nil {
			turns = nil
		}
	} else if err != nil && err != redis.Nil {
		return err
	}

	turns = append(turns, turn)
	data, err := json.Marshal(turns)
	if err != nil {
		return err
	}
	return m.client.Set(ctx, key, data, 0).Err()
}

// Load returns the mirrored transcript, empty if the key does not exist.
func (m *ConversationMirror) Load(ctx context.Context, conversationID string) ([]domain.Turn, error) {
	raw, err := m.client.Get(ctx, domain.ConversationKey(conversationID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var turns []domain.Turn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		return nil, err
	}
	return turns, nil
}
