package feedback

import (
	"context"
	"encoding/json"

	"github.com/codehornets/supacall/internal/config"
	"github.com/codehornets/supacall/internal/domain"
	"github.com/codehornets/supacall/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// keyspacePattern is the keyspace-notification channel for one conversation
// mirror key. Requires notify-keyspace-events to include K$ on the server.
func keyspacePattern(conversationID string) string {
	return "__keyspace@0__:" + domain.ConversationKey(conversationID)
}

// Listener watches a conversation's mirror key for operator-injected feedback.
// The notification carries no payload; the turn list is re-read on every
// change and forwarded only when the latest turn is human feedback.
type Listener struct {
	client *redis.Client
}

// NewListener creates a feedback listener on the given redis client
func NewListener(client *redis.Client) *Listener {
	return &Listener{client: client}
}

// Subscribe starts watching the conversation and invokes onFeedback with the
// content of each newly appended human_feedback turn. The returned function
// tears the subscription down; it must be called exactly once when the call
// session ends, or the subscription leaks and re-delivers to a dead session.
func (l *Listener) Subscribe(ctx context.Context, conversationID string, onFeedback func(content string)) (func(), error) {
	pubsub := l.client.PSubscribe(ctx, keyspacePattern(conversationID))

	// confirm the subscription before returning so no notification is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	go func() {
		ch := pubsub.Channel()
		for range ch {
			l.deliverLatest(ctx, conversationID, onFeedback)
		}
	}()

	logger.Base().Info("Subscribed to conversation feedback",
		zap.String("conversation_id", conversationID))

	return func() {
		if err := pubsub.Close(); err != nil {
			logger.Base().Warn("Failed to close feedback subscription",
				zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}, nil
}

// deliverLatest re-reads the mirrored turn list and forwards the last turn if
// it is operator feedback. Stale or irrelevant changes are a no-op.
func (l *Listener) deliverLatest(ctx context.Context, conversationID string, onFeedback func(content string)) {
	raw, err := l.client.Get(ctx, domain.ConversationKey(conversationID)).Result()
	if err != nil {
		if err != redis.Nil {
			logger.Base().Warn("Failed to read conversation mirror",
				zap.String("conversation_id", conversationID), zap.Error(err))
		}
		return
	}

	content, ok, err := latestFeedback([]byte(raw))
	if err != nil {
		logger.Base().Warn("Malformed conversation mirror",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}
	if !ok {
		return
	}

	onFeedback(content)
}

// latestFeedback extracts the last turn from a mirrored turn list if and only
// if it is operator feedback.
func latestFeedback(raw []byte) (string, bool, error) {
	var turns []domain.Turn
	if err := json.Unmarshal(raw, &turns); err != nil {
		return "", false, err
	}
	if len(turns) == 0 {
		return "", false, nil
	}
	last := turns[len(turns)-1]
	if last.Role != config.MessageRoleHumanFeedback {
		return "", false, nil
	}
	return last.Content, true, nil
}
