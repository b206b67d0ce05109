package bridge

import (
	"context"
	"time"

	"github.com/codehornets/supacall/internal/config"
	"github.com/codehornets/supacall/internal/domain"
)

// PublishFeedback records one operator turn in both transcript stores. The
// postgres write makes it part of the durable transcript; the mirror write is
// what raises the keyspace notification that delivers it into the live call.
// Postgres first: feedback must never reach the caller without being on record.
func (s *Service) PublishFeedback(ctx context.Context, conversationID, content string) error {
	return publishFeedback(ctx, s.repos.Conversation(), s.mirror, conversationID, content)
}

func publishFeedback(ctx context.Context, store TurnStore, mirror TurnMirror, conversationID, content string) error {
	turn := domain.Turn{
		Role:      config.MessageRoleHumanFeedback,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	if _, err := store.AppendTurn(ctx, conversationID, turn.Role, turn.Content); err != nil {
		return err
	}
	return mirror.Append(ctx, conversationID, turn)
}
