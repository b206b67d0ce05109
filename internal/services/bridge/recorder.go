package bridge

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/codehornets/supacall/internal/domain"
	"github.com/codehornets/supacall/pkg/logger"
)

const recorderQueueSize = 256

// TurnStore is the durable side of transcript persistence.
// Implemented by *repository.ConversationRepository.
type TurnStore interface {
	AppendTurn(ctx context.Context, conversationID, role, content string) (*domain.ConversationTurn, error)
}

// TurnMirror is the live side. Implemented by *ConversationMirror.
type TurnMirror interface {
	Append(ctx context.Context, conversationID string, turn domain.Turn) error
}

// Recorder persists transcript turns for one conversation. A single worker
// goroutine drains the queue so turns land in postgres and the redis mirror
// in exactly the order they were appended, and the session's audio path
// never blocks on storage.
type Recorder struct {
	conversationID string
	repo           TurnStore
	mirror         TurnMirror
	queue          chan domain.Turn
	done           chan struct{}
}

func NewRecorder(conversationID string, repo TurnStore, mirror TurnMirror) *Recorder {
	r := &Recorder{
		conversationID: conversationID,
		repo:           repo,
		mirror:         mirror,
		queue:          make(chan domain.Turn, recorderQueueSize),
		done:           make(chan struct{}),
	}
	go r.run()
	return r
}

// Append enqueues one turn. If the queue is full the turn is dropped with a
// log line; a write stall must not back-pressure the call.
func (r *Recorder) Append(role, content string) {
	turn := domain.Turn{Role: role, Content: content, Timestamp: time.Now().UTC()}
	select {
	case r.queue <- turn:
	default:
		logger.Base().Warn("transcript queue full, dropping turn",
			zap.String("conversation_id", r.conversationID),
			zap.String("role", role))
	}
}

// Close stops accepting turns and waits for the queued ones to be written.
func (r *Recorder) Close() {
	close(r.queue)
	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)
	for turn := range r.queue {
		r.persist(turn)
	}
}

// persist writes one turn to both stores. Failures are logged and skipped;
// a dead database must not take the call down with it.
func (r *Recorder) persist(turn domain.Turn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := r.repo.AppendTurn(ctx, r.conversationID, turn.Role, turn.Content); err != nil {
		logger.Base().Error("failed to persist transcript turn",
			zap.String("conversation_id", r.conversationID),
			zap.String("role", turn.Role),
			zap.Error(err))
	}
	if r.mirror != nil {
		if err := r.mirror.Append(ctx, r.conversationID, turn); err != nil {
			logger.Base().Warn("failed to mirror transcript turn",
				zap.String("conversation_id", r.conversationID),
				zap.Error(err))
		}
	}
}
