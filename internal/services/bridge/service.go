package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/codehornets/supacall/internal/config"
	"github.com/codehornets/supacall/internal/core/carrier"
	"github.com/codehornets/supacall/internal/core/session"
	"github.com/codehornets/supacall/internal/core/speech"
	"github.com/codehornets/supacall/internal/core/tool"
	"github.com/codehornets/supacall/internal/feedback"
	"github.com/codehornets/supacall/internal/prompts"
	"github.com/codehornets/supacall/internal/repository"
	"github.com/codehornets/supacall/internal/resolver"
	"github.com/codehornets/supacall/pkg/logger"
	"github.com/codehornets/supacall/pkg/twilio"
)

// ErrAtCapacity is returned when the session limit is reached.
var ErrAtCapacity = errors.New("bridge at session capacity")

// Service owns the live call sessions and wires each new carrier stream to
// its collaborators: directory, speech backend, tool bridge, transcript
// recorder and the human-feedback listener.
type Service struct {
	cfg         *config.BridgeConfig
	repos       repository.RepositoryManager
	redisClient *redis.Client

	mirror      *ConversationMirror
	callControl *twilio.CallControl
	directory   *resolver.Directory
	tools       *tool.Bridge
	feedback    *feedback.Listener
	dialer      *speech.Dialer

	mu       sync.RWMutex
	sessions map[string]*session.CallSession
}

// NewService assembles the bridge from its infrastructure pieces.
func NewService(cfg *config.BridgeConfig, repos repository.RepositoryManager, redisClient *redis.Client) *Service {
	callControl := twilio.NewCallControl()
	return &Service{
		cfg:         cfg,
		repos:       repos,
		redisClient: redisClient,
		mirror:      NewConversationMirror(redisClient),
		callControl: callControl,
		directory:   resolver.NewDirectory(repos, callControl),
		tools:       tool.NewBridge(tool.NewHTTPAgentExecutor(cfg.AgentExecutorURL), repos.Conversation()),
		feedback:    feedback.NewListener(redisClient),
		dialer: &speech.Dialer{
			APIKey: cfg.OpenAIAPIKey,
			URL:    cfg.OpenAIRealtimeURL,
		},
		sessions: make(map[string]*session.CallSession),
	}
}

// Mirror exposes the redis transcript mirror for the HTTP layer.
func (s *Service) Mirror() *ConversationMirror {
	return s.mirror
}

// CallControl exposes the carrier call-control client for the HTTP layer.
func (s *Service) CallControl() *twilio.CallControl {
	return s.callControl
}

// Repos exposes the repository manager for the HTTP layer.
func (s *Service) Repos() repository.RepositoryManager {
	return s.repos
}

// speechConnector adapts the realtime dialer to the session's connector
// contract, fixing the instructions and tool schemas for every call.
type speechConnector struct {
	dialer *speech.Dialer
}

func (c *speechConnector) Connect(ctx context.Context, onEvent func(speech.Event), onClosed func(err error)) (session.SpeechConn, error) {
	return c.dialer.Dial(ctx, prompts.SessionInstructions, tool.Definitions(), onEvent, onClosed)
}

// HandleStream runs one carrier media stream to completion. It blocks until
// the session is fully torn down; the caller owns the websocket goroutine.
func (s *Service) HandleStream(ws *websocket.Conn) error {
	if s.cfg.MaxSessions > 0 && s.ActiveSessions() >= s.cfg.MaxSessions {
		_ = ws.Close()
		return ErrAtCapacity
	}

	conn, err := carrier.NewConn(ws)
	if err != nil {
		_ = ws.Close()
		return err
	}

	sess := session.New(conn, session.Deps{
		Config:      s.cfg,
		Connector:   &speechConnector{dialer: s.dialer},
		Directory:   s.directory,
		Tools:       s.tools,
		Feedback:    s.feedback,
		CallControl: s.callControl,
		NewRecorder: func(conversationID string) session.TranscriptRecorder {
			return NewRecorder(conversationID, s.repos.Conversation(), s.mirror)
		},
	})

	s.register(sess)
	defer s.unregister(sess)

	go sess.Run()

	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			sess.CarrierClosed(err)
			break
		}
		sess.HandleCarrierFrame(raw)
	}

	<-sess.Done()

	if convID := sess.ConversationID(); convID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repos.Conversation().EndConversation(ctx, convID); err != nil {
			logger.Base().Warn("failed to mark conversation ended",
				zap.String("conversation_id", convID), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) register(sess *session.CallSession) {
	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()
	logger.Base().Info("session registered",
		zap.String("session_id", sess.ID()),
		zap.Int("active", s.ActiveSessions()))
}

func (s *Service) unregister(sess *session.CallSession) {
	s.mu.Lock()
	delete(s.sessions, sess.ID())
	s.mu.Unlock()
}

// ActiveSessions returns the number of live call sessions.
func (s *Service) ActiveSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// SessionIDs lists the ids of live sessions for status reporting.
func (s *Service) SessionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// CloseAll tears down every live session and waits for them to finish.
// Used on shutdown.
func (s *Service) CloseAll() {
	s.mu.RLock()
	live := make([]*session.CallSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.RUnlock()

	for _, sess := range live {
		sess.Close()
	}
	for _, sess := range live {
		<-sess.Done()
	}
}

// Ping verifies the service's backing stores are reachable.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.repos.Ping(ctx); err != nil {
		return err
	}
	return s.redisClient.Ping(ctx).Err()
}
