package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codehornets/supacall/internal/config"
	"github.com/codehornets/supacall/internal/core/carrier"
	"github.com/codehornets/supacall/internal/core/speech"
	"github.com/codehornets/supacall/internal/core/tool"
	"github.com/codehornets/supacall/internal/prompts"
	"github.com/codehornets/supacall/internal/resolver"
	"github.com/codehornets/supacall/pkg/logger"
	"github.com/codehornets/supacall/pkg/twilio"
)

// CarrierConn is the carrier-side connection as seen by a session.
// Implemented by *carrier.Conn.
type CarrierConn interface {
	SendMedia(streamSID, payload string) error
	SendClear(streamSID string) error
	Close() error
}

// SpeechConn is the speech-backend connection as seen by a session.
// Implemented by *speech.Conn.
type SpeechConn interface {
	SendAudio(payload string) error
	InjectUserText(text string) error
	RequestResponse() error
	SendToolResult(callID, output string) error
	Close() error
}

// SpeechConnector dials the speech backend for a new call.
type SpeechConnector interface {
	Connect(ctx context.Context, onEvent func(speech.Event), onClosed func(err error)) (SpeechConn, error)
}

// Directory resolves carrier call identifiers into agent routing context.
type Directory interface {
	Resolve(ctx context.Context, accountSID, callSID string) (*resolver.Resolution, error)
}

// ToolExecutor runs a tool call and always returns a result string.
type ToolExecutor interface {
	Execute(ctx context.Context, toolName, argumentsJSON, agentID, conversationID string) string
}

// FeedbackSubscriber watches a conversation for injected human feedback.
// The returned func cancels the subscription.
type FeedbackSubscriber interface {
	Subscribe(ctx context.Context, conversationID string, onFeedback func(content string)) (func(), error)
}

// CallController terminates calls on the carrier side.
type CallController interface {
	Hangup(creds twilio.Credentials, callSID string) error
}

// TranscriptRecorder persists transcript turns for one conversation in
// arrival order. Append must not block the caller on storage I/O.
type TranscriptRecorder interface {
	Append(role, content string)
	Close()
}

// RecorderFactory builds a recorder bound to a conversation.
type RecorderFactory func(conversationID string) TranscriptRecorder

// Deps carries everything a session needs beyond the carrier socket.
type Deps struct {
	Config      *config.BridgeConfig
	Connector   SpeechConnector
	Directory   Directory
	Tools       ToolExecutor
	Feedback    FeedbackSubscriber
	CallControl CallController
	NewRecorder RecorderFactory
}

// loop events. Everything that can happen to a session is funneled through
// the events channel so the loop goroutine is the only writer of State.
type (
	carrierEvt  struct{ ev carrier.Event }
	carrierGone struct{ err error }
	speechEvt   struct{ ev speech.Event }
	speechDown  struct{ err error }
	resolvedEvt struct {
		res *resolver.Resolution
		err error
	}
	feedbackEvt  struct{ content string }
	idleEvt      struct{ gen int }
	terminateEvt struct{ reason string }
)

// CallSession bridges one carrier media stream to one speech backend
// connection. A single goroutine (Run) owns all state; collaborator
// callbacks post events into the loop instead of touching it directly.
type CallSession struct {
	id    string
	deps  Deps
	state State
	phase Phase

	carrier CarrierConn
	speech  SpeechConn
	creds   twilio.Credentials

	recorder    TranscriptRecorder
	unsubscribe func()
	idleTimer   *time.Timer

	ctx    context.Context
	cancel context.CancelFunc

	events chan interface{}
	closed chan struct{}
	once   sync.Once
}

// New creates a session over an accepted carrier connection. Run must be
// called to start processing.
func New(conn CarrierConn, deps Deps) *CallSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &CallSession{
		id:      uuid.New().String(),
		deps:    deps,
		carrier: conn,
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan interface{}, 256),
		closed:  make(chan struct{}),
	}
}

// ID returns the session's unique identifier.
func (s *CallSession) ID() string {
	return s.id
}

// ConversationID returns the conversation id, or "" before resolution or in
// degraded mode. Only safe once Done has been closed.
func (s *CallSession) ConversationID() string {
	return s.state.ConversationID
}

// HandleCarrierFrame feeds one raw carrier frame into the session. Called
// from the connection's read goroutine.
func (s *CallSession) HandleCarrierFrame(raw []byte) {
	ev, err := carrier.Decode(raw)
	if err != nil {
		logger.Base().Warn("dropping malformed carrier frame",
			zap.String("session_id", s.id), zap.Error(err))
		return
	}
	s.post(carrierEvt{ev: ev})
}

// CarrierClosed tells the session the carrier socket is gone.
func (s *CallSession) CarrierClosed(err error) {
	s.post(carrierGone{err: err})
}

// Close requests teardown from outside the loop. Idempotent.
func (s *CallSession) Close() {
	s.post(terminateEvt{reason: "external close"})
}

// Done is closed when the session has fully torn down.
func (s *CallSession) Done() <-chan struct{} {
	return s.closed
}

// post delivers an event to the loop unless the session is already closed.
func (s *CallSession) post(ev interface{}) {
	select {
	case s.events <- ev:
	case <-s.closed:
	}
}

// Run executes the session event loop until the call ends. It blocks the
// calling goroutine and tears everything down before returning.
func (s *CallSession) Run() {
	defer s.teardown("loop exit")

	for {
		select {
		case ev := <-s.events:
			if s.handle(ev) {
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// handle dispatches one event. Returns true when the session should stop.
func (s *CallSession) handle(ev interface{}) bool {
	switch e := ev.(type) {
	case carrierEvt:
		return s.handleCarrier(e.ev)
	case carrierGone:
		if e.err != nil {
			logger.Base().Info("carrier socket closed",
				zap.String("session_id", s.id), zap.Error(e.err))
		}
		return true
	case speechDown:
		if s.phase != PhaseTerminating && s.phase != PhaseClosed {
			logger.Base().Warn("speech backend connection lost",
				zap.String("session_id", s.id), zap.Error(e.err))
		}
		return true
	case speechEvt:
		return s.handleSpeech(e.ev)
	case resolvedEvt:
		s.handleResolved(e.res, e.err)
		return false
	case feedbackEvt:
		s.handleFeedback(e.content)
		return false
	case idleEvt:
		s.handleIdle(e.gen)
		return false
	case terminateEvt:
		logger.Base().Info("session terminating",
			zap.String("session_id", s.id), zap.String("reason", e.reason))
		return true
	default:
		return false
	}
}

func (s *CallSession) handleCarrier(ev carrier.Event) bool {
	switch ev.Type {
	case carrier.EventConnected:
		logger.Base().Info("carrier stream connected", zap.String("session_id", s.id))
	case carrier.EventStart:
		return s.handleStart(ev.Start)
	case carrier.EventMedia:
		// Relay inbound audio as soon as the backend is up, even if
		// resolution is still in flight.
		if s.speech != nil {
			if err := s.speech.SendAudio(ev.Payload); err != nil {
				logger.Base().Warn("dropping media frame",
					zap.String("session_id", s.id), zap.Error(err))
			}
		}
	case carrier.EventMark:
		logger.Base().Debug("carrier mark",
			zap.String("session_id", s.id), zap.String("mark", ev.MarkName))
	case carrier.EventStop:
		logger.Base().Info("carrier sent stop", zap.String("session_id", s.id))
		return true
	default:
		logger.Base().Debug("ignoring carrier event",
			zap.String("session_id", s.id), zap.String("type", string(ev.Type)))
	}
	return false
}

// handleStart kicks off resolution and dials the speech backend. The dial is
// synchronous on the loop; inbound frames simply queue in the events channel
// until the backend is up. Returns true if the backend is unreachable.
func (s *CallSession) handleStart(start *carrier.StartInfo) bool {
	if start == nil || s.phase != PhaseConnecting {
		return false
	}
	s.state.StreamSID = start.StreamSID
	s.state.CallSID = start.CallSID
	s.state.AccountSID = start.AccountSID
	s.state.MediaFormat = start.MediaFormat
	s.phase = PhaseResolving

	logger.Base().Info("call stream started",
		zap.String("session_id", s.id),
		zap.String("stream_sid", start.StreamSID),
		zap.String("call_sid", start.CallSID))

	go func() {
		res, err := s.deps.Directory.Resolve(s.ctx, start.AccountSID, start.CallSID)
		s.post(resolvedEvt{res: res, err: err})
	}()

	conn, err := s.deps.Connector.Connect(s.ctx,
		func(ev speech.Event) { s.post(speechEvt{ev: ev}) },
		func(err error) { s.post(speechDown{err: err}) },
	)
	if err != nil {
		logger.Base().Error("failed to connect speech backend",
			zap.String("session_id", s.id), zap.Error(err))
		return true
	}
	s.speech = conn
	s.maybeActivate()
	return false
}

func (s *CallSession) handleResolved(res *resolver.Resolution, err error) {
	if s.phase != PhaseResolving {
		return
	}
	if err != nil {
		// Any lookup miss puts the call in degraded mode: audio still
		// flows both ways but nothing is persisted and no tools run.
		logger.Base().Warn("call directory lookup failed, continuing degraded",
			zap.String("session_id", s.id),
			zap.String("call_sid", s.state.CallSID),
			zap.Error(err))
		s.state.Degraded = true
		// a timer armed while resolution was in flight must not fire here
		s.cancelIdle()
		s.phase = PhaseActive
		return
	}

	s.state.Resolved = true
	s.state.AgentID = res.AgentID
	s.state.OrganizationID = res.OrganizationID
	s.state.ConversationID = res.ConversationID
	s.state.AgentNumber = res.AgentNumber
	s.state.ContactNumber = res.ContactNumber
	s.creds = res.Credentials

	logger.Base().Info("call resolved",
		zap.String("session_id", s.id),
		zap.String("conversation_id", res.ConversationID),
		zap.String("agent_id", res.AgentID))

	if s.deps.NewRecorder != nil {
		s.recorder = s.deps.NewRecorder(res.ConversationID)
	}
	if s.deps.Feedback != nil {
		unsub, ferr := s.deps.Feedback.Subscribe(s.ctx, res.ConversationID, func(content string) {
			s.post(feedbackEvt{content: content})
		})
		if ferr != nil {
			logger.Base().Warn("feedback subscription failed",
				zap.String("session_id", s.id), zap.Error(ferr))
		} else {
			s.unsubscribe = unsub
		}
	}

	s.maybeActivate()
}

func (s *CallSession) handleSpeech(ev speech.Event) bool {
	switch ev.Type {
	case speech.EventSessionCreated:
		s.state.SessionReady = true
		s.maybeActivate()
	case speech.EventAudioDelta:
		if s.state.StreamSID != "" {
			if err := s.carrier.SendMedia(s.state.StreamSID, ev.Delta); err != nil {
				logger.Base().Warn("failed to relay audio to carrier",
					zap.String("session_id", s.id), zap.Error(err))
			}
		}
	case speech.EventSpeechStarted:
		s.state.CallerSpoke = true
		s.cancelIdle()
		if s.state.StreamSID != "" {
			if err := s.carrier.SendClear(s.state.StreamSID); err != nil {
				logger.Base().Warn("failed to clear carrier buffer",
					zap.String("session_id", s.id), zap.Error(err))
			}
		}
	case speech.EventSpeechStopped:
		s.armIdle()
	case speech.EventAudioDone:
		s.armIdle()
	case speech.EventUserTranscriptDone:
		s.recordTurn(config.MessageRoleUser, ev.Transcript)
	case speech.EventAssistantTranscriptDone:
		s.recordTurn(config.MessageRoleAssistant, ev.Transcript)
	case speech.EventToolCallDone:
		return s.handleToolCall(ev.ToolName, ev.Arguments, ev.CallID)
	case speech.EventError:
		logger.Base().Warn("speech backend error event",
			zap.String("session_id", s.id), zap.String("error", ev.ErrorText))
	default:
	}
	return false
}

// maybeActivate transitions to Active and sends the one-time greeting once
// both the directory resolution and the backend session are in place.
func (s *CallSession) maybeActivate() {
	if !s.state.Resolved || !s.state.SessionReady || s.speech == nil {
		return
	}
	if s.phase == PhaseResolving {
		s.phase = PhaseActive
	}
	if s.state.GreetingSent {
		return
	}
	s.state.GreetingSent = true
	if err := s.speech.InjectUserText(prompts.RandomGreeting()); err != nil {
		logger.Base().Warn("failed to inject greeting",
			zap.String("session_id", s.id), zap.Error(err))
		return
	}
	if err := s.speech.RequestResponse(); err != nil {
		logger.Base().Warn("failed to request greeting response",
			zap.String("session_id", s.id), zap.Error(err))
	}
	s.armIdle()
}

func (s *CallSession) recordTurn(role, content string) {
	if s.recorder == nil || content == "" {
		return
	}
	s.recorder.Append(role, content)
}

// handleToolCall answers every completed tool call exactly once. call_end is
// terminal; everything else is dispatched off-loop so audio keeps flowing
// while the tool runs.
func (s *CallSession) handleToolCall(name, arguments, callID string) bool {
	logger.Base().Info("tool call received",
		zap.String("session_id", s.id),
		zap.String("tool", name),
		zap.String("call_id", callID))

	if name == tool.ToolNameCallEnd {
		return true
	}

	sp := s.speech
	if sp == nil {
		return false
	}
	if s.state.Degraded || s.state.ConversationID == "" {
		s.sendToolResult(sp, callID, tool.ErrorResult)
		return false
	}

	agentID, conversationID := s.state.AgentID, s.state.ConversationID
	go func() {
		result := s.deps.Tools.Execute(s.ctx, name, arguments, agentID, conversationID)
		s.sendToolResult(sp, callID, result)
	}()
	return false
}

// sendToolResult delivers the result and then asks for the next response
// turn. The response request goes out even if the result send failed, so the
// backend is never left waiting on a turn that will not come.
func (s *CallSession) sendToolResult(sp SpeechConn, callID, result string) {
	if err := sp.SendToolResult(callID, result); err != nil {
		logger.Base().Warn("failed to send tool result",
			zap.String("session_id", s.id), zap.String("call_id", callID), zap.Error(err))
	}
	if err := sp.RequestResponse(); err != nil {
		logger.Base().Warn("failed to request response after tool result",
			zap.String("session_id", s.id), zap.Error(err))
	}
}

func (s *CallSession) handleFeedback(content string) {
	if s.speech == nil || content == "" {
		return
	}
	logger.Base().Info("injecting human feedback",
		zap.String("session_id", s.id),
		zap.String("conversation_id", s.state.ConversationID))
	if err := s.speech.InjectUserText(content); err != nil {
		logger.Base().Warn("failed to inject feedback",
			zap.String("session_id", s.id), zap.Error(err))
		return
	}
	if err := s.speech.RequestResponse(); err != nil {
		logger.Base().Warn("failed to request response after feedback",
			zap.String("session_id", s.id), zap.Error(err))
	}
}

// armIdle schedules the silence nudge. Bumping the generation counter makes
// any previously scheduled firing a no-op, so at most one timer is live.
func (s *CallSession) armIdle() {
	if s.state.Degraded || s.speech == nil {
		return
	}
	s.state.IdleGen++
	gen := s.state.IdleGen
	delay := s.deps.Config.SilenceInitialDelay
	if s.state.CallerSpoke {
		delay = s.deps.Config.SilenceFollowupDelay
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(delay, func() {
		s.post(idleEvt{gen: gen})
	})
}

func (s *CallSession) cancelIdle() {
	s.state.IdleGen++
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
}

func (s *CallSession) handleIdle(gen int) {
	if gen != s.state.IdleGen || s.phase != PhaseActive || s.speech == nil {
		return
	}
	logger.Base().Debug("silence timer fired", zap.String("session_id", s.id))
	if err := s.speech.InjectUserText(prompts.RandomSilencePrompt()); err != nil {
		logger.Base().Warn("failed to inject silence prompt",
			zap.String("session_id", s.id), zap.Error(err))
		return
	}
	if err := s.speech.RequestResponse(); err != nil {
		logger.Base().Warn("failed to request response after silence prompt",
			zap.String("session_id", s.id), zap.Error(err))
	}
}

// teardown runs exactly once and never skips later steps because an earlier
// one failed.
func (s *CallSession) teardown(reason string) {
	s.once.Do(func() {
		s.phase = PhaseTerminating

		if s.idleTimer != nil {
			s.idleTimer.Stop()
		}
		if s.state.Resolved && s.deps.CallControl != nil && s.state.CallSID != "" {
			if err := s.deps.CallControl.Hangup(s.creds, s.state.CallSID); err != nil {
				logger.Base().Warn("carrier hangup failed",
					zap.String("session_id", s.id),
					zap.String("call_sid", s.state.CallSID),
					zap.Error(err))
			}
		}
		if s.speech != nil {
			if err := s.speech.Close(); err != nil {
				logger.Base().Debug("speech close", zap.Error(err))
			}
		}
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		if s.recorder != nil {
			s.recorder.Close()
		}
		if err := s.carrier.Close(); err != nil {
			logger.Base().Debug("carrier close", zap.Error(err))
		}
		s.cancel()

		s.phase = PhaseClosed
		close(s.closed)

		logger.Base().Info("session closed",
			zap.String("session_id", s.id),
			zap.String("conversation_id", s.state.ConversationID),
			zap.String("reason", reason))
	})
}
