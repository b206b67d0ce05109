package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codehornets/supacall/internal/config"
	"github.com/codehornets/supacall/internal/core/speech"
	"github.com/codehornets/supacall/internal/core/tool"
	"github.com/codehornets/supacall/internal/resolver"
	"github.com/codehornets/supacall/pkg/twilio"
)

const startFrame = `{
	"event": "start",
	"start": {
		"streamSid": "MZ0000",
		"callSid": "CA1111",
		"accountSid": "AC2222",
		"mediaFormat": {"encoding": "audio/x-mulaw", "sampleRate": 8000, "channels": 1}
	}
}`

type fakeCarrier struct {
	mu     sync.Mutex
	media  []string
	clears int
	closed int
}

func (f *fakeCarrier) SendMedia(streamSID, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media = append(f.media, streamSID+":"+payload)
	return nil
}

func (f *fakeCarrier) SendClear(streamSID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return nil
}

func (f *fakeCarrier) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeCarrier) mediaFrames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.media...)
}

func (f *fakeCarrier) clearCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clears
}

type toolResult struct {
	callID string
	output string
}

type fakeSpeech struct {
	mu            sync.Mutex
	audio         []string
	injected      []string
	responses     int
	toolResults   []toolResult
	toolResultErr error
	closed        int
}

func (f *fakeSpeech) SendAudio(payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, payload)
	return nil
}

func (f *fakeSpeech) InjectUserText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.injected = append(f.injected, text)
	return nil
}

func (f *fakeSpeech) RequestResponse() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses++
	return nil
}

func (f *fakeSpeech) SendToolResult(callID, output string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.toolResultErr != nil {
		return f.toolResultErr
	}
	f.toolResults = append(f.toolResults, toolResult{callID: callID, output: output})
	return nil
}

func (f *fakeSpeech) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeSpeech) injectedTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.injected...)
}

func (f *fakeSpeech) audioFrames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.audio...)
}

func (f *fakeSpeech) results() []toolResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]toolResult(nil), f.toolResults...)
}

func (f *fakeSpeech) responseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.responses
}

func (f *fakeSpeech) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeConnector struct {
	mu       sync.Mutex
	conn     *fakeSpeech
	onEvent  func(speech.Event)
	onClosed func(error)
	err      error
}

func (f *fakeConnector) Connect(ctx context.Context, onEvent func(speech.Event), onClosed func(err error)) (SpeechConn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.onEvent = onEvent
	f.onClosed = onClosed
	return f.conn, nil
}

func (f *fakeConnector) emit(ev speech.Event) {
	f.mu.Lock()
	fn := f.onEvent
	f.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (f *fakeConnector) ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onEvent != nil
}

type fakeDirectory struct {
	res   *resolver.Resolution
	err   error
	delay time.Duration
}

func (f *fakeDirectory) Resolve(ctx context.Context, accountSID, callSID string) (*resolver.Resolution, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.res, f.err
}

type fakeTools struct {
	mu     sync.Mutex
	result string
	calls  []string
}

func (f *fakeTools) Execute(ctx context.Context, toolName, argumentsJSON, agentID, conversationID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, toolName)
	return f.result
}

func (f *fakeTools) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeFeedback struct {
	mu         sync.Mutex
	onFeedback func(string)
	unsubs     int
}

func (f *fakeFeedback) Subscribe(ctx context.Context, conversationID string, onFeedback func(content string)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFeedback = onFeedback
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubs++
	}, nil
}

func (f *fakeFeedback) deliver(content string) {
	f.mu.Lock()
	fn := f.onFeedback
	f.mu.Unlock()
	if fn != nil {
		fn(content)
	}
}

type fakeCallControl struct {
	mu      sync.Mutex
	hangups []string
}

func (f *fakeCallControl) Hangup(creds twilio.Credentials, callSID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangups = append(f.hangups, callSID)
	return nil
}

func (f *fakeCallControl) hangupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.hangups)
}

type fakeRecorder struct {
	mu     sync.Mutex
	turns  []string
	closed int
}

func (f *fakeRecorder) Append(role, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, role+":"+content)
}

func (f *fakeRecorder) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
}

func (f *fakeRecorder) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.turns...)
}

type harness struct {
	sess      *CallSession
	carrier   *fakeCarrier
	speech    *fakeSpeech
	connector *fakeConnector
	directory *fakeDirectory
	tools     *fakeTools
	feedback  *fakeFeedback
	callctl   *fakeCallControl
	recorder  *fakeRecorder
}

func testResolution() *resolver.Resolution {
	return &resolver.Resolution{
		AgentID:        "agent-1",
		OrganizationID: "org-1",
		ConversationID: "conv-1",
		AgentNumber:    "+10000000001",
		ContactNumber:  "+10000000002",
		Credentials:    twilio.Credentials{AccountSID: "AC2222", AuthToken: "token"},
	}
}

func newHarness(t *testing.T, dir *fakeDirectory) *harness {
	t.Helper()

	h := &harness{
		carrier:   &fakeCarrier{},
		speech:    &fakeSpeech{},
		directory: dir,
		tools:     &fakeTools{result: "tool output"},
		feedback:  &fakeFeedback{},
		callctl:   &fakeCallControl{},
		recorder:  &fakeRecorder{},
	}
	h.connector = &fakeConnector{conn: h.speech}

	cfg := &config.BridgeConfig{
		SilenceInitialDelay:  150 * time.Millisecond,
		SilenceFollowupDelay: 50 * time.Millisecond,
	}
	h.sess = New(h.carrier, Deps{
		Config:      cfg,
		Connector:   h.connector,
		Directory:   h.directory,
		Tools:       h.tools,
		Feedback:    h.feedback,
		CallControl: h.callctl,
		NewRecorder: func(conversationID string) TranscriptRecorder { return h.recorder },
	})

	go h.sess.Run()
	t.Cleanup(func() {
		h.sess.Close()
		<-h.sess.Done()
	})
	return h
}

// start drives the session through the carrier start event and waits for the
// speech backend to be connected.
func (h *harness) start(t *testing.T) {
	t.Helper()
	h.sess.HandleCarrierFrame([]byte(startFrame))
	require.Eventually(t, h.connector.ready, time.Second, time.Millisecond)
}

func (h *harness) activate(t *testing.T) {
	t.Helper()
	h.start(t)
	h.connector.emit(speech.Event{Type: speech.EventSessionCreated})
	require.Eventually(t, func() bool {
		return len(h.speech.injectedTexts()) >= 1
	}, time.Second, time.Millisecond, "greeting was not injected")
}

func TestGreetingSentExactlyOnce(t *testing.T) {
	h := newHarness(t, &fakeDirectory{res: testResolution()})
	h.activate(t)

	// duplicate session-ready must not produce a second greeting
	h.connector.emit(speech.Event{Type: speech.EventSessionCreated})
	time.Sleep(20 * time.Millisecond)

	greetings := 0
	for _, text := range h.speech.injectedTexts() {
		if strings.HasPrefix(text, "[INITIAL_GREETING") {
			greetings++
		}
	}
	assert.Equal(t, 1, greetings)
}

func TestInboundMediaRelayedExactlyOnce(t *testing.T) {
	h := newHarness(t, &fakeDirectory{res: testResolution()})
	h.start(t)

	h.sess.HandleCarrierFrame([]byte(`{"event":"media","media":{"payload":"AAA="}}`))

	require.Eventually(t, func() bool {
		return len(h.speech.audioFrames()) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"AAA="}, h.speech.audioFrames())

	// no duplicates arrive later
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, h.speech.audioFrames(), 1)
}

func TestOutboundAudioRelayedToCarrier(t *testing.T) {
	h := newHarness(t, &fakeDirectory{res: testResolution()})
	h.start(t)

	h.connector.emit(speech.Event{Type: speech.EventAudioDelta, Delta: "BBB="})

	require.Eventually(t, func() bool {
		return len(h.carrier.mediaFrames()) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, "MZ0000:BBB=", h.carrier.mediaFrames()[0])
}

func TestBargeInClearsCarrierBuffer(t *testing.T) {
	h := newHarness(t, &fakeDirectory{res: testResolution()})
	h.activate(t)

	h.connector.emit(speech.Event{Type: speech.EventSpeechStarted})

	require.Eventually(t, func() bool {
		return h.carrier.clearCount() == 1
	}, time.Second, time.Millisecond)
}

func TestIdleTimerNudgesAfterSilence(t *testing.T) {
	h := newHarness(t, &fakeDirectory{res: testResolution()})
	h.activate(t)

	// the greeting arms the initial timer; nothing else happens
	require.Eventually(t, func() bool {
		for _, text := range h.speech.injectedTexts() {
			if strings.HasPrefix(text, "[INTERNAL_SILENCE_PROMPT") {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
}

func TestIdleTimerSingleArming(t *testing.T) {
	h := newHarness(t, &fakeDirectory{res: testResolution()})
	h.activate(t)

	// caller speaks, then the exchange completes: speech_stopped and
	// audio done in quick succession must leave exactly one live timer
	h.connector.emit(speech.Event{Type: speech.EventSpeechStarted})
	h.connector.emit(speech.Event{Type: speech.EventSpeechStopped})
	h.connector.emit(speech.Event{Type: speech.EventAudioDone})

	time.Sleep(250 * time.Millisecond)

	prompts := 0
	for _, text := range h.speech.injectedTexts() {
		if strings.HasPrefix(text, "[INTERNAL_SILENCE_PROMPT") {
			prompts++
		}
	}
	assert.Equal(t, 1, prompts)
}

func TestBargeInCancelsIdleTimer(t *testing.T) {
	h := newHarness(t, &fakeDirectory{res: testResolution()})
	h.activate(t)

	// speech starts right away and never stops: no silence prompt may fire
	h.connector.emit(speech.Event{Type: speech.EventSpeechStarted})
	time.Sleep(300 * time.Millisecond)

	for _, text := range h.speech.injectedTexts() {
		assert.False(t, strings.HasPrefix(text, "[INTERNAL_SILENCE_PROMPT"),
			"silence prompt fired while the caller was speaking")
	}
}

func TestTranscriptsRecordedInOrder(t *testing.T) {
	h := newHarness(t, &fakeDirectory{res: testResolution()})
	h.activate(t)

	h.connector.emit(speech.Event{Type: speech.EventUserTranscriptDone, Transcript: "hello"})
	h.connector.emit(speech.Event{Type: speech.EventAssistantTranscriptDone, Transcript: "hi there"})
	h.connector.emit(speech.Event{Type: speech.EventUserTranscriptDone, Transcript: "bye"})

	require.Eventually(t, func() bool {
		return len(h.recorder.recorded()) == 3
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"user:hello", "assistant:hi there", "user:bye"}, h.recorder.recorded())
}

func TestEmptyTranscriptNotRecorded(t *testing.T) {
	h := newHarness(t, &fakeDirectory{res: testResolution()})
	h.activate(t)

	h.connector.emit(speech.Event{Type: speech.EventUserTranscriptDone, Transcript: ""})
	time.Sleep(20 * time.Millisecond)

	assert.Empty(t, h.recorder.recorded())
}

func TestToolResultAlwaysCarriesCallID(t *testing.T) {
	h := newHarness(t, &fakeDirectory{res: testResolution()})
	h.activate(t)

	h.connector.emit(speech.Event{
		Type:      speech.EventToolCallDone,
		ToolName:  tool.ToolNamePhoneAgent,
		Arguments: `{"query":"hours"}`,
		CallID:    "call_42",
	})

	require.Eventually(t, func() bool {
		return len(h.speech.results()) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, toolResult{callID: "call_42", output: "tool output"}, h.speech.results()[0])
	assert.Equal(t, 1, h.tools.callCount())
}

func TestResponseRequestedEvenWhenToolResultSendFails(t *testing.T) {
	h := newHarness(t, &fakeDirectory{res: testResolution()})
	h.activate(t)

	base := h.speech.responseCount()
	h.speech.mu.Lock()
	h.speech.toolResultErr = errors.New("send failed")
	h.speech.mu.Unlock()

	h.connector.emit(speech.Event{
		Type:      speech.EventToolCallDone,
		ToolName:  tool.ToolNamePhoneAgent,
		Arguments: `{"query":"hours"}`,
		CallID:    "call_43",
	})

	require.Eventually(t, func() bool {
		return h.speech.responseCount() > base
	}, time.Second, time.Millisecond)
	assert.Empty(t, h.speech.results())
}

func TestCallEndTearsDownAndHangsUp(t *testing.T) {
	h := newHarness(t, &fakeDirectory{res: testResolution()})
	h.activate(t)

	h.connector.emit(speech.Event{
		Type:     speech.EventToolCallDone,
		ToolName: tool.ToolNameCallEnd,
		CallID:   "call_end_1",
	})

	select {
	case <-h.sess.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not close after call_end")
	}

	assert.Equal(t, 1, h.callctl.hangupCount())
	assert.Equal(t, 1, h.speech.closeCount())
	assert.Equal(t, 1, h.recorder.closed)
	assert.Equal(t, 1, h.feedback.unsubs)
}

func TestTeardownRunsOnceUnderConcurrentStop(t *testing.T) {
	h := newHarness(t, &fakeDirectory{res: testResolution()})
	h.activate(t)

	// carrier stop and an external close race each other
	go h.sess.HandleCarrierFrame([]byte(`{"event":"stop"}`))
	go h.sess.Close()

	select {
	case <-h.sess.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not close")
	}

	assert.Equal(t, 1, h.callctl.hangupCount())
	assert.Equal(t, 1, h.speech.closeCount())
	h.carrier.mu.Lock()
	assert.Equal(t, 1, h.carrier.closed)
	h.carrier.mu.Unlock()
}

func TestDegradedModeWhenResolutionFails(t *testing.T) {
	h := newHarness(t, &fakeDirectory{err: resolver.ErrNotFound})
	h.start(t)
	h.connector.emit(speech.Event{Type: speech.EventSessionCreated})

	// audio still flows both ways
	h.sess.HandleCarrierFrame([]byte(`{"event":"media","media":{"payload":"AAA="}}`))
	h.connector.emit(speech.Event{Type: speech.EventAudioDelta, Delta: "BBB="})
	require.Eventually(t, func() bool {
		return len(h.speech.audioFrames()) == 1 && len(h.carrier.mediaFrames()) == 1
	}, time.Second, time.Millisecond)

	// tool calls are answered with the error placeholder without dispatch
	h.connector.emit(speech.Event{
		Type:      speech.EventToolCallDone,
		ToolName:  tool.ToolNamePhoneAgent,
		Arguments: `{"query":"hours"}`,
		CallID:    "call_7",
	})
	require.Eventually(t, func() bool {
		return len(h.speech.results()) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, toolResult{callID: "call_7", output: tool.ErrorResult}, h.speech.results()[0])
	assert.Equal(t, 0, h.tools.callCount())

	// no greeting, no transcript, no silence prompts
	time.Sleep(60 * time.Millisecond)
	for _, text := range h.speech.injectedTexts() {
		assert.False(t, strings.HasPrefix(text, "[INITIAL_GREETING"))
		assert.False(t, strings.HasPrefix(text, "[INTERNAL_SILENCE_PROMPT"))
	}
	assert.Empty(t, h.recorder.recorded())

	// teardown must not attempt a hangup without credentials
	h.sess.Close()
	<-h.sess.Done()
	assert.Equal(t, 0, h.callctl.hangupCount())
}

func TestDegradedModeCancelsPendingIdleTimer(t *testing.T) {
	// the lookup fails while a followup timer armed during resolution is
	// still pending; entering degraded mode must disarm it
	h := newHarness(t, &fakeDirectory{err: resolver.ErrNotFound, delay: 20 * time.Millisecond})
	h.start(t)

	h.connector.emit(speech.Event{Type: speech.EventSpeechStarted})
	h.connector.emit(speech.Event{Type: speech.EventSpeechStopped})

	time.Sleep(300 * time.Millisecond)

	for _, text := range h.speech.injectedTexts() {
		assert.False(t, strings.HasPrefix(text, "[INTERNAL_SILENCE_PROMPT"),
			"silence prompt injected in degraded mode")
	}
}

func TestFeedbackInjectedIntoLiveCall(t *testing.T) {
	h := newHarness(t, &fakeDirectory{res: testResolution()})
	h.activate(t)

	h.feedback.deliver("ask them about their order number")

	require.Eventually(t, func() bool {
		for _, text := range h.speech.injectedTexts() {
			if text == "ask them about their order number" {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
}

func TestSpeechConnectionLossEndsSession(t *testing.T) {
	h := newHarness(t, &fakeDirectory{res: testResolution()})
	h.activate(t)

	h.connector.onClosed(errors.New("backend went away"))

	select {
	case <-h.sess.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not close after backend loss")
	}
}

func TestCarrierDisconnectEndsSession(t *testing.T) {
	h := newHarness(t, &fakeDirectory{res: testResolution()})
	h.activate(t)

	h.sess.CarrierClosed(errors.New("peer reset"))

	select {
	case <-h.sess.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not close after carrier disconnect")
	}
	assert.Equal(t, 1, h.speech.closeCount())
}

func TestMalformedCarrierFrameIgnored(t *testing.T) {
	h := newHarness(t, &fakeDirectory{res: testResolution()})
	h.activate(t)

	h.sess.HandleCarrierFrame([]byte(`{"event":`))
	h.sess.HandleCarrierFrame([]byte(`{"event":"media","media":{"payload":"AAA="}}`))

	require.Eventually(t, func() bool {
		return len(h.speech.audioFrames()) == 1
	}, time.Second, time.Millisecond)
}
