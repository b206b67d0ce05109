package prompts

import (
	"fmt"
	"math/rand"
)

// SessionInstructions is the base system prompt configured on the realtime
// session. The [INITIAL_GREETING:] and [INTERNAL_SILENCE_PROMPT:] markers are
// injected by the call session as synthetic user turns and must be rendered
// naturally, never read out verbatim.
const SessionInstructions = `You are a helpful voice sales agent.
You are integrated with an inventory agent tool.
You need to keep track of enquiries upon the inventory item mentioned.

IMPORTANT: When you receive messages starting with [INTERNAL_SILENCE_PROMPT:] or [INITIAL_GREETING:],
respond naturally with the suggested text, but make it sound conversational and engaging.
Don't mention that this is an internal prompt.`

// Greetings is the fixed pool the initial greeting is chosen from.
var Greetings = []string{
	"Hello! Thanks for calling. How can I help you today?",
	"Hi there! I'm here to assist you. What can I do for you?",
	"Good day! I'm your AI assistant. How may I help you today?",
	"Hello! I'm here to help with any questions you might have. What's on your mind?",
}

// SilencePrompts is the fixed pool of re-engagement prompts injected when the
// caller has been quiet past the idle threshold.
var SilencePrompts = []string{
	"Are you still there? I'm happy to keep helping if you have more questions.",
	"Just checking in — is there anything else I can help you with?",
	"Take your time. Whenever you're ready, let me know how I can help.",
	"I'm still here if you need anything else.",
}

// RandomGreeting returns one greeting wrapped in the internal greeting marker.
func RandomGreeting() string {
	greeting := Greetings[rand.Intn(len(Greetings))]
	return fmt.Sprintf("[INITIAL_GREETING: Please greet the caller with: %q]", greeting)
}

// RandomSilencePrompt returns one silence-breaking prompt wrapped in the
// internal prompt marker.
func RandomSilencePrompt() string {
	prompt := SilencePrompts[rand.Intn(len(SilencePrompts))]
	return fmt.Sprintf("[INTERNAL_SILENCE_PROMPT: %s]", prompt)
}

// CallAnnouncement is the voice prompt played before the media stream is
// connected, for both inbound and outbound calls.
const CallAnnouncement = "This call might be recorded or monitored for quality assurance purposes"
