package config

import (
	"os"
	"strconv"
	"time"
)

// BridgeConfig holds the voice bridge service configuration
type BridgeConfig struct {
	Port string

	// OpenAI Realtime API configuration
	OpenAIAPIKey      string
	OpenAIRealtimeURL string

	// Public domain Twilio uses to reach the media-stream WebSocket
	WebhookDomain string

	// Redis configuration (conversation mirror + feedback notifications)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// External agent executor endpoint for the phone_agent tool
	AgentExecutorURL string

	// Idle-silence re-engagement delays
	SilenceInitialDelay  time.Duration
	SilenceFollowupDelay time.Duration

	// Maximum concurrent call sessions accepted by this instance
	MaxSessions int
}

// DefaultRealtimeModelURL is the OpenAI realtime endpoint the speech adapter dials.
const DefaultRealtimeModelURL = "wss://api.openai.com/v1/realtime?model=gpt-4o-mini-realtime-preview"

const (
	// DefaultSilenceInitialDelay applies before the caller has ever spoken.
	DefaultSilenceInitialDelay = 3000 * time.Millisecond
	// DefaultSilenceFollowupDelay applies once the caller has spoken at least once.
	DefaultSilenceFollowupDelay = 8000 * time.Millisecond
)

// Message roles shared across persistence and the realtime protocol
const (
	MessageRoleUser          = "user"
	MessageRoleAssistant     = "assistant"
	MessageRoleHumanFeedback = "human_feedback"
)

// LoadBridgeConfig loads bridge configuration from environment variables
func LoadBridgeConfig() *BridgeConfig {
	return &BridgeConfig{
		Port:              GetEnvOrDefault("PORT", "8080"),
		OpenAIAPIKey:      GetEnvOrDefault("OPENAI_API_KEY", ""),
		OpenAIRealtimeURL: GetEnvOrDefault("OPENAI_REALTIME_URL", DefaultRealtimeModelURL),
		WebhookDomain:     GetEnvOrDefault("TWILIO_WEBHOOK_DOMAIN", ""),
		RedisAddr:         GetEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     GetEnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:           GetEnvAsIntOrDefault("REDIS_DB", 0),
		AgentExecutorURL:  GetEnvOrDefault("AGENT_EXECUTOR_URL", ""),
		SilenceInitialDelay: time.Duration(
			GetEnvAsIntOrDefault("SILENCE_INITIAL_DELAY_MS", int(DefaultSilenceInitialDelay/time.Millisecond))) * time.Millisecond,
		SilenceFollowupDelay: time.Duration(
			GetEnvAsIntOrDefault("SILENCE_FOLLOWUP_DELAY_MS", int(DefaultSilenceFollowupDelay/time.Millisecond))) * time.Millisecond,
		MaxSessions: GetEnvAsIntOrDefault("MAX_SESSIONS", 50),
	}
}

// GetEnvOrDefault gets an environment variable or returns the default
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvAsIntOrDefault gets an environment variable as int or returns the default
func GetEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
