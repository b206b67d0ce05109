package domain

import (
	"time"
)

// Conversation represents one persisted phone conversation between a caller
// and an agent. A live call maps to exactly one conversation for its duration.
type Conversation struct {
	ID             string    `json:"id" gorm:"column:id;primaryKey"`
	AgentID        string    `json:"agent_id" gorm:"column:agent_id;index"`
	ContactID      string    `json:"contact_id" gorm:"column:contact_id"`
	OrganizationID string    `json:"organization_id" gorm:"column:organization_id;index"`
	StartedAt      time.Time `json:"started_at" gorm:"column:started_at"`
	EndedAt        time.Time `json:"ended_at" gorm:"column:ended_at"`
	CreatedAt      time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// ConversationTurn is one attributed utterance in a conversation.
// Turns are append-only; append order is the authoritative order.
type ConversationTurn struct {
	ID             string    `json:"id" gorm:"column:id;primaryKey"`
	ConversationID string    `json:"conversation_id" gorm:"column:conversation_id;index"`
	Role           string    `json:"role" gorm:"column:role"` // user, assistant, human_feedback
	Content        string    `json:"content" gorm:"column:content"`
	CreatedAt      time.Time `json:"created_at" gorm:"column:created_at"`
}

func (ConversationTurn) TableName() string {
	return "conversation_turns"
}

// Turn is the wire/mirror representation of a conversation turn, stored as a
// JSON array under the redis key conversation:<id>.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Contact is the counterpart a conversation is held with, matched by phone number.
type Contact struct {
	ID              string    `json:"id" gorm:"column:id;primaryKey"`
	AgentID         string    `json:"agent_id" gorm:"column:agent_id;index"`
	OrganizationID  string    `json:"organization_id" gorm:"column:organization_id"`
	PhoneNumber     string    `json:"phone_number" gorm:"column:phone_number;index"`
	RecentEnquiries string    `json:"recent_enquiries" gorm:"column:recent_enquiries"`
	CreatedAt       time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt       time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (Contact) TableName() string {
	return "contacts"
}

// PhoneConfig maps a carrier account and phone number to the agent that owns it,
// together with the carrier credentials used for call control.
type PhoneConfig struct {
	ID             string    `json:"id" gorm:"column:id;primaryKey"`
	AgentID        string    `json:"agent_id" gorm:"column:agent_id;index"`
	OrganizationID string    `json:"organization_id" gorm:"column:organization_id"`
	AccountSID     string    `json:"account_sid" gorm:"column:account_sid;index"`
	AuthToken      string    `json:"auth_token" gorm:"column:auth_token"`
	PhoneNumber    string    `json:"phone_number" gorm:"column:phone_number;index"`
	CreatedAt      time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (PhoneConfig) TableName() string {
	return "phone_configs"
}

// ConversationKey returns the redis key holding the mirrored turn list.
func ConversationKey(conversationID string) string {
	return "conversation:" + conversationID
}
