package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codehornets/supacall/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConversationRepository handles database operations for conversations,
// contacts and conversation turns
type ConversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// GetContactByPhone returns the contact matched by phone number for an agent, or ErrNotFound
func (r *ConversationRepository) GetContactByPhone(ctx context.Context, phoneNumber, agentID, organizationID string) (*domain.Contact, error) {
	var contact domain.Contact
	err := r.db.WithContext(ctx).
		Where("phone_number = ? AND agent_id = ? AND organization_id = ?", phoneNumber, agentID, organizationID).
		First(&contact).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get contact by phone: %w", err)
	}
	return &contact, nil
}

// CreateContact creates a new contact for the agent
func (r *ConversationRepository) CreateContact(ctx context.Context, agentID, phoneNumber, organizationID string) (*domain.Contact, error) {
	now := time.Now()
	contact := &domain.Contact{
		ID:             uuid.New().String(),
		AgentID:        agentID,
		OrganizationID: organizationID,
		PhoneNumber:    phoneNumber,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.db.WithContext(ctx).Create(contact).Error; err != nil {
		return nil, fmt.Errorf("failed to create contact: %w", err)
	}
	return contact, nil
}

// CreateConversation creates a conversation for the agent, reusing an existing
// contact matched by phone number or creating one
func (r *ConversationRepository) CreateConversation(ctx context.Context, agentID, contactPhone, organizationID string) (*domain.Conversation, error) {
	contact, err := r.GetContactByPhone(ctx, contactPhone, agentID, organizationID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		contact, err = r.CreateContact(ctx, agentID, contactPhone, organizationID)
		if err != nil {
			return nil, err
		}
	}

	now := time.Now()
	conversation := &domain.Conversation{
		ID:             uuid.New().String(),
		AgentID:        agentID,
		ContactID:      contact.ID,
		OrganizationID: organizationID,
		StartedAt:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.db.WithContext(ctx).Create(conversation).Error; err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conversation, nil
}

// GetConversation returns a conversation by id, or ErrNotFound
func (r *ConversationRepository) GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	var conversation domain.Conversation
	if err := r.db.WithContext(ctx).Where("id = ?", conversationID).First(&conversation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conversation, nil
}

// AppendTurn appends one turn to the conversation. Turns are append-only;
// callers serialize appends per conversation.
func (r *ConversationRepository) AppendTurn(ctx context.Context, conversationID, role, content string) (*domain.ConversationTurn, error) {
	turn := &domain.ConversationTurn{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(turn).Error; err != nil {
		return nil, fmt.Errorf("failed to append conversation turn: %w", err)
	}
	return turn, nil
}

// GetTurns returns the conversation's turns in append order
func (r *ConversationRepository) GetTurns(ctx context.Context, conversationID string) ([]domain.ConversationTurn, error) {
	var turns []domain.ConversationTurn
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&turns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation turns: %w", err)
	}
	return turns, nil
}

// EndConversation stamps the conversation's end time
func (r *ConversationRepository) EndConversation(ctx context.Context, conversationID string) error {
	now := time.Now()
	err := r.db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{"ended_at": now, "updated_at": now}).Error
	if err != nil {
		return fmt.Errorf("failed to end conversation: %w", err)
	}
	return nil
}

// AppendContactEnquiry appends an enquiry note to the contact owning the conversation
func (r *ConversationRepository) AppendContactEnquiry(ctx context.Context, conversationID, note string) error {
	conversation, err := r.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}

	var contact domain.Contact
	if err := r.db.WithContext(ctx).Where("id = ?", conversation.ContactID).First(&contact).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get contact: %w", err)
	}

	enquiries := contact.RecentEnquiries
	if enquiries != "" {
		enquiries += "\n"
	}
	enquiries += note

	err = r.db.WithContext(ctx).
		Model(&domain.Contact{}).
		Where("id = ?", contact.ID).
		Updates(map[string]interface{}{"recent_enquiries": enquiries, "updated_at": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("failed to update contact enquiries: %w", err)
	}
	return nil
}
