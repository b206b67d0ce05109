package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/codehornets/supacall/internal/domain"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a directory lookup has no match. Callers treat
// it as a non-fatal miss, not a failure.
var ErrNotFound = errors.New("record not found")

// PhoneConfigRepository handles lookups against the phone_configs directory
type PhoneConfigRepository struct {
	db *gorm.DB
}

// NewPhoneConfigRepository creates a new phone config repository
func NewPhoneConfigRepository(db *gorm.DB) *PhoneConfigRepository {
	return &PhoneConfigRepository{db: db}
}

// GetByAccountSID returns the phone config holding carrier credentials for the account
func (r *PhoneConfigRepository) GetByAccountSID(ctx context.Context, accountSID string) (*domain.PhoneConfig, error) {
	var cfg domain.PhoneConfig
	if err := r.db.WithContext(ctx).Where("account_sid = ?", accountSID).First(&cfg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get phone config by account sid: %w", err)
	}
	return &cfg, nil
}

// GetByPhoneNumber returns the phone config owning the agent-facing phone number
func (r *PhoneConfigRepository) GetByPhoneNumber(ctx context.Context, phoneNumber string) (*domain.PhoneConfig, error) {
	var cfg domain.PhoneConfig
	if err := r.db.WithContext(ctx).Where("phone_number = ?", phoneNumber).First(&cfg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get phone config by phone number: %w", err)
	}
	return &cfg, nil
}

// GetByAgentID returns the phone config for an agent, used for outbound call setup
func (r *PhoneConfigRepository) GetByAgentID(ctx context.Context, agentID string) (*domain.PhoneConfig, error) {
	var cfg domain.PhoneConfig
	if err := r.db.WithContext(ctx).Where("agent_id = ?", agentID).First(&cfg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get phone config by agent id: %w", err)
	}
	return &cfg, nil
}
