package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// RepositoryManager combines the repositories the bridge depends on
type RepositoryManager interface {
	PhoneConfig() *PhoneConfigRepository
	Conversation() *ConversationRepository

	// Health check
	Ping(ctx context.Context) error

	// Close connection
	Close() error
}

// GormRepositoryManager implements RepositoryManager using GORM
type GormRepositoryManager struct {
	db               *gorm.DB
	phoneConfigRepo  *PhoneConfigRepository
	conversationRepo *ConversationRepository
}

// NewGormRepositoryManager creates a new GORM repository manager
func NewGormRepositoryManager(db *gorm.DB) *GormRepositoryManager {
	return &GormRepositoryManager{
		db:               db,
		phoneConfigRepo:  NewPhoneConfigRepository(db),
		conversationRepo: NewConversationRepository(db),
	}
}

// NewRepositoryManager creates a repository manager backed by a fresh database connection
func NewRepositoryManager() (RepositoryManager, error) {
	cfg := LoadDatabaseConfigFromEnv()
	db, err := NewDatabaseConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to run auto migration: %w", err)
	}

	return NewGormRepositoryManager(db), nil
}

// PhoneConfig returns the phone config repository
func (m *GormRepositoryManager) PhoneConfig() *PhoneConfigRepository {
	return m.phoneConfigRepo
}

// Conversation returns the conversation repository
func (m *GormRepositoryManager) Conversation() *ConversationRepository {
	return m.conversationRepo
}

// Ping checks the database connection
func (m *GormRepositoryManager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (m *GormRepositoryManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
