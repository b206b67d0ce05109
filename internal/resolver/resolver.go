package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/codehornets/supacall/internal/repository"
	"github.com/codehornets/supacall/pkg/logger"
	"github.com/codehornets/supacall/pkg/twilio"
	"go.uber.org/zap"
)

// ErrNotFound is returned when any stage of directory resolution has no
// match. The call session treats it as a signal to enter degraded mode, not
// as a failure.
var ErrNotFound = errors.New("call directory entry not found")

// Resolution is the outcome of resolving a carrier start event: which tenant
// and agent own the call, its participants, the credentials for call control
// and the conversation the call's transcript belongs to.
type Resolution struct {
	AgentID        string
	OrganizationID string
	ConversationID string
	AgentNumber    string
	ContactNumber  string
	Credentials    twilio.Credentials
}

// CallFetcher fetches live call state from the carrier
type CallFetcher interface {
	FetchCall(creds twilio.Credentials, callSID string) (*twilio.CallInfo, error)
}

// Directory resolves which tenant/agent owns a call and prepares its
// conversation record
type Directory struct {
	repos   repository.RepositoryManager
	carrier CallFetcher
}

// NewDirectory creates a call directory resolver
func NewDirectory(repos repository.RepositoryManager, carrier CallFetcher) *Directory {
	return &Directory{repos: repos, carrier: carrier}
}

// Resolve runs the full lookup chain for a carrier start event:
// account credentials, call participants, owning agent, conversation.
func (d *Directory) Resolve(ctx context.Context, accountSID, callSID string) (*Resolution, error) {
	accountConfig, err := d.repos.PhoneConfig().GetByAccountSID(ctx, accountSID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.Base().Warn("No tenant credentials for carrier account",
				zap.String("account_sid", accountSID))
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("account lookup failed: %w", err)
	}

	creds := twilio.Credentials{
		AccountSID: accountConfig.AccountSID,
		AuthToken:  accountConfig.AuthToken,
	}

	call, err := d.carrier.FetchCall(creds, callSID)
	if err != nil {
		return nil, fmt.Errorf("call fetch failed: %w", err)
	}

	// outbound-initiated calls flip the agent/contact mapping
	agentNumber, contactNumber := call.To, call.From
	if call.IsOutbound() {
		agentNumber, contactNumber = call.From, call.To
	}

	agentConfig, err := d.repos.PhoneConfig().GetByPhoneNumber(ctx, agentNumber)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.Base().Warn("No agent owns the agent-facing number",
				zap.String("phone_number", agentNumber))
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("agent lookup failed: %w", err)
	}

	conversation, err := d.repos.Conversation().CreateConversation(ctx,
		agentConfig.AgentID, contactNumber, agentConfig.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("conversation setup failed: %w", err)
	}

	logger.Base().Info("Call resolved",
		zap.String("call_sid", callSID),
		zap.String("agent_id", agentConfig.AgentID),
		zap.String("conversation_id", conversation.ID))

	return &Resolution{
		AgentID:        agentConfig.AgentID,
		OrganizationID: agentConfig.OrganizationID,
		ConversationID: conversation.ID,
		AgentNumber:    agentNumber,
		ContactNumber:  contactNumber,
		Credentials:    creds,
	}, nil
}
