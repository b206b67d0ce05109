package twilio

import (
	"fmt"

	"github.com/codehornets/supacall/pkg/logger"
	twiliogo "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"
	"go.uber.org/zap"
)

// Credentials are the per-tenant carrier credentials resolved for one call
type Credentials struct {
	AccountSID string
	AuthToken  string
}

// CallInfo is the subset of carrier call state the bridge needs
type CallInfo struct {
	Direction string
	From      string
	To        string
}

// IsOutbound reports whether the call was initiated through the carrier API
func (c CallInfo) IsOutbound() bool {
	return c.Direction == "outbound-api"
}

// CallControl talks to the carrier's call-control REST API. Clients are
// constructed per call with the tenant's resolved credentials; nothing here
// is shared across calls.
type CallControl struct{}

// NewCallControl creates a call control client
func NewCallControl() *CallControl {
	return &CallControl{}
}

func restClient(creds Credentials) *twiliogo.RestClient {
	return twiliogo.NewRestClientWithParams(twiliogo.ClientParams{
		Username: creds.AccountSID,
		Password: creds.AuthToken,
	})
}

// FetchCall returns direction and participant numbers for a live call
func (c *CallControl) FetchCall(creds Credentials, callSID string) (*CallInfo, error) {
	call, err := restClient(creds).Api.FetchCall(callSID, &openapi.FetchCallParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch call %s: %w", callSID, err)
	}

	info := &CallInfo{}
	if call.Direction != nil {
		info.Direction = *call.Direction
	}
	if call.From != nil {
		info.From = *call.From
	}
	if call.To != nil {
		info.To = *call.To
	}
	return info, nil
}

// Hangup asks the carrier to terminate the underlying call
func (c *CallControl) Hangup(creds Credentials, callSID string) error {
	params := &openapi.UpdateCallParams{}
	params.SetStatus("completed")

	if _, err := restClient(creds).Api.UpdateCall(callSID, params); err != nil {
		return fmt.Errorf("failed to hang up call %s: %w", callSID, err)
	}

	logger.Base().Info("Carrier call terminated", zap.String("call_sid", callSID))
	return nil
}

// CreateCall initiates an outbound call that plays the announcement and then
// connects its media stream back to this bridge
func (c *CallControl) CreateCall(creds Credentials, from, to, twimlDoc string) error {
	params := &openapi.CreateCallParams{}
	params.SetFrom(from)
	params.SetTo(to)
	params.SetTwiml(twimlDoc)

	if _, err := restClient(creds).Api.CreateCall(params); err != nil {
		return fmt.Errorf("failed to create call to %s: %w", to, err)
	}

	logger.Base().Info("Outbound call initiated", zap.String("to", to), zap.String("from", from))
	return nil
}

// StreamTwiML renders the voice response that announces the call and connects
// the media stream to the bridge's WebSocket endpoint
func StreamTwiML(announcement, webhookDomain string) (string, error) {
	say := &twiml.VoiceSay{
		Message:  announcement,
		Language: "en",
	}
	stream := twiml.VoiceStream{
		Url: fmt.Sprintf("wss://%s/phone-call", webhookDomain),
	}
	connect := twiml.VoiceConnect{
		InnerElements: []twiml.Element{stream},
	}
	return twiml.Voice([]twiml.Element{say, connect})
}
