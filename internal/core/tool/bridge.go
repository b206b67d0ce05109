package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/codehornets/supacall/pkg/logger"
	"go.uber.org/zap"
)

// Tool name constants
const (
	ToolNamePhoneAgent      = "phone_agent"
	ToolNameCallEnd         = "call_end"
	ToolNameUpdateEnquiries = "update_recent_enquiries"
)

// ErrorResult is delivered to the backend whenever tool execution fails. The
// backend's turn-taking protocol requires a result for every call, so a
// failure substitutes this placeholder instead of stalling the turn.
const ErrorResult = "Error handling function call"

// Definitions returns the tool schema set declared on every speech session.
func Definitions() []interface{} {
	return []interface{}{
		map[string]interface{}{
			"type":        "function",
			"name":        ToolNamePhoneAgent,
			"description": "Access the agent to get information",
			"parameters": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "The user inquiry or request",
					},
				},
				"required": []string{"query"},
			},
		},
		map[string]interface{}{
			"type":        "function",
			"name":        ToolNameCallEnd,
			"description": "Call this function when the user wants to end the call or you want to end the call",
			"parameters": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"reason": map[string]interface{}{},
				},
			},
		},
		map[string]interface{}{
			"type":        "function",
			"name":        ToolNameUpdateEnquiries,
			"description": "Update the recent enquiries whenever inventory item is mentioned",
			"parameters": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"item_and_reason": map[string]interface{}{
						"type":        "string",
						"description": "The item and reason for updating the recent enquiries",
					},
				},
				"required": []string{"item_and_reason"},
			},
		},
	}
}

// AgentExecutor dispatches agent queries to the external agent-execution service
type AgentExecutor interface {
	Execute(ctx context.Context, agentID, conversationID, query string) (string, error)
}

// EnquiryStore records enquiry notes against the conversation's contact
type EnquiryStore interface {
	AppendContactEnquiry(ctx context.Context, conversationID, note string) error
}

// Bridge dispatches backend-requested function calls to external services and
// shapes results the way the speech backend expects. call_end is not handled
// here: ending the call is a session-level side effect.
type Bridge struct {
	executor AgentExecutor
	store    EnquiryStore
}

// NewBridge creates a tool invocation bridge
func NewBridge(executor AgentExecutor, store EnquiryStore) *Bridge {
	return &Bridge{executor: executor, store: store}
}

// Execute runs one tool call and returns the result text to deliver to the
// backend. Any failure is caught and substituted with ErrorResult; the caller
// must still deliver it and request the next response turn.
func (b *Bridge) Execute(ctx context.Context, toolName, argumentsJSON, agentID, conversationID string) string {
	result, err := b.execute(ctx, toolName, argumentsJSON, agentID, conversationID)
	if err != nil {
		logger.Base().Error("Tool execution failed",
			zap.String("tool", toolName),
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		return ErrorResult
	}
	return result
}

func (b *Bridge) execute(ctx context.Context, toolName, argumentsJSON, agentID, conversationID string) (string, error) {
	switch toolName {
	case ToolNamePhoneAgent:
		if b.executor == nil {
			return "", fmt.Errorf("agent executor not configured")
		}
		var args struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
			return "", fmt.Errorf("failed to parse %s arguments: %w", toolName, err)
		}
		return b.executor.Execute(ctx, agentID, conversationID, args.Query)

	case ToolNameUpdateEnquiries:
		if b.store == nil {
			return "", fmt.Errorf("enquiry store not configured")
		}
		var args struct {
			ItemAndReason string `json:"item_and_reason"`
		}
		if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
			return "", fmt.Errorf("failed to parse %s arguments: %w", toolName, err)
		}
		if err := b.store.AppendContactEnquiry(ctx, conversationID, args.ItemAndReason); err != nil {
			return "", err
		}
		return "Recent enquiries updated", nil

	default:
		return "", fmt.Errorf("unknown tool: %s", toolName)
	}
}

// HTTPAgentExecutor calls the external agent-execution service over HTTP
type HTTPAgentExecutor struct {
	baseURL string
	client  *http.Client
}

// NewHTTPAgentExecutor creates an agent executor client
func NewHTTPAgentExecutor(baseURL string) *HTTPAgentExecutor {
	return &HTTPAgentExecutor{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Execute posts the query to the agent execution endpoint and returns its text result
func (e *HTTPAgentExecutor) Execute(ctx context.Context, agentID, conversationID, query string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"agentId":        agentID,
		"conversationId": conversationID,
		"query":          query,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal executor request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create executor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("executor request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("executor returned status %d", resp.StatusCode)
	}

	var result struct {
		Result string `json:"result"`
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read executor response: %w", err)
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("failed to decode executor response: %w", err)
	}
	return result.Result, nil
}
