package tool

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	result string
	err    error

	gotAgentID        string
	gotConversationID string
	gotQuery          string
}

func (f *fakeExecutor) Execute(ctx context.Context, agentID, conversationID, query string) (string, error) {
	f.gotAgentID = agentID
	f.gotConversationID = conversationID
	f.gotQuery = query
	return f.result, f.err
}

type fakeStore struct {
	err     error
	gotNote string
	gotConv string
}

func (f *fakeStore) AppendContactEnquiry(ctx context.Context, conversationID, note string) error {
	f.gotConv = conversationID
	f.gotNote = note
	return f.err
}

func TestExecutePhoneAgent(t *testing.T) {
	executor := &fakeExecutor{result: "We open at 9am."}
	bridge := NewBridge(executor, &fakeStore{})

	result := bridge.Execute(context.Background(), ToolNamePhoneAgent,
		`{"query":"opening hours"}`, "agent-1", "conv-1")

	assert.Equal(t, "We open at 9am.", result)
	assert.Equal(t, "agent-1", executor.gotAgentID)
	assert.Equal(t, "conv-1", executor.gotConversationID)
	assert.Equal(t, "opening hours", executor.gotQuery)
}

func TestExecutePhoneAgentExecutorFailure(t *testing.T) {
	executor := &fakeExecutor{err: errors.New("upstream timeout")}
	bridge := NewBridge(executor, &fakeStore{})

	result := bridge.Execute(context.Background(), ToolNamePhoneAgent,
		`{"query":"anything"}`, "agent-1", "conv-1")

	assert.Equal(t, ErrorResult, result)
}

func TestExecutePhoneAgentMalformedArguments(t *testing.T) {
	bridge := NewBridge(&fakeExecutor{result: "unused"}, &fakeStore{})

	result := bridge.Execute(context.Background(), ToolNamePhoneAgent,
		`{"query":`, "agent-1", "conv-1")

	assert.Equal(t, ErrorResult, result)
}

func TestExecuteUpdateEnquiries(t *testing.T) {
	store := &fakeStore{}
	bridge := NewBridge(&fakeExecutor{}, store)

	result := bridge.Execute(context.Background(), ToolNameUpdateEnquiries,
		`{"item_and_reason":"pricing for annual plan"}`, "agent-1", "conv-1")

	assert.Equal(t, "Recent enquiries updated", result)
	assert.Equal(t, "conv-1", store.gotConv)
	assert.Equal(t, "pricing for annual plan", store.gotNote)
}

func TestExecuteUpdateEnquiriesStoreFailure(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	bridge := NewBridge(&fakeExecutor{}, store)

	result := bridge.Execute(context.Background(), ToolNameUpdateEnquiries,
		`{"item_and_reason":"pricing"}`, "agent-1", "conv-1")

	assert.Equal(t, ErrorResult, result)
}

func TestExecuteUnknownTool(t *testing.T) {
	bridge := NewBridge(&fakeExecutor{}, &fakeStore{})

	result := bridge.Execute(context.Background(), "transfer_call", `{}`, "agent-1", "conv-1")

	assert.Equal(t, ErrorResult, result)
}

func TestExecuteWithoutExecutor(t *testing.T) {
	bridge := NewBridge(nil, &fakeStore{})

	result := bridge.Execute(context.Background(), ToolNamePhoneAgent,
		`{"query":"q"}`, "agent-1", "conv-1")

	assert.Equal(t, ErrorResult, result)
}

func TestDefinitionsDeclareAllTools(t *testing.T) {
	defs := Definitions()
	require.Len(t, defs, 3)

	names := make(map[string]bool)
	for _, def := range defs {
		m, ok := def.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "function", m["type"])
		name, _ := m["name"].(string)
		names[name] = true
	}
	assert.True(t, names[ToolNamePhoneAgent])
	assert.True(t, names[ToolNameCallEnd])
	assert.True(t, names[ToolNameUpdateEnquiries])
}

func TestHTTPAgentExecutor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/execute", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "agent-1", req["agentId"])
		assert.Equal(t, "conv-1", req["conversationId"])
		assert.Equal(t, "opening hours", req["query"])

		_ = json.NewEncoder(w).Encode(map[string]string{"result": "We open at 9am."})
	}))
	defer srv.Close()

	executor := NewHTTPAgentExecutor(srv.URL)
	result, err := executor.Execute(context.Background(), "agent-1", "conv-1", "opening hours")
	require.NoError(t, err)
	assert.Equal(t, "We open at 9am.", result)
}
