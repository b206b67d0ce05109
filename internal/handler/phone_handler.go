package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/codehornets/supacall/internal/config"
	"github.com/codehornets/supacall/internal/prompts"
	"github.com/codehornets/supacall/internal/repository"
	"github.com/codehornets/supacall/internal/services/bridge"
	"github.com/codehornets/supacall/pkg/logger"
	"github.com/codehornets/supacall/pkg/twilio"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Carrier media streams carry no Origin header worth checking
	CheckOrigin: func(r *http.Request) bool { return true },
}

// PhoneHandler serves the carrier-facing endpoints: the media-stream socket,
// call webhooks, outbound call placement and the conversation side channel.
type PhoneHandler struct {
	cfg     *config.BridgeConfig
	service *bridge.Service
}

func NewPhoneHandler(cfg *config.BridgeConfig, service *bridge.Service) *PhoneHandler {
	return &PhoneHandler{cfg: cfg, service: service}
}

// HandleMediaStream upgrades the carrier's stream connection and runs the
// call session until the call ends.
func (h *PhoneHandler) HandleMediaStream(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Base().Error("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	if err := h.service.HandleStream(ws); err != nil {
		if errors.Is(err, bridge.ErrAtCapacity) {
			logger.Base().Warn("rejected media stream at capacity",
				zap.String("remote_addr", r.RemoteAddr))
			return
		}
		logger.Base().Error("media stream ended with error", zap.Error(err))
	}
}

// HandleIncomingCall answers the carrier's inbound-call webhook with the
// voice document that connects the call's media to this bridge.
func (h *PhoneHandler) HandleIncomingCall(w http.ResponseWriter, r *http.Request) {
	doc, err := twilio.StreamTwiML(prompts.CallAnnouncement, h.cfg.WebhookDomain)
	if err != nil {
		logger.Base().Error("failed to render voice response", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(doc))
}

type outboundCallRequest struct {
	AgentID     string `json:"agentId"`
	PhoneNumber string `json:"phoneNumber"`
}

// HandleOutboundCall places a call from an agent's number to the given
// phone number and wires its media back through the bridge.
func (h *PhoneHandler) HandleOutboundCall(w http.ResponseWriter, r *http.Request) {
	var req outboundCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AgentID == "" || req.PhoneNumber == "" {
		http.Error(w, "agentId and phoneNumber are required", http.StatusBadRequest)
		return
	}

	cfg, err := h.service.Repos().PhoneConfig().GetByAgentID(r.Context(), req.AgentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "unknown agent", http.StatusNotFound)
			return
		}
		logger.Base().Error("agent lookup failed", zap.String("agent_id", req.AgentID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	doc, err := twilio.StreamTwiML(prompts.CallAnnouncement, h.cfg.WebhookDomain)
	if err != nil {
		logger.Base().Error("failed to render voice response", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	creds := twilio.Credentials{AccountSID: cfg.AccountSID, AuthToken: cfg.AuthToken}
	if err := h.service.CallControl().CreateCall(creds, cfg.PhoneNumber, req.PhoneNumber, doc); err != nil {
		logger.Base().Error("failed to place outbound call",
			zap.String("agent_id", req.AgentID),
			zap.String("to", req.PhoneNumber),
			zap.Error(err))
		http.Error(w, "failed to place call", http.StatusBadGateway)
		return
	}

	logger.Base().Info("outbound call placed",
		zap.String("agent_id", req.AgentID),
		zap.String("from", cfg.PhoneNumber),
		zap.String("to", req.PhoneNumber))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "initiated"})
}

type feedbackRequest struct {
	Content string `json:"content"`
}

// HandleFeedback appends a human-operator turn to the conversation mirror.
// The keyspace notification this write triggers is what delivers the text
// into the live call.
func (h *PhoneHandler) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["id"]

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}

	if _, err := h.service.Repos().Conversation().GetConversation(r.Context(), conversationID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "unknown conversation", http.StatusNotFound)
			return
		}
		logger.Base().Error("conversation lookup failed",
			zap.String("conversation_id", conversationID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := h.service.PublishFeedback(r.Context(), conversationID, req.Content); err != nil {
		logger.Base().Error("failed to publish feedback",
			zap.String("conversation_id", conversationID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "delivered"})
}

// HandleTranscript returns the persisted transcript for a conversation.
func (h *PhoneHandler) HandleTranscript(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["id"]

	turns, err := h.service.Repos().Conversation().GetTurns(r.Context(), conversationID)
	if err != nil {
		logger.Base().Error("failed to load transcript",
			zap.String("conversation_id", conversationID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"conversationId": conversationID,
		"turns":          turns,
	})
}

// HandleStatus reports the bridge's live session state.
func (h *PhoneHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"activeSessions": h.service.ActiveSessions(),
		"sessionIds":     h.service.SessionIDs(),
		"maxSessions":    h.cfg.MaxSessions,
	})
}

// HandleHealth checks the backing stores and reports liveness.
func (h *PhoneHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := h.service.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
