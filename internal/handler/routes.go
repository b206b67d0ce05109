package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/codehornets/supacall/internal/config"
	"github.com/codehornets/supacall/internal/repository"
	"github.com/codehornets/supacall/internal/services/bridge"
)

// HandlerManager wires the bridge service into the HTTP surface
type HandlerManager struct {
	cfg     *config.BridgeConfig
	service *bridge.Service
	phone   *PhoneHandler
}

// NewHandlerManager creates the bridge service and its handlers
func NewHandlerManager(cfg *config.BridgeConfig, repos repository.RepositoryManager, redisClient *redis.Client) *HandlerManager {
	service := bridge.NewService(cfg, repos, redisClient)
	return &HandlerManager{
		cfg:     cfg,
		service: service,
		phone:   NewPhoneHandler(cfg, service),
	}
}

// Service returns the bridge service for shutdown coordination.
func (m *HandlerManager) Service() *bridge.Service {
	return m.service
}

// SetupRoutes registers all endpoints on the router.
func (m *HandlerManager) SetupRoutes(router *mux.Router) {
	// Media stream socket; skips the logging middleware so long-lived
	// upgrades don't produce misleading latency entries.
	router.HandleFunc("/phone-call", m.phone.HandleMediaStream)

	api := router.PathPrefix("/").Subrouter()
	api.Use(LoggingMiddleware)

	api.HandleFunc("/incoming-call", m.phone.HandleIncomingCall).Methods("POST")
	api.HandleFunc("/conversations/{id}/feedback", m.phone.HandleFeedback).Methods("POST")
	api.HandleFunc("/conversations/{id}/transcript", m.phone.HandleTranscript).Methods("GET")
	api.HandleFunc("/status", m.phone.HandleStatus).Methods("GET")
	api.HandleFunc("/health", m.phone.HandleHealth).Methods("GET")

	// call placement is the only endpoint that spends carrier money
	limited := RateLimitMiddleware(2, 5)(http.HandlerFunc(m.phone.HandleOutboundCall))
	api.Handle("/outbound-call", limited).Methods("POST")
}
