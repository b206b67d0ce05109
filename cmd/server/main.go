package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/codehornets/supacall/internal/config"
	"github.com/codehornets/supacall/internal/handler"
	"github.com/codehornets/supacall/internal/repository"
	"github.com/codehornets/supacall/pkg/logger"
)

// Server represents the phone bridge server
type Server struct {
	config         *config.BridgeConfig
	router         *mux.Router
	handlerManager *handler.HandlerManager
	repos          repository.RepositoryManager
}

// NewServer creates a new phone bridge server
func NewServer(cfg *config.BridgeConfig) *Server {
	// Initialize zap logger and redirect stdlib log to it
	if _, err := logger.Init(os.Getenv("LOG_ENV")); err != nil {
		logger.Base().Error("Failed to initialize zap logger, falling back to std log")
	}

	repos, err := repository.NewRepositoryManager()
	if err != nil {
		logger.Base().Error("Failed to initialize database", zap.Error(err))
		return nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	router := mux.NewRouter()
	handlerManager := handler.NewHandlerManager(cfg, repos, redisClient)
	handlerManager.SetupRoutes(router)

	return &Server{
		config:         cfg,
		router:         router,
		handlerManager: handlerManager,
		repos:          repos,
	}
}

// Start runs the server until a shutdown signal arrives, then drains live
// call sessions before exiting.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%s", s.config.Port)

	server := &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: media stream sockets live for the whole call
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Base().Info("Starting server", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Base().Info("Shutdown signal received", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.handlerManager.Service().CloseAll()
	if err := server.Shutdown(ctx); err != nil {
		logger.Base().Warn("HTTP shutdown error", zap.Error(err))
	}
	if err := s.repos.Close(); err != nil {
		logger.Base().Warn("Database close error", zap.Error(err))
	}
	logger.Sync()
	return nil
}

func main() {
	// Load .env file for local development if it exists
	// This will not override environment variables set by Helm/Docker
	if err := godotenv.Load(); err != nil {
		log.Printf("Info: .env file not found or skipped (expected in production): %v", err)
	}

	cfg := config.LoadBridgeConfig()
	fmt.Printf("🚀 Starting Supacall Phone Bridge (port %s)\n", cfg.Port)

	server := NewServer(cfg)
	if server == nil {
		log.Fatal("❌ Failed to create server")
	}
	logger.Base().Info("✅ Server initialized successfully", zap.String("port", cfg.Port))

	if err := server.Start(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("❌ Server failed to start: %v", err)
	}
}
