package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/mkhodary/chat-gateway/internal/api"
	"github.com/mkhodary/chat-gateway/internal/config"
	"github.com/mkhodary/chat-gateway/internal/models"
	"github.com/mkhodary/chat-gateway/internal/pubsub"
	"github.com/mkhodary/chat-gateway/internal/realtime"
	"github.com/mkhodary/chat-gateway/internal/storage"
	"github.com/mkhodary/chat-gateway/pkg/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// MVP: Allow all origins
		// In production, validate origin
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting chat gateway service",
		logger.Int("port", cfg.Realtime.Port),
		logger.Int("max_connections_per_user", cfg.Realtime.MaxConnectionsPerUser),
		logger.Duration("away_after", cfg.Realtime.AwayAfter),
	)

	// Initialize Redis client
	redisClient, err := pubsub.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to initialize Redis client",
			logger.ErrorField(err),
		)
	}
	defer redisClient.Close()

	// Initialize session store
	sessionStore, err := storage.NewPostgresSessionStore(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize session store",
			logger.ErrorField(err),
		)
	}
	defer sessionStore.Close()

	// Initialize token manager
	tokenManager := realtime.NewTokenManager(cfg.Realtime.JWTSecret)

	// Initialize hub
	hub := realtime.NewHub(cfg.Realtime, redisClient, sessionStore)
	if err := hub.Start(); err != nil {
		logger.Fatal("Failed to start realtime hub",
			logger.ErrorField(err),
		)
	}
	defer hub.Stop()

	// Set up HTTP server
	router := mux.NewRouter()

	// WebSocket endpoint
	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		handleWebSocket(hub, tokenManager, w, r)
	})

	// Collaborator API
	handler := api.NewGatewayHandler(hub)
	handler.RegisterRoutes(router,
		api.RecoveryMiddleware(),
		api.LoggingMiddleware(),
		api.CORSMiddleware(),
		api.RateLimitMiddleware(cfg.Realtime.RateLimitRPS),
	)

	// Health check endpoints
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	router.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	})

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})

	// Stats endpoint
	router.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(hub.GetStats())
	})

	// Metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	// Start HTTP server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Realtime.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server",
			logger.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start HTTP server",
				logger.ErrorField(err),
			)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down chat gateway service")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Error shutting down HTTP server",
			logger.ErrorField(err),
		)
	}

	logger.Info("Chat gateway service stopped")
}

// handleWebSocket authenticates and admits a new WebSocket connection
func handleWebSocket(hub *realtime.Hub, tokenManager *realtime.TokenManager, w http.ResponseWriter, r *http.Request) {
	// Extract and validate JWT token
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		// Try query parameter as fallback
		if token := r.URL.Query().Get("token"); token != "" {
			authHeader = "Bearer " + token
		}
	}

	var userID, sessionID string
	tokenString, err := tokenManager.ExtractTokenFromHeader(authHeader)
	if err != nil {
		// MVP: If no token, use default user
		// In production, this should be required
		logger.Debug("No token provided, using default user",
			logger.ErrorField(err),
		)
		userID = "default"
	} else {
		userID, sessionID, err = tokenManager.ValidateToken(tokenString)
		if err != nil {
			logger.Warn("Invalid token, rejecting connection",
				logger.ErrorField(err),
			)
			http.Error(w, "Invalid authentication token", http.StatusUnauthorized)
			return
		}
	}

	// A revoked session must not reconnect
	if sessionID != "" {
		session, err := hub.GetSession(r.Context(), sessionID)
		if err == nil && session.Revoked() {
			http.Error(w, "Session revoked", http.StatusUnauthorized)
			return
		}
	}

	// Upgrade connection to WebSocket
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade connection",
			logger.ErrorField(err),
		)
		return
	}

	conn, err := hub.Register(userID, sessionID, r.RemoteAddr, ws)
	if err != nil {
		// Admission rejected: refuse with a policy-violation close code,
		// never evict an existing connection
		reason := "connection limit reached"
		if errors.Is(err, models.ErrGatewayFull) {
			reason = "gateway at capacity"
		}
		deadline := time.Now().Add(time.Second)
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
		ws.Close()
		return
	}

	logger.Info("WebSocket connection established",
		logger.String("connection_id", conn.ID),
		logger.String("user_id", userID),
		logger.String("remote_addr", r.RemoteAddr),
	)
}
