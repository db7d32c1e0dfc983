package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"peermarket/apps/peermarket/internal/assets"
	"peermarket/apps/peermarket/internal/escrow"
	"peermarket/apps/peermarket/internal/pricing"
)

// Server represents the API server
type Server struct {
	offerHandler *OfferHandler
	tradeHandler *TradeHandler
	priceHandler *PriceHandler
	logger       *zap.Logger
	server       *http.Server
}

// NewServer creates a new API server
func NewServer(port int, orchestrator *escrow.Orchestrator, gateway *pricing.Gateway, registry *assets.AssetRegistry, logger *zap.Logger) (*Server, error) {
	if orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}

	return &Server{
		offerHandler: NewOfferHandler(orchestrator, registry, logger),
		tradeHandler: NewTradeHandler(orchestrator, registry, logger),
		priceHandler: NewPriceHandler(gateway, registry, logger),
		logger:       logger,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}, nil
}

// Start starts the API server
func (s *Server) Start() error {
	router := s.setupRoutes()
	s.server.Handler = router

	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	return nil
}

// Stop stops the API server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server")
	return s.server.Shutdown(ctx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()

	// Add middleware
	router.Use(s.loggingMiddleware)
	router.Use(s.corsMiddleware)

	// API routes
	api := router.PathPrefix("/api").Subrouter()

	// Offer endpoints
	api.HandleFunc("/offers", s.offerHandler.ListOffers).Methods("GET")
	api.HandleFunc("/offers", s.offerHandler.CreateOffer).Methods("POST")
	api.HandleFunc("/offers/{address}", s.offerHandler.GetOffer).Methods("GET")
	api.HandleFunc("/offers/{address}", s.offerHandler.UpdateOffer).Methods("PUT")
	api.HandleFunc("/offers/{address}", s.offerHandler.CancelOffer).Methods("DELETE")
	api.HandleFunc("/offers/{address}/pause", s.offerHandler.PauseOffer).Methods("POST")
	api.HandleFunc("/offers/{address}/resume", s.offerHandler.ResumeOffer).Methods("POST")

	// Trade endpoints
	api.HandleFunc("/trades", s.tradeHandler.ListTrades).Methods("GET")
	api.HandleFunc("/trades", s.tradeHandler.OpenTrade).Methods("POST")
	api.HandleFunc("/trades/{address}", s.tradeHandler.GetTrade).Methods("GET")
	api.HandleFunc("/trades/{address}/fund", s.tradeHandler.FundTrade).Methods("POST")
	api.HandleFunc("/trades/{address}/complete", s.tradeHandler.CompleteTrade).Methods("POST")
	api.HandleFunc("/trades/{address}/cancel", s.tradeHandler.CancelTrade).Methods("POST")
	api.HandleFunc("/trades/{address}/dispute", s.tradeHandler.DisputeTrade).Methods("POST")

	// Price and asset endpoints
	api.HandleFunc("/prices/{symbol}", s.priceHandler.GetPrice).Methods("GET")
	api.HandleFunc("/assets", s.priceHandler.GetAssets).Methods("GET")

	// Health check endpoint
	api.HandleFunc("/health", s.healthCheck).Methods("GET")

	return router
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// corsMiddleware handles CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// healthCheck handles the health check endpoint
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode health check response", zap.Error(err))
	}
}
