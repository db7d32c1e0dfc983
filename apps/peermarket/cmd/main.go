package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"peermarket/apps/peermarket/internal/api"
	"peermarket/apps/peermarket/internal/assets"
	"peermarket/apps/peermarket/internal/config"
	"peermarket/apps/peermarket/internal/escrow"
	"peermarket/apps/peermarket/internal/event_publisher"
	"peermarket/apps/peermarket/internal/indexer"
	"peermarket/apps/peermarket/internal/ledger"
	"peermarket/apps/peermarket/internal/pricing"
	"peermarket/apps/peermarket/internal/repository"
)

func main() {
	// Initialize zap logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	// Load configuration from environment variables
	cfg := config.NewConfig()

	logger.Info("Starting application with configuration",
		zap.String("rpc_url", cfg.RpcURL),
		zap.String("oracle_url", cfg.OracleURL),
		zap.String("db_url", cfg.DbURL),
		zap.String("kafka_broker", cfg.KafkaBroker),
		zap.String("kafka_topic", cfg.KafkaTopic),
		zap.Duration("offer_cache_ttl", cfg.OfferCacheTTL),
		zap.Duration("price_cache_ttl", cfg.PriceCacheTTL),
		zap.Int("api_port", cfg.APIPort),
	)

	programs := escrow.ProgramConfig{
		OfferProgram:   mustPublicKey(logger, "OFFER_PROGRAM_ID", cfg.OfferProgramID),
		TradeProgram:   mustPublicKey(logger, "TRADE_PROGRAM_ID", cfg.TradeProgramID),
		PriceProgram:   mustPublicKey(logger, "PRICE_PROGRAM_ID", cfg.PriceProgramID),
		ProfileProgram: mustPublicKey(logger, "PROFILE_PROGRAM_ID", cfg.ProfileProgramID),
		PriceState:     mustPublicKey(logger, "PRICE_STATE_ADDRESS", cfg.PriceStateAddr),
	}

	signer, err := ledger.NewKeypairSigner(cfg.SignerKeyPath)
	if err != nil {
		logger.Fatal("Failed to load signer keypair", zap.Error(err))
	}
	logger.Info("Loaded signer identity", zap.String("address", signer.Identity().String()))

	registry := assets.NewAssetRegistry()
	client := ledger.NewRPCClient(cfg.RpcURL, logger)
	ix := indexer.New(client, programs.OfferProgram, programs.TradeProgram, cfg.OfferCacheTTL, logger)

	var fallback pricing.FallbackSource
	if cfg.FallbackURL != "" {
		fallback = pricing.NewFallbackClient(cfg.FallbackURL, cfg.FallbackAPIKey)
	}
	gateway := pricing.NewGateway(func() pricing.FeedClient {
		return pricing.NewHTTPFeedClient(cfg.OracleURL)
	}, fallback, registry, cfg.PriceCacheTTL, logger)
	defer gateway.Cleanup()

	// The event outbox is optional: without a database the service still
	// trades, it just emits no notifications.
	var sink escrow.EventSink
	if cfg.DbURL != "" {
		db, err := sql.Open("postgres", cfg.DbURL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}

		if err := repository.InitMigration(db); err != nil {
			logger.Fatal("Failed to initialize database", zap.Error(err))
		}

		outboxRepository := repository.NewOutboxRepository(db, logger)
		sink = outboxRepository

		if cfg.KafkaBroker != "" {
			eventPublisher, err := event_publisher.NewEventPublisher(cfg.KafkaBroker, cfg.KafkaTopic, logger, outboxRepository)
			if err != nil {
				logger.Fatal("Failed to create event publisher", zap.Error(err))
			}
			defer eventPublisher.Close()

			// Start event publisher in background
			go eventPublisher.StartPublishing()
		}
	}

	orchestrator := escrow.NewOrchestrator(client, signer, ix, gateway, registry, programs, sink, logger)

	// Create and start API server
	apiServer, err := api.NewServer(cfg.APIPort, orchestrator, gateway, registry, logger)
	if err != nil {
		logger.Fatal("Failed to create API server", zap.Error(err))
	}
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	<-sigChan
	logger.Info("Received shutdown signal, starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiServer.Stop(ctx); err != nil {
		logger.Error("Error shutting down API server", zap.Error(err))
	}

	logger.Info("Application shutdown complete")
}

func mustPublicKey(logger *zap.Logger, name, value string) solana.PublicKey {
	key, err := solana.PublicKeyFromBase58(value)
	if err != nil {
		logger.Fatal("Invalid account address in configuration", zap.String("name", name), zap.Error(err))
	}
	return key
}
