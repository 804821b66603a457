// Package main is the entry point for the Tiller adaptive portfolio engine.
// It wires the exchange client, the market-cycle detector, the allocation
// optimizer and the rebalancer into a scheduled loop with an HTTP control
// surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tillerbot/tiller/internal/assets"
	"github.com/tillerbot/tiller/internal/clients/binance"
	"github.com/tillerbot/tiller/internal/config"
	"github.com/tillerbot/tiller/internal/cycles"
	"github.com/tillerbot/tiller/internal/database"
	"github.com/tillerbot/tiller/internal/domain"
	"github.com/tillerbot/tiller/internal/notify"
	"github.com/tillerbot/tiller/internal/portfolio"
	"github.com/tillerbot/tiller/internal/scheduler"
	"github.com/tillerbot/tiller/internal/server"
	"github.com/tillerbot/tiller/internal/strategy"
	"github.com/tillerbot/tiller/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)
	log.Info().Msg("Starting Tiller")

	// Databases. The ledger profile protects the cost-basis and rebalance
	// records; durability beats speed there.
	ledgerDB, err := database.New(database.Config{
		Path:    cfg.DatabasePath("ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger database")
	}
	defer ledgerDB.Close()

	assetStore, err := assets.NewRepository(ledgerDB.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize asset store")
	}
	history, err := portfolio.NewHistoryRepository(ledgerDB.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize rebalance history")
	}

	exchange := binance.NewClient(cfg.BinanceBaseURL, cfg.BinanceAPIKey, cfg.BinanceAPISecret, log)

	var notifier domain.Notifier = notify.NopNotifier{}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notify.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID, log)
		if err != nil {
			log.Error().Err(err).Msg("Telegram setup failed, notifications disabled")
		} else {
			notifier = tg
		}
	}

	// Market cycle detection and strategy adaptation.
	detector := cycles.NewDetector(log)
	integrator := cycles.NewIntegrator(detector, notifier, log)
	strategyManager := cycles.NewManager(exchange, integrator, cfg.CycleLookbackDays, cfg.CycleUpdateInterval, log)

	// Signal strategies, registered once at startup.
	registry := strategy.DefaultRegistry()
	log.Info().Strs("strategies", registry.Names()).Msg("Strategy registry populated")

	// Portfolio engine.
	quickSell := portfolio.NewQuickSellQueue(log)
	manager := portfolio.NewManager(
		portfolio.NewCollector(exchange, cfg.CandidateSymbols, cfg.MarketDataDays, log),
		portfolio.NewAnalyzer(nil, log),
		portfolio.NewCalculator(portfolio.NewOptimizer(portfolio.OptimizerConfig{
			MinAllocation:          cfg.MinAllocation,
			MaxAllocation:          cfg.MaxAllocation,
			MaxCorrelationExposure: cfg.MaxCorrelationExposure,
			CorrelationThreshold:   cfg.CorrelationThreshold,
		}, log), cfg.CashReserve, cfg.RebalanceThreshold, log),
		portfolio.NewRebalancer(exchange, assetStore, quickSell, portfolio.RebalancerConfig{
			MinOrderValue: cfg.MinOrderValue,
			MinAssetValue: cfg.MinAssetValue,
			MinBuyValue:   cfg.MinBuyValue,
			MinProfit:     cfg.MinProfitFraction,
		}, log),
		strategyManager,
		quickSell,
		history,
		notifier,
		portfolio.ManagerConfig{
			RebalanceThreshold: cfg.RebalanceThreshold,
			RebalanceHours:     cfg.RebalanceHours,
			CheckInterval:      cfg.CheckInterval,
		},
		log,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The check loop drives drift and scheduled-hour rebalances; the cron
	// job keeps the cycle adaptations fresh between checks.
	go manager.Run(ctx)

	sched := scheduler.New(10*time.Minute, log)
	if err := sched.AddJob("@every 6h", &scheduler.CycleRefreshJob{Strategy: strategyManager}); err != nil {
		log.Fatal().Err(err).Msg("Failed to register cycle refresh job")
	}
	if len(cfg.RebalanceHours) > 0 {
		// Extra checks on the exact scheduled hours, independent of where the
		// drift loop's ticker happens to land.
		spec := fmt.Sprintf("0 %s * * *", joinHours(cfg.RebalanceHours))
		if err := sched.AddJob(spec, &scheduler.PortfolioCheckJob{Manager: manager}); err != nil {
			log.Fatal().Err(err).Msg("Failed to register scheduled rebalance job")
		}
	}
	sched.Start()

	srv := server.New(server.Config{
		Log:        log,
		Port:       cfg.Port,
		DevMode:    cfg.DevMode,
		Manager:    manager,
		Strategies: registry,
		Provider:   exchange,
	})
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server stopped")
		}
	}()

	waitForShutdown(log)

	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}

	log.Info().Msg("Tiller stopped")
}

func joinHours(hours []int) string {
	parts := make([]string, len(hours))
	for i, h := range hours {
		parts[i] = strconv.Itoa(h)
	}
	return strings.Join(parts, ",")
}

func waitForShutdown(log zerolog.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("Shutting down")
}
