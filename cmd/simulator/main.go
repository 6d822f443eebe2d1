package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"arbsim/internal/api"
	"arbsim/internal/bot"
	"arbsim/internal/config"
	"arbsim/internal/consumer"
	"arbsim/internal/exchange"
	"arbsim/internal/models"
	"arbsim/internal/repository"
	"arbsim/internal/websocket"
	"arbsim/pkg/logging"

	_ "github.com/lib/pq"
)

func main() {
	demo := flag.Bool("demo", false, "replay a built-in tick sequence instead of consuming the broker")
	flag.Parse()

	// .env опционален, переменные окружения имеют приоритет
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, closeLog, err := logging.New(logging.Options{
		ConsoleLevel: cfg.Logging.ConsoleLevel,
		FileLevel:    cfg.Logging.FileLevel,
		FilePath:     cfg.Logging.FilePath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(cfg, log, *demo); err != nil {
		log.Error().Err(err).Msg("simulator failed")
		os.Exit(1)
	}
	log.Info().Msg("simulator exited")
}

func run(cfg *config.Config, log zerolog.Logger, demo bool) error {
	// Симуляторы бирж
	simulators := make(map[string]*exchange.MarginSimulator, len(cfg.Trading.Venues))
	for _, venue := range cfg.Trading.Venues {
		sim, err := exchange.NewMarginSimulator(venue, cfg.Trading.InitialFunds, exchange.SimulatorConfig{
			FeeRate:    cfg.Trading.FeeRate,
			Leverage:   cfg.Trading.Leverage,
			Persist:    cfg.Trading.Persist,
			StorageDir: cfg.Trading.StorageDir,
			EntryMode:  cfg.Trading.EntryPriceMode,
		})
		if err != nil {
			return fmt.Errorf("create simulator %s: %w", venue, err)
		}
		if cfg.Trading.HardResetOnStart {
			if err := sim.HardReset(cfg.Trading.InitialFunds); err != nil {
				return fmt.Errorf("hard reset %s: %w", venue, err)
			}
			log.Info().Str("venue", venue).Msg("state reset to initial funds")
		}
		simulators[venue] = sim
	}

	// Детектор и координатор
	detector := bot.NewArbitrageDetector(simulators, bot.DetectorConfig{
		ThresholdPct:          cfg.Trading.SpreadThresholdPct,
		AlignmentThresholdPct: cfg.Trading.AlignmentThresholdPct,
		HistorySize:           cfg.Trading.HistorySize,
	})
	coordinator := bot.NewArbitrageCoordinator(simulators, detector, cfg.Trading.BaseTradeAmount, log)

	// WebSocket hub для событий сделок
	hub := websocket.NewHub()
	go hub.Run()
	defer hub.Stop()
	coordinator.SetEventPublisher(hub)

	// Журнал сделок в Postgres (опционально)
	if cfg.Database.Enabled {
		db, err := openDatabase(cfg)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()
		coordinator.SetTradeRecorder(repository.NewTradeRepository(db))
		log.Info().Str("dsn", cfg.Database.DSNWithoutPassword()).Msg("trade log enabled")
	}

	// HTTP сервер: статус API, /metrics, /ws/stream
	router := api.SetupRoutes(&api.Dependencies{
		Simulators: simulators,
		Detector:   detector,
		Tracker:    coordinator.Tracker(),
		Hub:        hub,
	})
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var runErr error
	if demo {
		runErr = runDemo(coordinator, log)
	} else {
		c := consumer.New(consumer.Options{
			URL:          cfg.Broker.URL,
			QueueName:    cfg.Broker.QueueName,
			ExchangeName: cfg.Broker.ExchangeName,
			RoutingKey:   cfg.Broker.RoutingKey,
			QueueLength:  cfg.Broker.QueueLength,
		}, coordinator.ProcessMessage, log)
		runErr = c.Run(ctx)
	}

	// Закрываем живые пары по последним ценам
	log.Info().Msg("shutting down, closing open positions")
	if err := coordinator.CloseAllPositions(); err != nil {
		if errors.Is(err, models.ErrSnapshotIO) {
			runErr = errors.Join(runErr, err)
		} else {
			log.Warn().Err(err).Msg("some positions were not closed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown")
	}

	reportFinalState(simulators, log)
	return runErr
}

// runDemo прогоняет встроенную последовательность тиков через координатор.
// Цены расходятся выше порога, затем сходятся - полный цикл открытия
// и закрытия пары.
func runDemo(coordinator *bot.ArbitrageCoordinator, log zerolog.Logger) error {
	log.Info().Msg("demo mode: replaying built-in tick sequence")

	base := time.Now().Unix()
	ticks := []models.Tick{
		{Timestamp: base, Exchange: "binance", InstrumentID: "BTC-USDT", Price: 50000},
		{Timestamp: base, Exchange: "kraken", InstrumentID: "BTC-USDT", Price: 50000},
		{Timestamp: base + 1, Exchange: "kraken", InstrumentID: "BTC-USDT", Price: 50500},
		{Timestamp: base + 2, Exchange: "binance", InstrumentID: "BTC-USDT", Price: 50200},
		{Timestamp: base + 3, Exchange: "kraken", InstrumentID: "BTC-USDT", Price: 50200},
		{Timestamp: base + 4, Exchange: "binance", InstrumentID: "ETH-USDT", Price: 3000},
		{Timestamp: base + 4, Exchange: "kraken", InstrumentID: "ETH-USDT", Price: 3030},
		{Timestamp: base + 5, Exchange: "binance", InstrumentID: "ETH-USDT", Price: 3015},
		{Timestamp: base + 5, Exchange: "kraken", InstrumentID: "ETH-USDT", Price: 3015},
	}

	for i := range ticks {
		if err := coordinator.ProcessMessage(&ticks[i]); err != nil {
			return err
		}
	}
	return nil
}

// reportFinalState печатает балансы и позиции всех симуляторов
func reportFinalState(simulators map[string]*exchange.MarginSimulator, log zerolog.Logger) {
	for venue, sim := range simulators {
		snap := sim.GetBalance()
		log.Info().
			Str("venue", venue).
			Interface("real_balance", snap.RealBalance).
			Interface("loaned_balance", snap.LoanedBalance).
			Int("orders", len(sim.Orders())).
			Msg("final state")

		for symbol, pos := range sim.Positions() {
			if pos.IsFlat() {
				continue
			}
			log.Warn().
				Str("venue", venue).
				Str("symbol", symbol).
				Float64("long", pos.Long).
				Float64("short", pos.Short).
				Msg("position left open")
		}
	}
}

// openDatabase создает подключение к базе данных журнала сделок
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}
