package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CoolE88/threat-sentry/internal/config"
	"github.com/CoolE88/threat-sentry/internal/domain"
	appgrpc "github.com/CoolE88/threat-sentry/internal/grpc"
	apphttp "github.com/CoolE88/threat-sentry/internal/http"
	applogger "github.com/CoolE88/threat-sentry/internal/logger"
	"github.com/CoolE88/threat-sentry/internal/monitor"
	"github.com/CoolE88/threat-sentry/internal/repository/memory"
	"github.com/CoolE88/threat-sentry/internal/repository/postgres"
	"github.com/CoolE88/threat-sentry/internal/service"
	"github.com/CoolE88/threat-sentry/internal/source"

	"go.uber.org/zap"
)

// journal хранилище снапшотов, которое нужно закрыть при выходе
type journal interface {
	service.Repository
	Close()
}

func main() {
	// Создаём отменяемый контекст для всего приложения
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel() // Гарантирует отмену при выходе

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := applogger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			log.Printf("Error during logger sync: %v", err)
		}
	}()

	logger.Info("Starting Threat Sentry", zap.String("version", "1.0.0"))

	// Инициализация журнала снапшотов
	repo, err := newJournal(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize snapshot journal", zap.Error(err))
		return
	}
	defer func() {
		repo.Close()
		logger.Info("Snapshot journal closed")
	}()

	// Источники сигналов
	sources, closeSources, err := newSources(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize signal sources", zap.Error(err))
		return
	}
	defer closeSources()

	orchestrator, err := monitor.NewOrchestrator(monitorConfig(cfg), sources, logger)
	if err != nil {
		logger.Error("Invalid monitoring configuration", zap.Error(err))
		return
	}

	// Инициализация сервиса
	threatService := service.NewThreatService(orchestrator, repo, logger)

	journalDone := make(chan struct{})
	go func() {
		defer close(journalDone)
		threatService.RunJournal(ctx)
	}()

	// Запуск HTTP сервера
	httpServer := apphttp.NewHTTPServer(ctx, cfg.RESTPort, threatService, logger)
	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
			return
		}
	}()

	// Запуск GRPC сервера
	grpcServer := appgrpc.NewGRPCServer(threatService, logger)
	go func() {
		if err := grpcServer.Start(cfg.GRPCPort); err != nil {
			logger.Error("gRPC server failed", zap.Error(err))
			return
		}
	}()

	if err := orchestrator.Start(ctx, cfg.SessionDuration); err != nil {
		logger.Error("Failed to start monitoring", zap.Error(err))
		return
	}

	// Ожидание сигнала завершения или конца ограниченной сессии
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var sessionDone <-chan struct{}
	if cfg.SessionDuration > 0 {
		sessionDone = orchestrator.Done()
	}

	select {
	case <-quit:
		logger.Info("Shutdown signal received")
	case <-sessionDone:
		logger.Info("Monitoring session finished", zap.Duration("duration", cfg.SessionDuration))
	}

	logger.Info("Shutting down servers...")

	final := orchestrator.Snapshot()
	orchestrator.Close()

	// Отменяем контекст для всех компонентов (остановит журнал и мониторинг соединений)
	cancel()
	<-journalDone

	logger.Info("Final threat snapshot",
		zap.String("session_id", final.SessionID.String()),
		zap.Uint64("sequence", final.Sequence),
		zap.Float64("composite", final.Composite),
		zap.String("band", string(final.Band)),
		zap.Int("findings", len(final.Findings)),
	)

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Останавливаем HTTP сервер
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	// Останавливаем GRPC сервер
	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("gRPC server shutdown due to timeout")
		} else {
			logger.Error("gRPC server shutdown failed", zap.Error(err))
		}
	}

	logger.Info("Threat Sentry stopped")
}

// newJournal выбирает PostgreSQL при заданном DB_SOURCE, иначе кольцевой буфер в памяти
func newJournal(ctx context.Context, cfg *config.Config, logger *zap.Logger) (journal, error) {
	if cfg.DBConfig.DBSource == "" {
		logger.Info("DB_SOURCE is empty, using in-memory snapshot journal", zap.Int("capacity", cfg.JournalSize))
		return memory.NewRepository(cfg.JournalSize)
	}

	repo, err := postgres.NewPostgresRepository(ctx, cfg.DBConfig, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Database connection established")
	return repo, nil
}

// newSources собирает включённые каналы; выключенный канал остаётся nil
func newSources(cfg *config.Config, logger *zap.Logger) (monitor.Sources, func(), error) {
	var sources monitor.Sources
	closeFn := func() {}

	if cfg.Audio.Enabled {
		switch cfg.Audio.Source {
		case config.AudioSourcePCM:
			r, closer, err := openPCM(cfg.Audio.PCMPath)
			if err != nil {
				return sources, closeFn, err
			}
			pcm, err := source.NewPCMSource(r, cfg.Audio.SampleRate, cfg.Audio.Channels, cfg.Audio.FrameSize)
			if err != nil {
				_ = closer.Close()
				return sources, closeFn, err
			}
			sources.Audio = pcm
			closeFn = func() {
				if err := closer.Close(); err != nil {
					logger.Warn("Failed to close PCM input", zap.Error(err))
				}
			}
			logger.Info("Audio channel reads PCM", zap.String("path", cfg.Audio.PCMPath))
		default:
			opts := source.DefaultToneOptions()
			opts.SampleRate = cfg.Audio.SampleRate
			opts.FrameSize = cfg.Audio.FrameSize
			opts.Channels = cfg.Audio.Channels
			opts.Seed = time.Now().UnixNano()
			tone, err := source.NewToneSource(opts)
			if err != nil {
				return sources, closeFn, err
			}
			sources.Audio = tone
			logger.Info("Audio channel uses simulated tone source")
		}
	}

	if cfg.Thermal.Enabled {
		sources.Thermal = source.NewHostLoadSource()
	}

	if cfg.Email.Enabled {
		spool, err := source.NewSpoolSource(cfg.Email.SpoolDir, cfg.Email.Limit)
		if err != nil {
			return sources, closeFn, err
		}
		sources.Email = spool
	}

	return sources, closeFn, nil
}

func openPCM(path string) (io.Reader, io.Closer, error) {
	if path == "-" {
		return os.Stdin, io.NopCloser(nil), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open pcm input: %v", domain.ErrSourceUnavailable, err)
	}
	return f, f, nil
}

func monitorConfig(cfg *config.Config) monitor.Config {
	mc := monitor.DefaultConfig()

	mc.Spectral.MinSamples = cfg.Audio.MinSamples
	mc.Spectral.Band = domain.FrequencyBand{LowHz: cfg.Audio.BandLowHz, HighHz: cfg.Audio.BandHighHz}
	mc.Spectral.QuietFloor = cfg.Audio.QuietFloor
	mc.Spectral.Saturation = cfg.Audio.Saturation

	mc.Thermal.WindowSize = cfg.Thermal.Window
	mc.Thermal.MinSamples = cfg.Thermal.MinSamples
	mc.Thermal.ZFloor = cfg.Thermal.ZFloor
	mc.Thermal.ZSaturation = cfg.Thermal.ZSaturation
	mc.ThermalInterval = cfg.Thermal.Interval

	mc.Aggregator.HistorySize = cfg.HistorySize
	mc.Aggregator.FindingThreshold = cfg.Email.FindingThreshold
	mc.MalformedURLScore = cfg.Email.MalformedScore
	if cfg.Email.Enabled {
		mc.EmailInterval = cfg.Email.Interval
	}

	mc.RetryDelay = cfg.RetryDelay
	return mc
}
