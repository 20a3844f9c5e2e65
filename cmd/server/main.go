package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/annel0/mmo-physics/internal/api"
	"github.com/annel0/mmo-physics/internal/auth"
	"github.com/annel0/mmo-physics/internal/config"
	"github.com/annel0/mmo-physics/internal/eventbus"
	"github.com/annel0/mmo-physics/internal/logging"
	"github.com/annel0/mmo-physics/internal/metrics"
	"github.com/annel0/mmo-physics/internal/observability"
	"github.com/annel0/mmo-physics/internal/sim"
	"github.com/annel0/mmo-physics/internal/storage"
	"github.com/annel0/mmo-physics/internal/vec"
	"github.com/annel0/mmo-physics/internal/world"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию $PHYSICS_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	logOpts, err := cfg.Logging.LoggingOptions()
	if err != nil {
		log.Fatalf("❌ Ошибка конфигурации логирования: %v", err)
	}
	logging.Configure(logOpts)
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Error("❌ Сервер остановлен с ошибкой: %v", err)
		logging.CloseDefaultLogger()
		os.Exit(1)
	}
	logging.Info("👋 Сервер успешно остановлен")
}

func run(ctx context.Context, cfg *config.Config) error {
	logging.Info("🎮 Запуск physics-сервера: tick=%dms, seed=%d", cfg.Physics.Params().TickDuration.Milliseconds(), cfg.World.Seed)

	// === ТЕЛЕМЕТРИЯ ===
	shutdownTelemetry, err := observability.InitTelemetry(ctx, observability.Options{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Insecure:    cfg.Telemetry.Insecure,
		SampleRatio: cfg.Telemetry.SampleRatio,
	}, logging.Default())
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logging.Warn("Остановка телеметрии: %v", err)
		}
	}()

	// === ХРАНИЛИЩА ===
	var chunks *storage.WorldStorage
	if cfg.Storage.InMemory {
		chunks, err = storage.NewInMemoryWorldStorage()
	} else {
		chunks, err = storage.NewWorldStorage(cfg.Storage.DataPath)
	}
	if err != nil {
		return fmt.Errorf("world storage: %w", err)
	}
	defer chunks.Close()

	positions, closePositions, err := openPositionRepo(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closePositions(); err != nil {
			logging.Warn("Закрытие хранилища снимков: %v", err)
		}
	}()

	// === МИР И СИМУЛЯЦИЯ ===
	blocks := world.NewBlockWorld(world.NewWorldGenerator(cfg.World.Seed), chunks, logging.GetWorldLogger())
	if err := blocks.EnsureArea(ctx, vec.Vec3Float{}, cfg.World.PreloadRadius); err != nil {
		return fmt.Errorf("preload spawn area: %w", err)
	}

	bus := eventbus.NewMemoryBus(4096)
	defer bus.Close()
	if _, err := eventbus.StartLoggingListener(ctx, bus, logging.GetComponentLogger("events")); err != nil {
		return fmt.Errorf("event listener: %w", err)
	}
	if cfg.NATS.Enabled {
		bridge, err := eventbus.NewNATSBridge(ctx, bus, eventbus.NATSConfig{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			Types:         cfg.NATS.Types,
		}, logging.GetComponentLogger("nats"))
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() {
			stats := bridge.Stats()
			logging.Info("NATS bridge: переслано %d, ошибок %d", stats.Forwarded, stats.Failed)
			_ = bridge.Close()
		}()
	}

	simulation := sim.NewSimulation(sim.Config{
		Params:        cfg.Physics.Params(),
		CommandQueue:  cfg.Physics.CommandQueue,
		PreloadRadius: cfg.World.PreloadRadius,
	}, blocks, positions, bus, logging.GetSimLogger())

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	exporter := metrics.NewExporter(registry, "physics")
	simulation.AddObserver(exporter.ObserveTick)

	// === REST API ===
	authority, operators, err := buildOperators(cfg.Auth)
	if err != nil {
		return err
	}
	restServer, err := api.NewRestServer(api.Config{
		Addr:        fmt.Sprintf(":%d", cfg.Server.GetRESTPort()),
		GinMode:     cfg.Server.GinMode,
		ServiceName: cfg.Telemetry.ServiceName,
		Sim:         simulation,
		Bus:         bus,
		Registry:    registry,
		Authority:   authority,
		Operators:   operators,
		Logger:      logging.GetAPILogger(),
	})
	if err != nil {
		return fmt.Errorf("rest server: %w", err)
	}

	// === ЗАПУСК ===
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return simulation.Run(gctx) })
	g.Go(func() error {
		blocks.Run(gctx, cfg.World.AutosaveInterval())
		return nil
	})
	g.Go(func() error {
		exporter.Run(gctx, 5*time.Second, simulation, bus)
		return nil
	})
	g.Go(restServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return restServer.Shutdown(shutdownCtx)
	})

	if port := cfg.Server.GetMetricsPort(); port > 0 {
		metricsServer := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logging.Info("📈 Prometheus метрики: http://localhost:%d/metrics", port)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	logging.Info("✅ Все сервисы запущены")
	logging.Info("   🌐 REST API: http://localhost:%d", cfg.Server.GetRESTPort())
	logging.Info("   ❤️  Health check: http://localhost:%d/health", cfg.Server.GetRESTPort())

	err = g.Wait()

	// Симуляция уже сохранила снимки объектов; осталось сбросить чанки
	saveCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if saved, saveErr := blocks.SaveDirty(saveCtx); saveErr != nil {
		logging.Error("Сохранение мира при остановке: %v", saveErr)
	} else {
		logging.Info("💾 Сохранено чанков при остановке: %d", saved)
	}
	return err
}

// openPositionRepo выбирает хранилище снимков объектов: redis, mongo, maria или память
func openPositionRepo(ctx context.Context, cfg *config.Config) (storage.PositionRepo, func() error, error) {
	logger := logging.GetStorageLogger()
	switch {
	case cfg.Redis.Enabled:
		repo, err := storage.NewRedisPositionRepo(ctx, &storage.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL(),
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		logging.Info("📦 Снимки объектов хранятся в Redis %s", cfg.Redis.Addr)
		return repo, repo.Close, nil

	case cfg.Mongo.Enabled:
		repo, err := storage.NewMongoPositionRepo(ctx, storage.MongoConfig{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("mongo: %w", err)
		}
		logging.Info("📦 Снимки объектов хранятся в MongoDB")
		return repo, repo.Close, nil

	case cfg.Maria.Enabled:
		repo, err := storage.NewMariaPositionRepo(ctx, storage.MariaConfig{
			Host:     cfg.Maria.Host,
			Port:     cfg.Maria.Port,
			Database: cfg.Maria.Database,
			Username: cfg.Maria.Username,
			Password: cfg.Maria.Password,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("maria: %w", err)
		}
		logging.Info("📦 Снимки объектов хранятся в MariaDB %s:%d", cfg.Maria.Host, cfg.Maria.Port)
		return repo, repo.Close, nil

	default:
		logging.Warn("📦 Снимки объектов хранятся в памяти и не переживут перезапуск")
		return storage.NewMemoryPositionRepo(), func() error { return nil }, nil
	}
}

// buildOperators собирает хранилище операторов из конфигурации.
// Без операторов возвращает nil: изменяющие маршруты API не регистрируются.
func buildOperators(cfg config.AuthConfig) (*auth.TokenAuthority, *auth.OperatorStore, error) {
	if len(cfg.Operators) == 0 {
		return nil, nil, nil
	}

	store := auth.NewOperatorStore()
	for _, op := range cfg.Operators {
		if err := store.Add(auth.Operator{Username: op.Username, PasswordHash: op.PasswordHash, IsAdmin: op.Admin}); err != nil {
			return nil, nil, fmt.Errorf("auth: %w", err)
		}
	}

	if cfg.Secret == "" {
		logging.Warn("🔐 auth.secret не задан: токены не переживут перезапуск")
	}
	authority, err := auth.NewTokenAuthority(cfg.Secret, cfg.TokenTTL())
	if err != nil {
		return nil, nil, fmt.Errorf("auth: %w", err)
	}
	logging.Info("🔐 Операторов API: %d", store.Len())
	return authority, store, nil
}
