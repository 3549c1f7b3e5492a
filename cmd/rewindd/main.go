package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/rewind/internal/analysis"
	"github.com/annel0/rewind/internal/api"
	"github.com/annel0/rewind/internal/config"
	"github.com/annel0/rewind/internal/eventbus"
	"github.com/annel0/rewind/internal/extensions/busrelay"
	"github.com/annel0/rewind/internal/extensions/motionmatch"
	"github.com/annel0/rewind/internal/extensions/poses"
	"github.com/annel0/rewind/internal/host"
	"github.com/annel0/rewind/internal/logging"
	"github.com/annel0/rewind/internal/metrics"
	"github.com/annel0/rewind/internal/observability"
	"github.com/annel0/rewind/internal/rewind"
	"github.com/annel0/rewind/internal/sim"
	"github.com/annel0/rewind/internal/storage"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию REWIND_CONFIG)")
	flag.Parse()

	if err := logging.InitDefaultLogger("rewindd"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}
	logging.SetDefaultConsoleLevel(logging.ParseLevel(cfg.LogLevel))

	logging.Info("⏪ Запуск rewindd...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		logging.Warn("⚠️ Телеметрия недоступна: %v", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}

	// === ХРАНИЛИЩЕ ===
	archive, err := storage.NewTraceArchive(cfg.Storage.Path, cfg.Storage.Compression)
	if err != nil {
		log.Fatalf("❌ Ошибка открытия архива записей: %v", err)
	}
	defer archive.Close()

	firstIndex := 0
	if archived, err := archive.List(ctx); err != nil {
		logging.Warn("⚠️ Не удалось прочитать список архива: %v", err)
	} else {
		for _, info := range archived {
			if info.RecordingIndex > firstIndex {
				firstIndex = info.RecordingIndex
			}
		}
		logging.Info("🗄️ В архиве %d записей, следующий индекс %d", len(archived), firstIndex+1)
	}

	// === ШИНА СОБЫТИЙ ===
	bus, err := newEventBus(cfg.EventBus)
	if err != nil {
		log.Fatalf("❌ Ошибка подключения к шине событий: %v", err)
	}
	defer bus.Close()

	if sub, err := eventbus.StartLoggingListener(bus); err != nil {
		logging.Warn("⚠️ Логгер шины не запущен: %v", err)
	} else {
		defer sub.Unsubscribe()
	}

	// === ОТЛАДЧИК ===
	session := analysis.NewMemorySession()

	var world *sim.World
	opts := rewind.Options{
		Session:             session,
		Registry:            rewind.NewExtensionRegistry(),
		ChannelNames:        cfg.Recording.Channels,
		AutoRecord:          cfg.Recording.AutoRecord,
		PlaybackRate:        cfg.Playback.Rate,
		FirstRecordingIndex: firstIndex,
	}
	if cfg.Sim.Enabled {
		world = sim.NewWorld(session, sim.Config{
			Seed:       cfg.Sim.Seed,
			Actors:     cfg.Sim.Actors,
			ChurnEvery: cfg.Sim.ChurnEvery,
		})
		opts.Host = world
		opts.Channels = world
		opts.Scene = world
	}

	opts.Registry.Register(poses.New())
	opts.Registry.Register(motionmatch.New())
	opts.Registry.Register(busrelay.New(bus, "rewindd"))

	debugger := rewind.New(opts)

	var stepper rewind.Stepper
	var simControl host.Control
	if world != nil {
		world.AddListener(debugger)
		stepper = world
		simControl = world
	}

	runner := rewind.NewRunner(debugger, stepper, cfg.Playback.TickInterval())

	var g errgroup.Group
	g.Go(func() error {
		runner.Run(ctx)
		return nil
	})

	if world != nil {
		if err := runner.Do(ctx, func(*rewind.Debugger) { world.Start() }); err != nil {
			logging.Error("❌ Не удалось запустить симуляцию: %v", err)
		} else {
			logging.Info("🎬 Симуляция запущена: %d актёров, seed=%d", cfg.Sim.Actors, cfg.Sim.Seed)
		}
	}

	// === МЕТРИКИ ===
	process := metrics.NewProcessMetrics()
	exporter := metrics.NewExporter(metrics.Options{
		Stats:   runner,
		Bus:     bus,
		Process: process,
	})
	exporter.Start()
	exporter.StartHTTP(fmt.Sprintf(":%d", cfg.Server.GetMetricsPort()))

	// === REST API ===
	var auth *api.Authenticator
	if cfg.Auth.JWTSecret != "" {
		auth, err = api.NewAuthenticator(cfg.Auth.JWTSecret)
		if err != nil {
			log.Fatalf("❌ Ошибка настройки JWT: %v", err)
		}
		for _, op := range cfg.Auth.Operators {
			auth.AddOperator(op.Name, op.PasswordHash, op.ReadOnly)
		}
		logging.Info("🔐 JWT авторизация включена")
	}

	server := api.NewRestServer(api.Config{
		Port:           fmt.Sprintf(":%d", cfg.Server.GetRESTPort()),
		Runner:         runner,
		Sim:            simControl,
		Archive:        archive,
		Recordings:     session,
		Process:        process,
		MetricsHandler: exporter.Handler(),
		Auth:           auth,
		ServiceName:    cfg.Telemetry.ServiceName,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
	})
	g.Go(func() error {
		if err := server.Start(); err != nil {
			logging.Error("❌ Ошибка REST API: %v", err)
			return err
		}
		return nil
	})

	// === ГОРЯЧАЯ ПЕРЕЗАГРУЗКА ===
	if path := config.ResolvePath(*configPath); path != "" {
		watcher, err := config.Watch(path, 0, func(next *config.Config) {
			logging.SetDefaultConsoleLevel(logging.ParseLevel(next.LogLevel))
			if err := runner.Do(ctx, func(d *rewind.Debugger) { d.SetPlaybackRate(next.Playback.Rate) }); err != nil {
				logging.Warn("⚠️ Скорость воспроизведения не обновлена: %v", err)
			}
		})
		if err != nil {
			logging.Warn("⚠️ Наблюдение за конфигурацией недоступно: %v", err)
		} else {
			defer watcher.Close()
		}
	}

	logging.Info("✅ rewindd готов")
	logging.Info("   🌐 REST API: http://localhost:%d", cfg.Server.GetRESTPort())
	logging.Info("   📈 Метрики: http://localhost:%d/metrics", cfg.Server.GetMetricsPort())
	if simControl != nil {
		logging.Info("   🎮 Симуляция: POST /api/sim/{start,pause,resume,step,stop}")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}

	if world != nil {
		if err := runner.Do(shutdownCtx, func(*rewind.Debugger) { world.Stop() }); err != nil {
			logging.Warn("⚠️ Симуляция не остановлена: %v", err)
		}
	}

	cancel()
	if err := g.Wait(); err != nil {
		logging.Error("❌ Сервисы завершились с ошибкой: %v", err)
	}

	if err := exporter.Stop(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки метрик: %v", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки телеметрии: %v", err)
	}

	logging.Info("👋 rewindd остановлен")
}

// newEventBus выбирает JetStream при заданном URL, иначе in-memory шину
func newEventBus(cfg config.EventBusConfig) (eventbus.EventBus, error) {
	if cfg.URL == "" {
		return eventbus.NewMemoryBus(cfg.Capacity), nil
	}
	bus, err := eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, cfg.RetentionDuration())
	if err != nil {
		return nil, err
	}
	logging.Info("📨 JetStream шина: %s (stream=%s)", cfg.URL, cfg.Stream)
	return bus, nil
}
