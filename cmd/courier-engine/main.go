// Courier Engine — принимает заказы и доставляет их через backend'ы.
//
// Engine:
//   - Принимает заказы через HTTP API и очередь orders.submit (RabbitMQ)
//   - Разбивает заказы на tasks и выполняет их в пуле workers
//   - Повторяет и эскалирует на следующий backend по политике
//   - Публикует прогресс в RabbitMQ и Redis
//   - Создаёт повторяющиеся заказы по расписаниям cron
//
// Использование:
//
//	courier-engine [--config courier.yaml]
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Courier/internal/api"
	"github.com/shaiso/Courier/internal/config"
	"github.com/shaiso/Courier/internal/mq"
	"github.com/shaiso/Courier/internal/notify"
	"github.com/shaiso/Courier/internal/orchestrator"
	"github.com/shaiso/Courier/internal/policy"
	"github.com/shaiso/Courier/internal/pool"
	"github.com/shaiso/Courier/internal/repo"
	"github.com/shaiso/Courier/internal/scheduler"
	"github.com/shaiso/Courier/internal/telemetry"
	"github.com/shaiso/Courier/internal/tracker"
	"github.com/shaiso/Courier/internal/worker"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "courier-engine",
		Short:         "Courier engine — order delivery orchestration",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			// graceful shutdown
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return run(ctx, cfg)
		},
	}

	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config (default: $COURIER_CONFIG)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// storage — хранилище заказов и список для API.
type storage interface {
	orchestrator.Store
	api.OrderLister
}

func run(ctx context.Context, cfg *config.Config) error {
	// Инициализируем structured logging
	logger := telemetry.NewLogger(os.Stdout, telemetry.ParseLevel(cfg.Engine.LogLevel), cfg.Engine.LogFormat)
	slog.SetDefault(logger)
	logger.Info("starting courier-engine", "version", version)

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	// Хранилище: PostgreSQL или память
	var store storage
	if cfg.Engine.DatabaseURL != "" {
		db, err := repo.NewPool(ctx, cfg.Engine.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()

		if err := repo.EnsureSchema(ctx, db); err != nil {
			return err
		}
		store = repo.NewOrderRepo(db)
		logger.Info("database connected")
	} else {
		store = repo.NewMemoryStore()
		logger.Warn("DB_URL not set, orders are kept in memory and lost on restart")
	}

	// RabbitMQ (опционально)
	var mqConn *mq.Connection
	if cfg.Engine.RabbitMQURL != "" {
		conn, err := mq.NewConnection(cfg.Engine.RabbitMQURL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, running without queue intake", "error", err)
		} else {
			defer conn.Close()
			mqConn = conn
			logger.Info("RabbitMQ connected")
			logger.Debug("amqp topology declared", "topology", mq.TopologyInfo())
		}
	}

	// Уведомления о прогрессе
	publishers := []notify.Publisher{notify.NewLogPublisher(logger)}
	if mqConn != nil {
		publishers = append(publishers, notify.NewMQPublisher(mq.NewPublisher(mqConn, logger)))
	}
	if cfg.Engine.RedisURL != "" {
		rdb, err := notify.NewRedisClient(cfg.Engine.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis not reachable, progress publishing will retry per event", "error", err)
		}
		publishers = append(publishers, notify.NewRedisPublisher(notify.RedisConfig{Client: rdb}))
	}

	dispatcher := notify.New(notify.Config{
		Publishers: publishers,
		Buffer:     cfg.Engine.NotifyBuffer,
		Metrics:    metrics,
		Logger:     logger,
	})
	dispatcher.Start(context.Background())

	track := tracker.New(tracker.Config{
		Window: cfg.Policy.Window,
		Store:  store,
		Sink:   dispatcher,
		Logger: logger,
	})

	// Пул ресурсов
	poolCfg := cfg.PoolManagerConfig()
	poolCfg.Metrics = metrics
	poolCfg.Logger = logger
	resources, err := pool.New(poolCfg)
	if err != nil {
		return fmt.Errorf("create resource pool: %w", err)
	}

	// Backend'ы
	slots := worker.NewSlots()
	registry, err := config.BuildRegistry(cfg.Backends, config.BackendDeps{
		Slots:  slots,
		Leaser: resources,
		Stats:  track,
	})
	if err != nil {
		return fmt.Errorf("build backends: %w", err)
	}
	slots.ConfigureFrom(registry)
	logger.Info("backends registered", "backends", registry.Names())

	queue := worker.NewQueue(cfg.Engine.QueueCapacity)

	orch := orchestrator.New(orchestrator.Config{
		Store:        store,
		Registry:     registry,
		Queue:        queue,
		Policy:       policy.New(cfg.Policy),
		Tracker:      track,
		PollInterval: cfg.Engine.PollInterval,
		Metrics:      metrics,
		Logger:       logger,
	})

	workers := worker.New(worker.Config{
		Queue:       queue,
		Registry:    registry,
		Slots:       slots,
		Leaser:      resources,
		Handler:     orch,
		Workers:     cfg.Engine.Workers,
		TaskTimeout: cfg.Engine.TaskTimeout,
		Metrics:     metrics,
		Logger:      logger,
	})

	// Tasks и таймеры живут до явного Stop, а не до сигнала
	if err := orch.Start(context.Background()); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}
	if err := workers.Start(context.Background()); err != nil {
		orch.Stop()
		return fmt.Errorf("start worker pool: %w", err)
	}

	sched, err := scheduler.New(scheduler.Config{
		Submitter: orch,
		Entries:   recurringEntries(cfg.Recurring),
		Tick:      cfg.Engine.SchedulerTick,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	// HTTP: API + /healthz + /metrics
	handler := api.NewHandler(api.Config{
		Orders:    orch,
		Lister:    store,
		Registry:  registry,
		Slots:     slots,
		Stats:     track,
		Pool:      resources,
		Schedules: sched,
		Logger:    logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok active_orders=%d queue=%d", orch.ActiveOrdersCount(), queue.Len())
	})
	mux.Handle("/metrics", promhttp.Handler())
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              ":" + cfg.Engine.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		resources.RunReaper(gctx, cfg.Pool.ReapInterval)
		return nil
	})

	g.Go(func() error {
		return sched.Run(gctx)
	})

	if mqConn != nil {
		consumer := mq.NewConsumer(mqConn, logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueOrdersSubmit),
			Prefetch: 16,
			Handler:  submitFromQueue(orch, logger),
		})
		g.Go(func() error {
			if err := consumer.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	// Ожидаем сигнал завершения или падение компонента
	<-gctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	// Сначала workers: их результаты ещё сворачиваются в заказы
	if err := workers.Stop(shutdownCtx); err != nil {
		logger.Warn("worker pool did not drain", "error", err)
	}
	orch.Stop()

	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.Warn("notifications not fully delivered", "pending", dispatcher.Pending(), "error", err)
	}

	err = g.Wait()
	logger.Info("courier-engine stopped")
	return err
}

// submitFromQueue принимает заказы из orders.submit.
// Невалидный заказ отклоняется без повторной доставки.
func submitFromQueue(orch *orchestrator.Orchestrator, logger *slog.Logger) mq.Handler {
	return mq.SubmitHandler(func(ctx context.Context, p mq.OrderSubmitPayload) error {
		order, err := orch.Submit(ctx, orchestrator.OrderRequest{
			Target:   p.Target,
			Quantity: p.Quantity,
			Backends: p.Backends,
			Priority: p.Priority,
		})
		if err != nil {
			if errors.Is(err, orchestrator.ErrInvalidOrder) {
				return fmt.Errorf("%w: %w", mq.ErrReject, err)
			}
			return err
		}

		logger.Info("order accepted from queue", "order_id", order.ID)
		return nil
	})
}

func recurringEntries(cfgs []config.RecurringConfig) []scheduler.Entry {
	entries := make([]scheduler.Entry, 0, len(cfgs))
	for _, rc := range cfgs {
		entries = append(entries, scheduler.Entry{
			Name:     rc.Name,
			Schedule: rc.Schedule,
			Disabled: rc.Disabled,
			Request: orchestrator.OrderRequest{
				Target:   rc.Target,
				Quantity: rc.Quantity,
				Backends: rc.Backends,
				Priority: rc.Priority,
			},
		})
	}
	return entries
}
