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
	"sync"
	"syscall"
	"time"

	"CoverLedger/internal/config"
	"CoverLedger/internal/core"
	"CoverLedger/internal/event"
	"CoverLedger/internal/genesis"
	"CoverLedger/internal/ingestion"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/persistence"
	"CoverLedger/internal/pricefeed"
	"CoverLedger/internal/projection"
	"CoverLedger/internal/query"
	"CoverLedger/internal/scheduler"
	"CoverLedger/internal/server"
	"CoverLedger/internal/signer"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", os.Getenv("COVER_CONFIG"), "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot := observability.NewLogger("main")
		boot.Fatal().Err(err).Msg("load config")
	}
	observability.SetupLogging(cfg.Logging.Level)
	log := observability.NewLogger("main")

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("coverledger exited")
	}
	log.Info().Msg("coverledger shutdown complete")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	log.Info().Str("genesis", cfg.Genesis).Msg("coverledger starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Genesis ---
	g, err := genesis.Load(cfg.Genesis)
	if err != nil {
		return err
	}
	sys, err := core.NewSystem(g)
	if err != nil {
		return fmt.Errorf("build system: %w", err)
	}

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnLifetime)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	log.Info().Msg("postgres connected")

	if err := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir).Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("migrations applied")

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()
	healthChecker.AddCheck("postgres", db.PingContext)

	// --- Channels ---
	// The persist channel blocks the core when full; the projection
	// channel drops, projections can be rebuilt from the log.
	persistChan := make(chan core.CoreOutput, cfg.Pipeline.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.Pipeline.ProjectionChanSize)
	receiptChan := make(chan event.Receipt, cfg.Pipeline.ReceiptChanSize)

	// --- Engine + recovery ---
	checkpoints := persistence.NewCheckpointStore(db)
	engine := core.NewEngine(sys, persistChan, projectionChan, persistence.NewPostgresIdempotencyChecker(db), metrics)
	engine.SetLogger(observability.NewLogger("core"))
	engine.SetLRUCapacity(cfg.Idempotency.LRUCapacity)

	res, err := persistence.ReplayLog(ctx, engine, checkpoints, checkpoints)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	metrics.ReplayDuration.Set(res.Duration.Seconds())
	log.Info().
		Int64("replayed", res.Replayed).
		Int("checkpoints_verified", res.Checkpoints).
		Dur("took", res.Duration).
		Int64("next_sequence", engine.GetSequence()).
		Msg("replay complete")

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL)
	if err != nil {
		return err
	}
	defer nc.Close()
	healthChecker.AddCheck("nats", func(context.Context) error {
		if !nc.IsConnected() {
			return errors.New("disconnected")
		}
		return nil
	})

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		return err
	}
	if err := ingestion.EnsureReceiptStream(ctx, js); err != nil {
		return fmt.Errorf("ensure receipt stream: %w", err)
	}

	rawChan := make(chan ingestion.RawTx, 4096)
	subscriber := ingestion.NewNATSSubscriber(js, rawChan)
	subCfg := ingestion.DefaultSubscriberConfig()
	subCfg.ConsumerName = cfg.NATS.Consumer
	subCfg.AckWait = cfg.NATS.AckWait
	if err := subscriber.Subscribe(ctx, subCfg); err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	// --- Price feed ---
	var prices *pricefeed.Feed
	if cfg.Redis.Addr != "" {
		rdb, err := pricefeed.NewRedisClient(ctx, pricefeed.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, observability.NewLogger("redis"))
		if err != nil {
			return err
		}
		defer rdb.Close()
		healthChecker.AddCheck("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })

		prices = pricefeed.NewFeed(
			pricefeed.NewRedisStore(rdb, observability.NewLogger("pricefeed")),
			pricefeed.NewEngineVerifier(engine),
			metrics,
		)
		if cfg.Attestor.Key != "" {
			var domain signer.Domain
			engine.View(func(s *core.System) { domain = s.Signer.Domain() })
			attestor, err := signer.NewAttestor(cfg.Attestor.Key, domain)
			if err != nil {
				return err
			}
			prices.SetAttestor(attestor)
			log.Info().Str("attestor", attestor.Address().Hex()).Msg("price attestor enabled")
		}
	} else {
		log.Warn().Msg("redis not configured, price feed disabled")
	}

	// --- Admin auth ---
	var auth *server.AdminAuth
	if cfg.Server.JWTSecret != "" {
		auth = server.NewAdminAuth(cfg.Server.JWTSecret)
	} else {
		log.Warn().Msg("no jwt secret configured, admin and ingest calls are disabled")
	}

	// --- Services ---
	queryService := query.NewQueryService(db, engine)
	ingestService := ingestion.NewIngestService(engine)

	grpcServer := server.NewGRPCServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, &server.ServerDeps{
		DB:            db,
		QueryService:  queryService,
		IngestService: ingestService,
		Prices:        prices,
		Engine:        engine,
		Checkpoints:   checkpoints,
		Auth:          auth,
		StartTime:     time.Now(),
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        observability.NewLogger("server"),
	})

	sched := scheduler.NewScheduler(ctx, engine, checkpoints, metrics)
	if err := sched.RegisterAll(cfg.Scheduler.AuditSpec, cfg.Scheduler.CheckpointSpec); err != nil {
		return err
	}

	// --- Goroutines ---
	errChan := make(chan error, 10)

	// Workers drain their channels to the end, so they run on their own
	// context and stop when the channels close.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	var persistWG, workerWG, ingressWG sync.WaitGroup

	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.Pipeline.PersistBatchSize, cfg.Pipeline.PersistFlushTimeout, metrics)
	persistWorker.PublishReceipts(receiptChan)
	persistWG.Add(1)
	go func() {
		defer persistWG.Done()
		if err := persistWorker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("persistence worker: %w", err)
		}
	}()

	projWorker := projection.NewProjectionWorker(db, projectionChan, metrics)
	workerWG.Add(1)
	go func() {
		defer workerWG.Done()
		_ = projWorker.Run(workerCtx)
	}()

	publisher := ingestion.NewReceiptPublisher(js, receiptChan, metrics)
	workerWG.Add(1)
	go func() {
		defer workerWG.Done()
		_ = publisher.Run(workerCtx)
	}()

	ingressWG.Add(3)
	go func() {
		defer ingressWG.Done()
		ingestion.RunIngestionLoop(ctx, rawChan, engine, metrics, observability.NewLogger("ingestion"))
	}()
	go func() {
		defer ingressWG.Done()
		if err := grpcServer.StartGRPC(ctx); err != nil {
			errChan <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		defer ingressWG.Done()
		if err := grpcServer.StartHTTPGateway(ctx); err != nil {
			errChan <- fmt.Errorf("http gateway: %w", err)
		}
	}()

	go serveMetrics(ctx, cfg.Server.MetricsAddr, errChan, log)
	go sampleChannels(ctx, metrics, map[string]func() (int, int){
		"persist":    func() (int, int) { return len(persistChan), cap(persistChan) },
		"projection": func() (int, int) { return len(projectionChan), cap(projectionChan) },
		"receipts":   func() (int, int) { return len(receiptChan), cap(receiptChan) },
		"inbound":    func() (int, int) { return len(rawChan), cap(rawChan) },
	})

	sched.Start()
	healthChecker.SetReady(true)

	log.Info().
		Int64("sequence", engine.GetSequence()).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("coverledger ready")

	// --- Wait for shutdown ---
	var runErr error
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case runErr = <-errChan:
		log.Error().Err(runErr).Msg("goroutine failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop every writer into the core, then drain persistence before the
	// receipt publisher, then record a final checkpoint.
	healthChecker.SetReady(false)
	sched.Stop()
	subscriber.Stop()
	cancel()
	ingressWG.Wait()

	close(persistChan)
	close(projectionChan)

	drained := make(chan struct{})
	go func() {
		persistWG.Wait()
		close(receiptChan)
		workerWG.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(30 * time.Second):
		log.Error().Msg("workers did not drain within 30s")
		stopWorkers()
	}

	finalCtx, finalCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer finalCancel()
	if cp, ok := engine.Checkpoint(); ok {
		if err := checkpoints.Save(finalCtx, cp); err != nil {
			log.Error().Err(err).Msg("final checkpoint failed")
		} else {
			log.Info().Int64("sequence", cp.Sequence).Msg("final checkpoint saved")
		}
	}

	return runErr
}

func serveMetrics(ctx context.Context, addr string, errChan chan<- error, log zerolog.Logger) {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              addr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = metricsServer.Shutdown(shutCtx)
	}()

	log.Info().Str("addr", addr).Msg("metrics server listening")
	if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errChan <- fmt.Errorf("metrics server: %w", err)
	}
}

func sampleChannels(ctx context.Context, metrics *observability.Metrics, chans map[string]func() (int, int)) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, sample := range chans {
				size, capacity := sample()
				metrics.SetChannelMetrics(name, size, capacity)
			}
		}
	}
}
