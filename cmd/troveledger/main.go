package main

import (
	"TroveLedger/internal/config"
	"TroveLedger/internal/core"
	"TroveLedger/internal/ingestion"
	"TroveLedger/internal/observability"
	"TroveLedger/internal/oracle"
	"TroveLedger/internal/persistence"
	"TroveLedger/internal/projection"
	"TroveLedger/internal/query"
	"TroveLedger/internal/server"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("INFO: TroveLedger starting...")

	configPath := flag.String("config", os.Getenv("TROVE_CONFIG"), "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("FATAL: load config: %v", err)
	}
	params, err := cfg.Params.SystemParams()
	if err != nil {
		log.Fatalf("FATAL: system params: %v", err)
	}
	level := observability.ParseLogLevel(cfg.Log.Level)

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("FATAL: postgres open: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("FATAL: postgres ping: %v", err)
	}
	healthChecker.SetDependency("postgres", true)
	log.Println("INFO: Postgres connected")

	applied, err := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir).Up(ctx)
	if err != nil {
		log.Fatalf("FATAL: run migrations: %v", err)
	}
	log.Printf("INFO: migrations applied (%d new)", applied)

	store := persistence.NewSnapshotStore(db)
	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	feed := oracle.NewFeedCache(cfg.Oracle.MaxPriceAge, oracle.WithMetrics(metrics))

	// --- Channels ---
	// The persist channel blocks (backpressure); projection is best-effort.
	persistCoreChan := make(chan core.CoreOutput, cfg.Engine.PersistChanSize)
	persistWorkerChan := make(chan core.CoreOutput, cfg.Engine.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.Engine.ProjectionChanSize)
	publishChan := make(chan ingestion.PublishableEvent, cfg.Engine.PublishChanSize)
	commandChan := make(chan ingestion.Submission, cfg.Engine.CommandChanSize)

	// --- Engine ---
	engine, err := core.NewEngine(core.Config{
		Params:              params,
		MaxPositions:        cfg.Engine.MaxPositions,
		IdempotencyCapacity: cfg.Engine.IdempotencyLRUCapacity,
		Oracle:              feed,
		DBChecker:           dbChecker,
		PersistChan:         persistCoreChan,
		ProjectionChan:      projectionChan,
		Metrics:             metrics,
		Logger:              observability.NewLoggerWithLevel("engine", level),
	})
	if err != nil {
		log.Fatalf("FATAL: create engine: %v", err)
	}

	// --- Recovery: snapshot + replay ---
	// Replayed commands re-emit nothing; the channels stay empty until live
	// traffic starts.
	res, err := persistence.Recover(ctx, engine, store, store, persistence.RecoveryOptions{
		BatchSize: cfg.Snapshot.ReplayBatch,
		Metrics:   metrics,
		Logger:    observability.NewLoggerWithLevel("recovery", level),
	})
	if err != nil {
		log.Fatalf("FATAL: recovery failed: %v", err)
	}
	log.Printf("INFO: recovered (snapshot=%d, replayed=%d, sequence=%d)",
		res.SnapshotSequence, res.Replayed, res.Sequence)

	if res.SnapshotSequence == 0 {
		ids, err := dbChecker.RecentRequestIDs(ctx, cfg.Engine.IdempotencyLRUCapacity)
		if err != nil {
			log.Fatalf("FATAL: load request ids: %v", err)
		}
		engine.WarmLRU(ids)
		log.Printf("INFO: warmed LRU with %d request ids from the event log", len(ids))
	}

	// Seed the price cache with the last price the engine acted on, so
	// restart does not wait for the feed. The age check still applies.
	if row, err := store.LastPricedEvent(ctx); err != nil {
		log.Printf("WARN: load last priced event: %v", err)
	} else if row != nil {
		env, err := row.Envelope()
		if err != nil {
			log.Fatalf("FATAL: decode event %d: %v", row.Sequence, err)
		}
		feed.Restore(oracle.PriceUpdate{Price: env.Price, Timestamp: env.Timestamp})
		log.Printf("INFO: price cache seeded from sequence %d", row.Sequence)
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, func(up bool) {
		healthChecker.SetDependency("nats", up)
	})
	if err != nil {
		log.Fatalf("FATAL: nats connect: %v", err)
	}
	defer nc.Close()
	healthChecker.SetDependency("nats", true)
	log.Println("INFO: NATS connected")

	if err := ingestion.EnsureStreams(ctx, js, cfg.NATS.PriceSubject); err != nil {
		log.Fatalf("FATAL: ensure NATS streams: %v", err)
	}
	if cfg.NATS.Publish {
		if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
			log.Fatalf("FATAL: ensure outbound stream: %v", err)
		}
	}

	rawEventChan := make(chan ingestion.RawEvent, cfg.Engine.CommandChanSize)
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawEventChan,
		observability.NewLoggerWithLevel("nats", level))
	if err := natsSubscriber.Subscribe(ctx, ingestion.DefaultSubjects(cfg.NATS.PriceSubject)); err != nil {
		log.Fatalf("FATAL: nats subscribe: %v", err)
	}

	// --- Workers ---
	snapshotter := persistence.NewSnapshotter(engine, store, cfg.Snapshot.Interval, cfg.Snapshot.CheckEvery,
		metrics, observability.NewLoggerWithLevel("snapshotter", level))
	persistWorker := persistence.NewPersistenceWorker(db, persistWorkerChan,
		cfg.Persistence.BatchSize, cfg.Persistence.FlushTimeout, metrics,
		persistence.WithFlushHook(snapshotter.MarkPersisted),
		persistence.WithLogger(observability.NewLoggerWithLevel("persistence", level)),
	)
	projWorker := projection.NewProjectionWorker(db, projectionChan, metrics,
		observability.NewLoggerWithLevel("projection", level))

	// --- Services ---
	ingestService := ingestion.NewGRPCIngestService(commandChan, feed)
	queryService := query.NewQueryService(db, metrics)
	projectionLogger := observability.NewLoggerWithLevel("rebuild", level)
	ledgerService := server.NewLedgerService(server.ServiceDeps{
		Ingest:    ingestService,
		Queries:   queryService,
		Engine:    engine,
		Snapshots: snapshotter,
		Rebuild: func(ctx context.Context) error {
			return projection.RebuildProjections(ctx, db, projectionLogger)
		},
	})

	grpcServer := server.NewGRPCServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, &server.ServerDeps{
		Service:       ledgerService,
		HealthChecker: healthChecker,
		Logger:        observability.NewLoggerWithLevel("server", level),
	})

	// --- Start goroutines ---
	errChan := make(chan error, 10)

	// 1. Persistence worker; exits once persistWorkerChan is closed and drained
	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		if err := persistWorker.Run(context.Background()); err != nil {
			errChan <- fmt.Errorf("persistence worker: %w", err)
		}
	}()

	// 2. Fan-out: every output to the persistence worker, then best-effort to
	// the outbound publisher
	commandsDone := make(chan struct{})
	go func() {
		teeOutputs(ctx, commandsDone, persistCoreChan, persistWorkerChan, publishChan, cfg.NATS.Publish, metrics)
	}()

	// 3. Projection worker
	go func() {
		if err := projWorker.Run(ctx); err != nil && ctx.Err() == nil {
			errChan <- fmt.Errorf("projection worker: %w", err)
		}
	}()

	// 4. Outbound publisher
	if cfg.NATS.Publish {
		publisher := ingestion.NewOutboundPublisher(js, publishChan,
			observability.NewLoggerWithLevel("publisher", level))
		go func() {
			errChan <- publisher.Run(ctx)
		}()
	}

	// 5. NATS router and the single command loop
	router := ingestion.NewRouter(cfg.NATS.PriceSubject, feed, commandChan,
		observability.NewLoggerWithLevel("router", level))
	go func() {
		if err := router.Run(ctx, rawEventChan); err != nil && ctx.Err() == nil {
			errChan <- fmt.Errorf("router: %w", err)
		}
	}()
	go func() {
		defer close(commandsDone)
		if err := ingestion.RunCommandLoop(ctx, commandChan, engine,
			observability.NewLoggerWithLevel("commands", level)); err != nil && ctx.Err() == nil {
			errChan <- fmt.Errorf("command loop: %w", err)
		}
	}()

	// 6. Periodic snapshots
	go snapshotter.Run(ctx)

	// 7. gRPC server
	go func() {
		errChan <- grpcServer.StartGRPC(ctx)
	}()

	// 8. HTTP/JSON gateway
	go func() {
		errChan <- grpcServer.StartHTTPGateway(ctx)
	}()

	// 9. Prometheus metrics server
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:              cfg.Server.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		log.Printf("INFO: Metrics server listening on %s/metrics", cfg.Server.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	grpcServer.SetServing(true)
	healthChecker.SetReady(true)

	log.Printf("INFO: TroveLedger ready (sequence=%d, grpc=%s, http=%s, metrics=%s)",
		engine.Sequence(), cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, cfg.Server.MetricsAddr)

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		log.Printf("INFO: received signal %s, shutting down...", sig)
	case err := <-errChan:
		log.Printf("ERROR: goroutine failed: %v, shutting down...", err)
	}

	// --- Graceful shutdown ---
	// Stop intake, let the persistence worker drain, then take the final
	// snapshot so it can be verified against the flushed log.
	healthChecker.SetReady(false)
	grpcServer.SetServing(false)
	natsSubscriber.Stop()
	cancel()

	select {
	case <-persistDone:
	case <-time.After(30 * time.Second):
		log.Println("WARN: persistence worker did not drain within 30s")
	}

	if cfg.Snapshot.FinalSnapshot {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if snap, err := snapshotter.Take(shutdownCtx); err != nil {
			log.Printf("ERROR: final snapshot failed: %v", err)
		} else {
			log.Printf("INFO: final snapshot saved at sequence %d", snap.Sequence)
		}
	}

	log.Println("INFO: TroveLedger shutdown complete")
}

// teeOutputs forwards engine outputs to the persistence worker with a
// blocking send and, when publishing, to the outbound publisher without
// blocking. Once ctx is done it waits for the command loop to stop, drains
// what the engine already emitted and closes persistOut, which is what lets
// the worker flush its last batch.
func teeOutputs(
	ctx context.Context,
	commandsDone <-chan struct{},
	in <-chan core.CoreOutput,
	persistOut chan<- core.CoreOutput,
	publishOut chan<- ingestion.PublishableEvent,
	publish bool,
	metrics *observability.Metrics,
) {
	defer close(persistOut)

	forward := func(out core.CoreOutput) {
		persistOut <- out
		if !publish {
			return
		}
		select {
		case publishOut <- ingestion.NewPublishableEvent(out):
		default:
			metrics.PublishDrops.Inc()
		}
	}

	for {
		select {
		case out := <-in:
			forward(out)
		case <-ctx.Done():
			drainOutputs(commandsDone, in, forward)
			return
		}
	}
}

// drainOutputs keeps forwarding until the command loop has stopped, then
// empties whatever is left buffered.
func drainOutputs(commandsDone <-chan struct{}, in <-chan core.CoreOutput, forward func(core.CoreOutput)) {
	for {
		select {
		case out := <-in:
			forward(out)
		case <-commandsDone:
			for {
				select {
				case out := <-in:
					forward(out)
				default:
					return
				}
			}
		}
	}
}
