// Command adapter wires the ordered-KV storage adapter together against
// an in-process memkv store, starts the metrics/health HTTP surface,
// exercises the core operations once at startup as a smoke check, and
// shuts down gracefully on SIGTERM/SIGINT. Grounded on the teacher's
// cmd/storage/main.go: config load, logger init, service construction,
// signal-driven graceful shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/relionsql/kvadapter/internal/alter"
	"github.com/relionsql/kvadapter/internal/config"
	"github.com/relionsql/kvadapter/internal/directory"
	"github.com/relionsql/kvadapter/internal/health"
	"github.com/relionsql/kvadapter/internal/kv/memkv"
	"github.com/relionsql/kvadapter/internal/metrics"
	"github.com/relionsql/kvadapter/internal/model"
	"github.com/relionsql/kvadapter/internal/nullsep"
	"github.com/relionsql/kvadapter/internal/schemaops"
	"github.com/relionsql/kvadapter/internal/sequence"
	"github.com/relionsql/kvadapter/internal/server"
	"github.com/relionsql/kvadapter/internal/session"
	"github.com/relionsql/kvadapter/internal/storage/adapter"
	"github.com/relionsql/kvadapter/internal/storage/gicounter"
	"github.com/relionsql/kvadapter/internal/storage/indexwriter"
	"github.com/relionsql/kvadapter/internal/traversal"
	"github.com/relionsql/kvadapter/internal/txnbudget"
	"github.com/relionsql/kvadapter/internal/util/workerpool"
)

// components bundles every collaborator this adapter wires up once at
// startup, shared by whatever caller drives it afterward.
type components struct {
	store     *memkv.Store
	dir       *directory.Client
	health    *health.Service
	adapter   *adapter.Adapter
	writer    *indexwriter.Writer
	ops       *schemaops.Ops
	alter     *alter.Orchestrator
	traverser *traversal.Traverser
	checkPool *workerpool.WorkerPool
}

func main() {
	logger, err := initLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Warn("falling back to defaults, failed to load config", zap.String("path", configPath), zap.Error(err))
		cfg = config.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := wire(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to wire adapter components", zap.Error(err))
	}
	defer c.checkPool.Stop(cfg.Server.ShutdownTimeout)

	httpServer := server.New(&server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MetricsPath:     cfg.Metrics.Path,
	}, c.health, logger)
	if err := httpServer.Start(); err != nil {
		logger.Fatal("failed to start metrics/health server", zap.Error(err))
	}

	if err := smokeCheck(ctx, c, logger); err != nil {
		logger.Error("startup smoke check failed", zap.Error(err))
	}

	logger.Info("adapter ready", zap.String("name", c.health.GetName()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down gracefully...")
	c.health.Stop()
	if err := httpServer.Stop(); err != nil {
		logger.Error("metrics/health server shutdown failed", zap.Error(err))
	}
}

// wire constructs every component, resolving the indexCount/indexNull
// subdirectories through the health service's Start as spec.md §6
// requires before anything downstream can run.
func wire(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error) {
	store := memkv.New(logger)
	m := metrics.New("kvadapter")

	dirClient := directory.New(store.Directory(), &directory.Config{
		MaxRetries:    cfg.Directory.MaxRetries,
		RetryInterval: cfg.Directory.RetryInterval,
		CacheSize:     cfg.Directory.CacheSize,
	}, logger)

	seqAlloc := sequence.New(store, logger, m)

	bootTxn, err := store.BeginTransaction(ctx)
	if err != nil {
		return nil, err
	}
	healthSvc := health.New(dirClient, seqAlloc, "memkv/0", logger)
	if err := healthSvc.Start(ctx, bootTxn); err != nil {
		return nil, err
	}
	if err := bootTxn.Commit(ctx); err != nil {
		return nil, err
	}

	gicounterSvc := gicounter.New(healthSvc.IndexCountPrefix(), logger, m)
	nullsepSvc := nullsep.New(healthSvc.IndexNullPrefix(), store, logger)
	budget := txnbudget.New(&txnbudget.Config{
		Limit:                  cfg.TxnBudget.LimitBytes,
		WarningFraction:        cfg.TxnBudget.WarningFraction,
		ThrottleFraction:       cfg.TxnBudget.ThrottleFraction,
		CircuitBreakerFraction: cfg.TxnBudget.CircuitBreakerFraction,
	}, logger)

	checkPool := workerpool.NewWorkerPool(&workerpool.Config{
		Name:       "index-unique-checks",
		MaxWorkers: cfg.IndexWriter.CheckPoolWorkers,
		QueueSize:  cfg.IndexWriter.CheckQueueDepth,
		Logger:     logger,
	})

	storageAdapter := adapter.New(logger, m)
	writer := indexwriter.New(nullsepSvc, gicounterSvc, checkPool, budget, m, logger)

	return &components{
		store:     store,
		dir:       dirClient,
		health:    healthSvc,
		adapter:   storageAdapter,
		writer:    writer,
		ops:       schemaops.New(storageAdapter, gicounterSvc, nullsepSvc, seqAlloc, dirClient, logger),
		alter:     alter.New(dirClient, nil, logger),
		traverser: traversal.New(budget, m, logger),
		checkPool: checkPool,
	}, nil
}

// smokeCheck stores and fetches a row, builds and writes a unique index
// row for it, then traverses that index back, confirming the wiring
// between storage, index-writing, and traversal all actually agree with
// each other before the adapter declares itself ready.
func smokeCheck(ctx context.Context, c *components, logger *zap.Logger) error {
	txn, err := c.store.BeginTransaction(ctx)
	if err != nil {
		return err
	}
	sess := session.New(ctx, txn)

	tablePrefix, err := c.dir.Resolve(ctx, sess.Txn(), []string{"data", "_smoke", "probe"})
	if err != nil {
		return err
	}
	indexPrefix, err := c.dir.Resolve(ctx, sess.Txn(), []string{"data", "_smoke", "probe_idx"})
	if err != nil {
		return err
	}

	desc := &model.StorageDescription{QualifiedPath: []string{"_smoke", "probe"}, Kind: model.KindTable, Prefix: tablePrefix}
	key := model.NewKey(model.IntSegment(1))
	row := model.RowData{Bytes: []byte("smoke")}

	if err := c.adapter.Store(ctx, sess, &adapter.StoreData{Desc: desc, Key: key, Value: row}); err != nil {
		return err
	}
	fetched := &adapter.StoreData{Desc: desc, Key: key}
	existed, err := c.adapter.Fetch(ctx, sess.Txn(), fetched)
	if err != nil {
		return err
	}
	if !existed {
		return fmt.Errorf("smoke check: expected row to exist after store")
	}

	index := &model.TableIndex{
		Name:   "probe_idx",
		Prefix: indexPrefix,
		Unique: true,
		KeyColumns: []model.FieldDef{
			{Name: "pk", Position: 0, Extract: func(model.RowData) (model.Segment, bool) { return model.IntSegment(1), true }},
		},
	}
	hKey := model.NewHKey(model.IntSegment(1))
	indexRow, err := c.writer.Build(ctx, index, row, hKey)
	if err != nil {
		return err
	}
	if err := c.writer.CheckUniqueness(ctx, sess.Txn(), index, indexRow, row, "smoke-row", nil); err != nil {
		return err
	}
	if err := c.writer.Write(ctx, sess, index, indexRow); err != nil {
		return err
	}

	visited := 0
	if err := c.traverser.Traverse(ctx, sess, index, func(ctx context.Context, k *model.Key, h model.HKey) error {
		visited++
		return nil
	}, traversal.Options{ScanTimeLimit: -1}); err != nil {
		return err
	}
	if visited != 1 {
		return fmt.Errorf("smoke check: expected traversal to visit 1 row, visited %d", visited)
	}

	logger.Info("startup smoke check passed", zap.Int("rows_traversed", visited))
	return sess.Txn().Commit(ctx)
}

func initLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	return cfg.Build()
}
