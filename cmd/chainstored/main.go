package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/goodnatureofminers/chainstore7000/internal/chain"
	"github.com/goodnatureofminers/chainstore7000/internal/metrics"
	"github.com/goodnatureofminers/chainstore7000/internal/model"
	"github.com/goodnatureofminers/chainstore7000/internal/repository/badgerdb"
	"github.com/goodnatureofminers/chainstore7000/internal/repository/clickhouse"
	"github.com/goodnatureofminers/chainstore7000/internal/service/flusher"
	"github.com/goodnatureofminers/chainstore7000/internal/store"
)

type config struct {
	Directory      string        `long:"directory" env:"CHAINSTORE_DIRECTORY" description:"data directory" required:"true"`
	Network        string        `long:"network" env:"CHAINSTORE_NETWORK" description:"network name" default:"mainnet"`
	Create         bool          `long:"create" env:"CHAINSTORE_CREATE" description:"initialize a new store with the network genesis block"`
	FlushWrites    bool          `long:"flush-writes" env:"CHAINSTORE_FLUSH_WRITES" description:"flush after every write"`
	IndexAddresses bool          `long:"index-addresses" env:"CHAINSTORE_INDEX_ADDRESSES" description:"maintain the payment index"`
	ClickhouseDSN  string        `long:"clickhouse-dsn" env:"CHAINSTORE_CLICKHOUSE_DSN" description:"ClickHouse DSN for the payment index; empty selects the embedded index"`
	CacheCapacity  uint32        `long:"cache-capacity" env:"CHAINSTORE_CACHE_CAPACITY" description:"transaction cache entries" default:"10000"`
	FlushInterval  time.Duration `long:"flush-interval" env:"CHAINSTORE_FLUSH_INTERVAL" description:"periodic flush interval when per-write flushing is off" default:"30s"`
	MetricsAddr    string        `long:"metrics-addr" env:"CHAINSTORE_METRICS_ADDR" description:"prometheus listen address" default:":9090"`
}

func main() {
	cfg := config{}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewProduction()
	if err != nil {
		panic("can't initialize zap logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync()
	}()

	if _, err := flags.ParseArgs(&cfg, os.Args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		logger.Fatal("failed to parse flags", zap.Error(err))
	}

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("chainstored failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config, logger *zap.Logger) error {
	params, err := networkParams(cfg.Network)
	if err != nil {
		return err
	}

	storeCfg := store.Config{
		Directory:      cfg.Directory,
		IndexAddresses: cfg.IndexAddresses,
		FlushWrites:    cfg.FlushWrites,
		CacheCapacity:  cfg.CacheCapacity,
	}

	leaves, err := buildLeaves(cfg, logger)
	if err != nil {
		return err
	}

	st, err := store.New(storeCfg, leaves, logger, metrics.StoreObserver{})
	if err != nil {
		return err
	}

	if cfg.Create {
		genesis := model.FromWireBlock(params.GenesisBlock)
		if err := st.Create(ctx, genesis); err != nil {
			return fmt.Errorf("create store: %w", err)
		}
		logger.Info("store created", zap.String("genesis", genesis.Hash().String()))
	} else {
		if err := st.Open(ctx); err != nil {
			return fmt.Errorf("open store: %w", err)
		}
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("close store failed", zap.Error(err))
		}
	}()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return serveMetrics(ctx, cfg.MetricsAddr, logger)
	})

	if !cfg.FlushWrites {
		svc, err := flusher.New(st, metrics.FlusherObserver{}, cfg.FlushInterval, logger)
		if err != nil {
			return err
		}
		group.Go(func() error {
			return svc.Run(ctx)
		})
	}

	return group.Wait()
}

func buildLeaves(cfg config, logger *zap.Logger) (store.Leaves, error) {
	transactions, err := badgerdb.NewTransactions(cfg.Directory, cfg.CacheCapacity, logger)
	if err != nil {
		return store.Leaves{}, err
	}

	leaves := store.Leaves{
		Blocks:       badgerdb.NewBlocks(cfg.Directory, logger),
		Transactions: transactions,
	}

	if !cfg.IndexAddresses {
		return leaves, nil
	}
	if cfg.ClickhouseDSN == "" {
		leaves.Addresses = badgerdb.NewAddresses(cfg.Directory, logger)
		return leaves, nil
	}

	var addresses chain.AddressStore
	addresses, err = clickhouse.NewAddressStore(cfg.ClickhouseDSN, metrics.AddressObserver{}, logger)
	if err != nil {
		return store.Leaves{}, fmt.Errorf("init clickhouse address store: %w", err)
	}
	leaves.Addresses = addresses
	return leaves, nil
}

func networkParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
}

func serveMetrics(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown failed", zap.Error(err))
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
