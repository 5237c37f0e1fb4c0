package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	exdb "github.com/hakimelghazi/clob-core/db"
	dbsqlc "github.com/hakimelghazi/clob-core/db/sqlc"
	"github.com/hakimelghazi/clob-core/internal/config"
	"github.com/hakimelghazi/clob-core/internal/engine"
	"github.com/hakimelghazi/clob-core/internal/events"
	"github.com/hakimelghazi/clob-core/internal/journal"
	"github.com/hakimelghazi/clob-core/internal/ledger"
	"github.com/hakimelghazi/clob-core/internal/market"
	"github.com/hakimelghazi/clob-core/internal/store"
	"github.com/hakimelghazi/clob-core/pricefeed"
)

func main() {
	path := flag.String("config", "config.yaml", "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := cfg.Log.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	markets, err := market.NewRegistry(cfg.Market)
	if err != nil {
		return err
	}
	srv := &server{
		market:  cfg.Market,
		markets: markets,
		quotes:  pricefeed.NewQuoteCache(),
		log:     log,
	}
	ecfg := engine.Config{
		Market: cfg.Market,
		Buffer: cfg.Engine.Buffer,
		Logger: log,
	}

	var sinks []engine.FillSink

	// 1) balances and fill history: Postgres when configured, memory otherwise
	if cfg.Database.URL != "" {
		pool, err := exdb.NewPool(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := exdb.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		queries := dbsqlc.New(pool)
		ecfg.Ledger = ledger.NewPostgres(pool, queries)
		sinks = append(sinks, store.NewFillStore(pool, queries))
		srv.fills = queries
	} else {
		mem := ledger.NewMemory()
		ecfg.Ledger = mem
		srv.funds = mem
		log.Warn("no database configured, balances are kept in memory")
	}

	// 2) resting-order journal
	if cfg.Journal.Dir != "" {
		j, err := journal.Open(cfg.Journal.Dir)
		if err != nil {
			return err
		}
		defer j.Close()
		ecfg.Journal = j
	}

	// 3) fill events, delivered off the engine loop
	var publisher interface {
		engine.FillSink
		Close() error
	} = events.NopSink{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	} else {
		log.Info("no kafka brokers configured, fill events are dropped")
	}
	defer publisher.Close()
	sinks = append(sinks, publisher)
	fillSink := events.NewAsync(cfg.Engine.Buffer, log, sinks...)
	ecfg.Sinks = []engine.FillSink{fillSink}

	// 4) engine
	eng, err := engine.NewEngine(ecfg)
	if err != nil {
		return err
	}
	srv.eng = eng

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           newRouter(srv),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		eng.Run(gctx)
		return nil
	})
	g.Go(func() error {
		fillSink.Run(gctx)
		return nil
	})
	g.Go(func() error {
		pricefeed.StartUpdater(gctx, eng, srv.quotes, markets.Names(), cfg.Ticker.Interval, log)
		return nil
	})
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Listen), zap.String("market", cfg.Market.Name))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
