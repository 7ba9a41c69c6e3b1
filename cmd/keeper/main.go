// Command keeper is the composition root: it wires config, storage, the
// event log, the adapter pair, Shield, the emergency engine, the four
// strategy engines, the tick scheduler and the operator HTTP surface into
// one process, then dispatches a CLI subcommand. Grounded on the teacher's
// cmd/trading-core/main.go (config.Load -> log.Fatal on failure -> db open
// + migrate -> wire every subsystem -> background goroutines -> signal.Notify
// -> block), narrowed to this system's components: no exchange gateway,
// risk manager, balance manager or order queue, since on-chain execution
// goes through adapter.Exchange/adapter.Oracle instead.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"trading-core/internal/adapter"
	"trading-core/internal/balance"
	"trading-core/internal/clock"
	"trading-core/internal/control"
	"trading-core/internal/domain"
	"trading-core/internal/emergency"
	"trading-core/internal/events"
	"trading-core/internal/executor"
	"trading-core/internal/httpapi"
	"trading-core/internal/intent"
	"trading-core/internal/keeper"
	"trading-core/internal/metrics"
	"trading-core/internal/projection"
	"trading-core/internal/shield"
	"trading-core/internal/strategy"
	"trading-core/internal/wsfeed"
	"trading-core/pkg/config"
	"trading-core/pkg/db"
	"trading-core/pkg/logging"

	"github.com/rs/zerolog"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg)

	app, cleanup, err := wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("wiring failed")
	}
	defer cleanup()

	switch os.Args[1] {
	case "run":
		runForever(app, log)
	case "run-once":
		runOnce(app, log)
	case "status":
		printStatus(app)
	case "rebuild-projection":
		rebuildProjection(app, log)
	case "token":
		mintToken(app, os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: keeper <run|run-once|status|rebuild-projection|token> [args]")
}

// app bundles every wired subsystem a CLI subcommand might need.
type app struct {
	cfg       *config.Config
	database  *db.Database
	bus       *events.Bus
	store     *events.Store
	queries   *db.Queries
	proj      *projection.Projector
	sched     *keeper.Scheduler
	ctrl      *control.Impl
	syncer    *intent.Syncer
	server    *httpapi.Server
}

// wire builds every component, mirroring the order the teacher's main
// wires state -> indicators -> risk -> balance -> order queue -> executor:
// here it is db -> event log -> adapters -> shield/emergency -> strategy
// engines -> scheduler -> control facade -> intent syncer -> http server.
func wire(cfg *config.Config, log zerolog.Logger) (*app, func(), error) {
	database, err := db.New(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}

	bus := events.NewBus()
	q := db.NewQueries(database.DB)
	proj := projection.New(q)
	store := events.NewStore(database.DB, bus)
	seq := events.NewSequencer()
	lastBlock, lastLogIndex, hadEvents, err := store.Latest(context.Background())
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("read event log position: %w", err)
	}
	seq.Resume(lastBlock, lastLogIndex, hadEvents)
	clk := clock.Real{}

	oracleAddr, err := domain.ParseAddress(cfg.OracleAddress)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("parse ORACLE_ADDRESS: %w", err)
	}

	var exchange adapter.Exchange
	var oracle adapter.Oracle
	if cfg.ExecutionEnabled {
		// No production on-chain adapter ships in this repo (spec.md §1
		// idealizes the swap venue and oracle as interfaces the caller
		// supplies); wire the mock pair so the keeper still has something
		// to call until a real RPC-backed adapter.Exchange/Oracle lands.
		log.Warn().Msg("EXECUTION_ENABLED=true but no production adapter is wired; using simulated adapters")
	}
	mockOracle := adapter.NewMockOracle(clk, uint64(oracleAddr[0]), 0, nil)
	oracle = mockOracle
	rawExchange := adapter.NewMockExchange(oracle, 0)

	wal, err := executor.NewWAL(filepath.Join(filepath.Dir(cfg.DBPath), "wal"))
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("open executor WAL: %w", err)
	}
	if orphaned, err := wal.Recover(); err != nil {
		log.Warn().Err(err).Msg("failed to read executor WAL on startup")
	} else if len(orphaned) > 0 {
		log.Warn().Int("count", len(orphaned)).Msg("found swaps left in flight by a previous crash; they were not resubmitted automatically")
	}
	submitter := executor.NewSubmitter(rawExchange, wal)
	exchange = executor.NewExchange(submitter, rawExchange)

	balances := balance.NewCache(exchange, clk, 30)

	sh := shield.New(q, store, proj, seq, clk)
	em := emergency.New(q, store, proj, seq, clk, exchange)

	dca := strategy.NewDCAEngine(q, store, proj, seq, clk, sh, exchange)
	stopLoss := strategy.NewStopLossEngine(q, store, proj, seq, clk, sh, exchange, oracle, balances)
	rebalance := strategy.NewRebalanceEngine(q, store, proj, seq, clk, sh, exchange, oracle, balances)
	sub := strategy.NewSubscriptionEngine(q, store, proj, seq, clk, sh)

	sched := keeper.New(dca, stopLoss, rebalance, sub, clk, cfg.SubmitSpacing)
	ctrl := control.New(control.Config{
		Queries: q, Shield: sh, Emergency: em, Scheduler: sched,
		DCA: dca, StopLoss: stopLoss, Rebalance: rebalance, Subscription: sub,
		Version: "dev",
	})

	syncer := intent.NewSyncer(q, clk, dca, stopLoss, rebalance, sub)

	metrics.Init()
	metrics.SetProtocolPaused(false)

	server := httpapi.NewServer(ctrl, cfg.JWTSecret, log)
	if cfg.IndexerEndpoint != "" {
		wsfeed.New(bus, log).Register(server.Router, "/feed")
	}

	a := &app{
		cfg: cfg, database: database, bus: bus, store: store,
		queries: q, proj: proj, sched: sched, ctrl: ctrl,
		syncer: syncer, server: server,
	}
	cleanup := func() {
		wal.Close()
		database.Close()
	}
	return a, cleanup, nil
}

// syncIntents loads the declarative strategy file (if configured) and
// syncs it into the engines, logging one line per result the way the
// teacher's strategy config loader reports each strategy it registers.
func (a *app) syncIntents(ctx context.Context, log zerolog.Logger) {
	if a.cfg.IntentsPath == "" {
		return
	}
	f, err := intent.Load(a.cfg.IntentsPath)
	if err != nil {
		log.Error().Err(err).Str("path", a.cfg.IntentsPath).Msg("failed to load intents file")
		return
	}
	for _, res := range a.syncer.Sync(ctx, f) {
		if res.Err != nil {
			log.Error().Err(res.Err).Str("key", res.Key).Msg("intent sync failed")
			continue
		}
		log.Info().Str("key", res.Key).Str("strategy_id", res.StrategyID).Bool("skipped", res.Skipped).Msg("intent synced")
	}
}

func runForever(a *app, log zerolog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.syncIntents(ctx, log)

	go func() {
		addr := ":" + a.cfg.HTTPPort
		log.Info().Str("addr", addr).Msg("http server listening")
		if err := a.server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server stopped")
		}
	}()

	ticker := time.NewTicker(a.cfg.TickInterval)
	defer ticker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	log.Info().Dur("interval", a.cfg.TickInterval).Msg("keeper running")
	for {
		select {
		case <-ticker.C:
			report, err := a.sched.Tick(ctx)
			if err != nil {
				log.Error().Err(err).Msg("tick failed")
				continue
			}
			log.Info().Int("items", len(report.Items)).Bool("cancelled", report.Cancelled).Msg("tick complete")
		case <-sigChan:
			log.Info().Msg("shutdown signal received")
			return
		}
	}
}

func runOnce(a *app, log zerolog.Logger) {
	ctx := context.Background()
	a.syncIntents(ctx, log)
	report, err := a.sched.Tick(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("tick failed")
	}
	log.Info().Int("items", len(report.Items)).Msg("tick complete")
	for _, item := range report.Items {
		switch {
		case item.Err != nil:
			log.Warn().Str("family", string(item.Family)).Str("strategy_id", item.StrategyID).Err(item.Err).Msg("item errored")
		case item.Skipped:
			log.Debug().Str("family", string(item.Family)).Str("strategy_id", item.StrategyID).Str("reason", item.SkipReason).Msg("item skipped")
		case item.Executed:
			log.Info().Str("family", string(item.Family)).Str("strategy_id", item.StrategyID).Msg("item executed")
		}
	}
}

func printStatus(a *app) {
	st := a.ctrl.SystemStatus(context.Background())
	fmt.Printf("version=%s protocol_paused=%t server_time=%s\n", st.Version, st.ProtocolPaused, st.ServerTime.Format(time.RFC3339))
}

// rebuildProjection re-folds the full event log from genesis into the
// projection tables, an operator escape hatch for when the read-model
// tables are suspected to have drifted from the log (the log is the
// source of truth, the projection is a disposable cache of it).
func rebuildProjection(a *app, log zerolog.Logger) {
	ctx := context.Background()
	all, err := a.store.All(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load event log")
	}
	if err := a.proj.Rebuild(ctx, all); err != nil {
		log.Fatal().Err(err).Msg("rebuild failed")
	}
	log.Info().Int("events", len(all)).Msg("projection rebuilt")
}

// mintToken prints an operator bearer token, the out-of-band replacement
// for the login endpoint this single-caller system has no use for.
func mintToken(a *app, args []string) {
	operatorID := "operator"
	ttl := 24 * time.Hour
	if len(args) > 0 {
		operatorID = args[0]
	}
	token, err := httpapi.GenerateOperatorToken(a.cfg.JWTSecret, operatorID, ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mint token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
