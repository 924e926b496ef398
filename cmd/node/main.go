package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/uhyunpark/hyperlever/params"
	"github.com/uhyunpark/hyperlever/pkg/api"
	"github.com/uhyunpark/hyperlever/pkg/app"
	"github.com/uhyunpark/hyperlever/pkg/metrics"
	"github.com/uhyunpark/hyperlever/pkg/state"
	"github.com/uhyunpark/hyperlever/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("") // "" means load from .env in current directory
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.Verbose)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "verbose", cfg.Node.Verbose)

	// ---- Ledger ----
	if err := os.MkdirAll(cfg.Node.DataDir, 0o755); err != nil {
		sugar.Fatalw("data_dir_failed", "dir", cfg.Node.DataDir, "err", err)
	}
	db, err := state.Open(cfg.Node.DataDir, logger.Named("state"))
	if err != nil {
		sugar.Fatalw("ledger_open_failed", "dir", cfg.Node.DataDir, "err", err)
	}
	defer db.Close()

	// ---- Contracts ----
	a, err := app.New(db, app.Options{
		Deployer: cfg.Node.Deployer,
		ChainID:  cfg.Node.ChainID,
		Market:   cfg.Market,
		Clock:    util.RealClock{},
		Logger:   logger,
		Metrics:  metrics.Leverage(),
	})
	if err != nil {
		sugar.Fatalw("app_init_failed", "err", err)
	}
	if err := a.Bootstrap(); err != nil {
		sugar.Fatalw("bootstrap_failed", "err", err)
	}

	sugar.Infow("node_starting",
		"chain_id", cfg.Node.ChainID,
		"market", cfg.Market.Index,
		"deployer", cfg.Node.Deployer.Hex(),
		"engine", a.Engine.Address.Hex(),
		"leverager", a.Leverager.Address.Hex(),
		"deleverager", a.Deleverager.Address.Hex(),
		"faucet", cfg.Node.Faucet)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	apiServer := api.NewServer(a, api.Options{Faucet: cfg.Node.Faucet}, logger.Named("api"))
	if err := apiServer.Start(ctx, cfg.Node.APIAddr); err != nil {
		sugar.Errorw("api_server_failed", "err", err)
		return
	}
	sugar.Info("node_stopped")
}
