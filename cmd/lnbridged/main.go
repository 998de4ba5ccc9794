// Package main provides the lnbridged daemon - the swap coordinator bot.
package main

import (
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"

	"github.com/lnbridge-exchange/lnbridge/internal/bot"
	"github.com/lnbridge-exchange/lnbridge/internal/chainverify"
	"github.com/lnbridge-exchange/lnbridge/internal/config"
	"github.com/lnbridge-exchange/lnbridge/internal/contracts/htlc"
	"github.com/lnbridge-exchange/lnbridge/internal/invoice"
	"github.com/lnbridge-exchange/lnbridge/internal/notify"
	"github.com/lnbridge-exchange/lnbridge/internal/storage"
	"github.com/lnbridge-exchange/lnbridge/internal/swap"
	"github.com/lnbridge-exchange/lnbridge/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	// Parse flags
	var (
		dataDir     = flag.String("data-dir", "~/.lnbridge", "Data directory")
		configFile  = flag.String("config", "", "Config file path (default: <data-dir>/config.yaml)")
		rpcEndpoint = flag.String("rpc", "", "EVM JSON-RPC endpoint, overrides config")
		testnet     = flag.Bool("testnet", false, "Run on testnet (separate network and data)")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	// Set up logging (initial, may be overridden by config)
	log := logging.New(&logging.Config{
		Level:      *logLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("lnbridged %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	// Determine data directory (testnet uses subdirectory)
	effectiveDataDir := *dataDir
	if *testnet {
		effectiveDataDir = filepath.Join(*dataDir, "testnet")
	}

	// Load or create config file
	var cfg *config.Config
	var err error

	if *configFile != "" {
		cfg, err = config.LoadConfig(filepath.Dir(*configFile))
	} else {
		cfg, err = config.LoadConfig(effectiveDataDir)
	}
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// Apply CLI overrides (CLI flags take precedence over config file)
	if *rpcEndpoint != "" {
		cfg.Chain.RPCEndpoint = *rpcEndpoint
	}
	cfg.Logging.Level = *logLevel
	cfg.Storage.DataDir = effectiveDataDir
	if *testnet {
		cfg.NetworkType = config.Testnet
	} else {
		cfg.NetworkType = config.Mainnet
	}

	// Update logging with config level
	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if cfg.BotToken() == "" {
		log.Fatal("No bot token configured; set bot.token in config.yaml or LNBRIDGE_BOT_TOKEN")
	}

	// Initialize storage
	dataPath := config.ExpandPath(cfg.Storage.DataDir)
	store, err := storage.New(&storage.Config{DataDir: dataPath})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("Storage initialized", "path", dataPath)

	// Initialize HTLC contract client
	contractAddr := common.HexToAddress(cfg.Chain.ContractAddress)
	chainClient, err := htlc.NewClient(cfg.Chain.RPCEndpoint, contractAddr)
	if err != nil {
		log.Fatal("Failed to connect to chain RPC", "endpoint", cfg.Chain.RPCEndpoint, "error", err)
	}
	defer chainClient.Close()
	log.Info("Chain client initialized", "endpoint", cfg.Chain.RPCEndpoint, "contract", contractAddr.Hex())

	// Initialize chain verifier
	verifier := chainverify.New(chainClient, chainverify.Config{
		PollInterval: cfg.Chain.PollInterval,
		PollAttempts: cfg.Chain.PollAttempts,
	})

	// Initialize invoice validator for the configured network
	invoiceNet := &chaincfg.MainNetParams
	if cfg.IsTestnet() {
		invoiceNet = &chaincfg.TestNet3Params
	}
	validator := invoice.NewValidator(invoiceNet)
	log.Info("Invoice validator initialized", "network", cfg.NetworkType)

	// Initialize Telegram client and notifier
	tgClient := notify.NewClient(&notify.Config{
		Token:      cfg.BotToken(),
		MiniAppURL: cfg.Bot.MiniAppURL,
	})
	notifier := notify.NewNotifier(tgClient, cfg.Bot.MiniAppURL)

	// Initialize the swap state machine
	machine := swap.NewMachine(&swap.MachineConfig{
		Store:    store,
		Verifier: verifier,
		Invoices: validator,
		Notifier: notifier,
	})
	log.Info("Swap state machine initialized")

	// Start the bot update loop
	b := bot.New(tgClient, machine, bot.Config{
		MiniAppURL:  cfg.Bot.MiniAppURL,
		PollTimeout: cfg.Bot.PollTimeout,
	})
	b.Start()

	printBanner(log, cfg)

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("Shutting down...")

	b.Stop()
	log.Info("Goodbye!")
}

func printBanner(log *logging.Logger, cfg *config.Config) {
	networkLabel := "mainnet"
	if cfg.IsTestnet() {
		networkLabel = "TESTNET"
	}

	log.Info("")
	log.Info("=================================================")
	log.Infof("  lnbridge swap coordinator (%s)", networkLabel)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  Chain RPC: %s", cfg.Chain.RPCEndpoint)
	log.Infof("  Contract:  %s", cfg.Chain.ContractAddress)
	log.Infof("  Miniapp:   %s", cfg.Bot.MiniAppURL)
	log.Infof("  Data dir:  %s", config.ExpandPath(cfg.Storage.DataDir))
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
