package main

import (
	"github.com/playonchain/arena/config"
	"github.com/playonchain/arena/logger"
	"github.com/playonchain/arena/oracle"
	"github.com/playonchain/arena/persistence"
	"github.com/playonchain/arena/server"
)

func main() {
	// Initialize logger
	logger.Init()

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize store: Postgres when configured, JSON file otherwise
	var store persistence.Store
	if cfg.Database.Postgres.Host != "" {
		store, err = persistence.NewGormPostgreSQL(
			cfg.Database.Postgres.Host,
			cfg.Database.Postgres.Port,
			cfg.Database.Postgres.User,
			cfg.Database.Postgres.Password,
			cfg.Database.Postgres.DBName,
		)
		if err != nil {
			logger.Log.Fatalf("Failed to connect to database: %v", err)
		}
		logger.Log.Info("Database connection successful.")
	} else {
		store, err = persistence.NewJSONFileStore(cfg.Database.File.Path)
		if err != nil {
			logger.Log.Fatalf("Failed to open game record file: %v", err)
		}
		logger.Log.Infof("Using JSON file store at %s", cfg.Database.File.Path)
	}
	defer store.Close()

	// Initialize chain oracle
	var chain oracle.Oracle
	switch cfg.Oracle.Kind {
	case "ethereum":
		chain, err = oracle.NewEthereumOracle(
			cfg.Oracle.RPCURL,
			cfg.Oracle.ContractAddress,
			cfg.Oracle.RequestTimeout,
		)
		if err != nil {
			logger.Log.Fatalf("Failed to connect to chain: %v", err)
		}
	default:
		chain = oracle.NewMockOracle()
	}

	// Initialize Arena Server
	arenaServer := server.NewGameServer(cfg, store, chain)

	// Start Server
	logger.Log.Infof("Starting arena server on %s", cfg.Server.HTTPAddress)
	if err := arenaServer.Start(); err != nil {
		logger.Log.Fatalf("Failed to start server: %v", err)
	}
}
