package main

import (
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/D1992S/bieznia-sub002/internal/api"
	"github.com/D1992S/bieznia-sub002/internal/assistant"
	"github.com/D1992S/bieznia-sub002/internal/config"
	"github.com/D1992S/bieznia-sub002/internal/db"
	"github.com/D1992S/bieznia-sub002/internal/metrics"
)

func main() {
	configPath := os.Getenv("ASSISTANT_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg.Log.Level)
	defer logger.Sync()

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		logger.Fatal("failed to initialize database",
			zap.Error(err),
			zap.String("dbPath", cfg.Database.Path))
	}
	defer database.Close()

	engine, err := assistant.NewEngine(database, metrics.New(database), cfg.Assistant, assistant.SystemClock(), logger)
	if err != nil {
		logger.Fatal("failed to initialize assistant engine", zap.Error(err))
	}

	handler := api.NewHandler(engine, logger)

	http.HandleFunc("/api/ask", handler.HandleAsk)
	http.HandleFunc("/api/threads", handler.HandleThreads)
	http.HandleFunc("/api/threads/messages", handler.HandleThreadMessages)

	logger.Info("Starting server", zap.String("addr", cfg.Server.Addr))
	if err := http.ListenAndServe(cfg.Server.Addr, nil); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
}

func newLogger(level string) *zap.Logger {
	var logger *zap.Logger
	var err error
	if level == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}
