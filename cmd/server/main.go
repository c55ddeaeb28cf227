package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/fenggwsx/BridgeRelay/internal/auth"
	"github.com/fenggwsx/BridgeRelay/internal/config"
	"github.com/fenggwsx/BridgeRelay/internal/logging"
	"github.com/fenggwsx/BridgeRelay/internal/server"
	"github.com/fenggwsx/BridgeRelay/internal/storage"
	"github.com/fenggwsx/BridgeRelay/internal/storage/sqlite"
)

var issueFor = flag.String("issue-token", "", "print a control-plane token for `subject` and exit")

func main() {
	flag.Parse()
	envErr := godotenv.Load()

	cfg := config.LoadServerConfig()
	if *issueFor != "" {
		if err := issueToken(os.Stdout, cfg.Admin, *issueFor); err != nil {
			fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger := logging.New(cfg.Env, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	if envErr != nil && !os.IsNotExist(envErr) {
		logger.Warn("load .env", zap.Error(envErr))
	}

	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	var store storage.Store
	if cfg.Journal.Path != "" {
		journal, err := sqlite.NewStore(cfg.Journal)
		if err != nil {
			logger.Fatal("init journal", zap.Error(err))
		}
		defer journal.Close()
		store = journal
	}

	app := server.NewApp(cfg, logger, store)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		logger.Fatal("server shutdown", zap.Error(err))
	}
}

// issueToken writes a signed operator token for subject to w.
func issueToken(w io.Writer, cfg config.AdminConfig, subject string) error {
	token, err := auth.NewToken(cfg, subject)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}
