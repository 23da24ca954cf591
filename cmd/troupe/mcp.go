package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/troupe-sh/troupe/internal/eventlog"
	"github.com/troupe-sh/troupe/internal/store"
	"github.com/troupe-sh/troupe/pkg/mcp"
)

func cmdMCP(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := loadConfig()
	logger := setupLogger(cfg.LogLevel)

	elog, err := eventlog.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer elog.Close()

	srv := mcp.NewTroupeServer(mcp.TroupeServerDeps{
		Store:    store.NewFileStore(workflowsDir(cfg)),
		EventLog: elog,
		Logger:   logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Serve(ctx)
}
