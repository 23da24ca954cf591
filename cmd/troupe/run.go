package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/troupe-sh/troupe/internal/claude"
	"github.com/troupe-sh/troupe/internal/engine"
	"github.com/troupe-sh/troupe/internal/eventlog"
	"github.com/troupe-sh/troupe/internal/events"
	"github.com/troupe-sh/troupe/internal/executor"
	"github.com/troupe-sh/troupe/internal/store"
	"github.com/troupe-sh/troupe/internal/unit"
	"github.com/troupe-sh/troupe/pkg/schema"
)

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	dir := fs.String("dir", ".", "workflow directory")
	id := fs.String("id", "", "workflow id (default: generated)")
	budget := fs.Float64("budget", 0, "budget ceiling in USD, overrides the manifest")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := loadConfig()
	logger := setupLogger(cfg.LogLevel)

	absDir, err := filepath.Abs(*dir)
	if err != nil {
		return fmt.Errorf("resolve workflow directory: %w", err)
	}
	manifest, err := unit.LoadManifest(absDir)
	if err != nil {
		return err
	}
	if *budget > 0 {
		manifest.BudgetUSD = *budget
	}

	wfID := *id
	if wfID == "" {
		wfID = "wf-" + strings.Split(uuid.New().String(), "-")[0]
	}
	now := time.Now().UTC()
	wf := &store.WorkflowState{
		ID:        wfID,
		Dir:       absDir,
		BudgetUSD: manifest.BudgetUSD,
		CreatedAt: now,
		UpdatedAt: now,
		Agents: []*store.AgentState{
			{ID: "main", State: manifest.InitialState, Status: schema.AgentStatusActive},
		},
	}

	logger.Info("starting workflow", "workflow_id", wfID, "dir", absDir,
		"initial_state", manifest.InitialState)
	return runWorkflow(cfg, logger, wf, manifest)
}

func cmdResume(args []string) error {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: troupe resume <workflow-id>")
	}

	cfg := loadConfig()
	logger := setupLogger(cfg.LogLevel)

	st := store.NewFileStore(workflowsDir(cfg))
	wf, err := st.Read(context.Background(), fs.Arg(0))
	if err != nil {
		return err
	}
	manifest, err := unit.LoadManifest(wf.Dir)
	if err != nil {
		return err
	}

	// A paused workflow re-enters Running: clear the pause markers.
	for _, a := range wf.Agents {
		if a.Status == schema.AgentStatusPaused {
			a.Status = schema.AgentStatusActive
			a.PauseReason = ""
		}
	}

	logger.Info("resuming workflow", "workflow_id", wf.ID, "agents", len(wf.Agents))
	return runWorkflow(cfg, logger, wf, manifest)
}

func runWorkflow(cfg Config, logger *slog.Logger, wf *store.WorkflowState, manifest *unit.Manifest) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	st := store.NewFileStore(workflowsDir(cfg))

	bus := events.NewBus(logger)
	elog, err := eventlog.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer elog.Close()
	bus.Subscribe("eventlog", elog)
	bus.Subscribe("log", events.HandlerFunc(func(ctx context.Context, e events.Event) error {
		logger.DebugContext(ctx, "event", "type", e.Type,
			"workflow_id", e.WorkflowID, "agent_id", e.AgentID, "state", e.State)
		return nil
	}))

	resolver := unit.NewResolver(wf.Dir)
	invoker := claude.NewClient(
		claude.WithBinary(cfg.ClaudeBinary),
		claude.WithLogger(logger),
	)
	exec := executor.New(resolver, manifest, invoker, bus, logger)

	sched := engine.NewScheduler(engine.SchedulerConfig{
		Workflow: wf,
		Runner:   exec,
		Store:    st,
		Bus:      bus,
		Manifest: manifest,
		Logger:   logger,
		DataDir:  cfg.DataDir,
	})

	status, err := sched.Run(ctx)
	if err != nil {
		return err
	}
	switch status {
	case schema.WorkflowStatusCompleted:
		fmt.Printf("workflow %s completed (total cost $%.4f)\n", wf.ID, wf.TotalCost)
	case schema.WorkflowStatusPaused:
		fmt.Printf("workflow %s paused; resume with: troupe resume %s\n", wf.ID, wf.ID)
	}
	return nil
}
