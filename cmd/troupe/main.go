package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/troupe-sh/troupe/internal/logging"
)

const usage = `troupe - multi-agent workflow orchestration

Usage:
  troupe run [-dir DIR] [-id ID] [-budget USD]   start a workflow
  troupe resume <workflow-id>                    resume a paused workflow
  troupe list                                    list stored workflows
  troupe events <workflow-id> [-limit N]         print a workflow's event log
  troupe mcp                                     serve the MCP control surface on stdio
  troupe version                                 print the version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(os.Args[2:])
	case "resume":
		err = cmdResume(os.Args[2:])
	case "list":
		err = cmdList(os.Args[2:])
	case "events":
		err = cmdEvents(os.Args[2:])
	case "mcp":
		err = cmdMCP(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setupLogger builds the process logger: text on stderr, correlation ids
// injected from context.
func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	logger := slog.New(logging.NewCorrelationHandler(inner))
	slog.SetDefault(logger)
	return logger
}
