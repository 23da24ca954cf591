package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/troupe-sh/troupe/internal/eventlog"
)

func cmdEvents(args []string) error {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	limit := fs.Int("limit", 0, "print only the last N events")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: troupe events <workflow-id> [-limit N]")
	}

	cfg := loadConfig()
	elog, err := eventlog.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer elog.Close()

	recs, err := elog.Events(context.Background(), fs.Arg(0))
	if err != nil {
		return err
	}
	if *limit > 0 && len(recs) > *limit {
		recs = recs[len(recs)-*limit:]
	}
	for _, r := range recs {
		line := fmt.Sprintf("%4d  %s  %-20s", r.Sequence,
			r.Timestamp.Format("15:04:05"), r.Type)
		if r.AgentID != "" {
			line += "  " + r.AgentID
		}
		if r.State != "" {
			line += "  " + r.State
		}
		if len(r.Payload) > 0 {
			line += "  " + string(r.Payload)
		}
		fmt.Println(line)
	}
	return nil
}
