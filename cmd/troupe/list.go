package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/troupe-sh/troupe/internal/store"
	"github.com/troupe-sh/troupe/pkg/schema"
)

func cmdList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := loadConfig()
	st := store.NewFileStore(workflowsDir(cfg))
	ids, err := st.List(context.Background())
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("no workflows")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAGENTS\tPAUSED\tCOST\tUPDATED")
	for _, id := range ids {
		wf, err := st.Read(context.Background(), id)
		if err != nil {
			fmt.Fprintf(w, "%s\t-\t-\t-\t(unreadable: %v)\n", id, err)
			continue
		}
		paused := 0
		for _, a := range wf.Agents {
			if a.Status == schema.AgentStatusPaused {
				paused++
			}
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t$%.4f\t%s\n",
			wf.ID, len(wf.Agents), paused, wf.TotalCost,
			wf.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
