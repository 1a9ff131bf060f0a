package main

import (
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/stellarlinkco/batchinfer/internal/store"
)

func newHistoryCmd(st *cliState) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent batch runs",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return st.loadConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return showHistory(cmd, st, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return cmd
}

func showHistory(cmd *cobra.Command, st *cliState, limit int) error {
	sto, err := store.Open(st.cfg)
	if err != nil {
		return err
	}
	defer sto.Close()

	runs, err := sto.ListRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Run ID", "Provider", "Model", "Total", "Success", "Fail", "Retries", "Avg Latency", "Wall", "Created")

	for _, r := range runs {
		avg := "-"
		if r.Success > 0 {
			avg = (time.Duration(r.TotalLatencyMs/int64(r.Success)) * time.Millisecond).String()
		}
		_ = table.Append(
			r.ID,
			r.Provider,
			r.Model,
			fmt.Sprintf("%d", r.Total),
			fmt.Sprintf("%d", r.Success),
			fmt.Sprintf("%d", r.Fail),
			fmt.Sprintf("%d", r.Retries),
			avg,
			(time.Duration(r.WallMs) * time.Millisecond).String(),
			r.CreatedAt.Format(time.RFC3339),
		)
	}
	return table.Render()
}
