package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"transcoder/internal/ipc"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show scheduler statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				callCtx, cancel := callContext(cmd)
				defer cancel()
				stats, err := client.Stats(callCtx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				// Non-terminal output is JSON.
				if asJSON || !isTerminal(out) {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(stats)
				}
				fmt.Fprintln(out, renderStats(stats))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func renderStats(stats *ipc.StatsResponse) string {
	ongoing := make([]string, 0, len(stats.Ongoing))
	for _, hash := range stats.Ongoing {
		ongoing = append(ongoing, shortHash(hash))
	}
	rows := [][]string{
		{"Running", yesNo(stats.Running)},
		{"Queued", strconv.Itoa(stats.Queued)},
		{"In Progress", strconv.Itoa(stats.InProgress)},
		{"Concurrency", strconv.Itoa(stats.Concurrency)},
		{"Ongoing", strings.Join(ongoing, ", ")},
		{"Status Backend", stats.StatusBackend},
		{"PID", strconv.Itoa(stats.PID)},
	}
	return renderTable([]string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignLeft})
}
