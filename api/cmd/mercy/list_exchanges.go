package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	listAddr  string
	listToken string
)

func newListExchangesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list-exchanges",
		Aliases: []string{"ls"},
		Short:   "List every Mercenary Exchange found by a running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(listAddr, listToken)

			records, err := client.exchanges()
			if err != nil {
				return fmt.Errorf("list exchanges: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No exchanges found")
				return nil
			}

			table := newSimpleTable(out, []string{"KINGDOM", "X", "Y", "CONFIRMED", "SCAN SECS", "FOUND AT", "AGE"})
			for _, r := range records {
				row := []any{
					strconv.FormatUint(uint64(r.Kingdom), 10),
					strconv.Itoa(r.X),
					strconv.Itoa(r.Y),
					formatConfirmed(r.Confirmed),
					fmt.Sprintf("%.1f", r.ScanDurationSecs),
					r.FoundAt.Format("2006-01-02 15:04:05"),
					humanize.Time(r.FoundAt),
				}
				_ = table.Append(row...)
			}
			return table.Render()
		},
	}

	cmd.Flags().StringVar(&listAddr, "addr", "http://localhost:8080", "Address of a running mercy serve instance")
	cmd.Flags().StringVar(&listToken, "token", "", "Auth token for the running instance (env AUTH_TOKEN)")
	return cmd
}

func formatConfirmed(confirmed bool) string {
	if confirmed {
		return "yes"
	}
	return "estimate"
}
