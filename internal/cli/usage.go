// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-desk/internal/telemetry"
)

func newUsageCommand(global *globalOptions) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show local usage per model",
		Long: `Show requests and estimated tokens per model, recorded locally. Token counts
are estimates (about four characters per token).`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days <= 0 || days > telemetry.RetentionDays {
				return usageErrorf("--days must be between 1 and %d", telemetry.RetentionDays)
			}
			app, err := openApp(cmd.Context(), global, needs{noSelect: true})
			if err != nil {
				return err
			}
			defer app.Close()

			s := app.Usage.Summary(days)
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, TitleStyle.Render(fmt.Sprintf("Usage, last %d day(s)", days)))
			if s.Total.Requests == 0 {
				fmt.Fprintln(w, DimStyle.Render("No requests recorded."))
				return nil
			}
			fmt.Fprintf(w, "%s %s %s %s %s\n",
				column("MODEL", 32), column("REQUESTS", 9), column("FAILED", 7), column("TOKENS", 10), "AVG LATENCY")
			for _, name := range s.Models() {
				printUsageRow(w, name, s.ByModel[name])
			}
			fmt.Fprintln(w, Separator(72))
			printUsageRow(w, "total", s.Total)
			return nil
		},
	}
	cmd.Flags().IntVarP(&days, "days", "d", 7, "number of days to include")
	return cmd
}

func printUsageRow(w io.Writer, name string, u telemetry.ModelUsage) {
	fmt.Fprintf(w, "%s %s %s %s %s\n",
		column(name, 32),
		column(humanize.Comma(int64(u.Requests)), 9),
		column(humanize.Comma(int64(u.Failures)), 7),
		column("~"+humanize.Comma(int64(u.TotalTokens())), 10),
		u.AverageLatency().Round(time.Millisecond))
}
