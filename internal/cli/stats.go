// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// stats.go - Local usage statistics.

package cli

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
)

func statsCmd(s *session) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show generation counts for recent days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 {
				return &UsageError{Reason: "--days must be at least 1"}
			}
			a, err := s.open(cmd.Context())
			if err != nil {
				return err
			}
			trends, err := a.Usage.Trends(days)
			if err != nil {
				return err
			}

			return s.emit("stats", trends, func() {
				fmt.Fprintln(s.out, TitleStyle.Render(fmt.Sprintf("Last %d day(s)", trends.Days)))
				fmt.Fprintln(s.out, RenderField("Generations", strconv.Itoa(trends.Generations)))
				fmt.Fprintln(s.out, RenderField("Failed", strconv.Itoa(trends.Failed)))
				fmt.Fprintln(s.out, RenderField("Streaming time", formatDuration(trends.TotalDuration)))

				providers := make([]string, 0, len(trends.ByProvider))
				for p := range trends.ByProvider {
					providers = append(providers, p)
				}
				sort.Strings(providers)
				for _, p := range providers {
					fmt.Fprintln(s.out, RenderField("  "+p, strconv.Itoa(trends.ByProvider[p])))
				}

				if len(trends.Daily) == 0 {
					return
				}
				fmt.Fprintln(s.out)
				t := newTable([]string{"DATE", "TOTAL", "DONE", "STOPPED", "FAILED"}, []int{12, 7, 7, 8, 0})
				for _, d := range trends.Daily {
					t.add(d.Date, strconv.Itoa(d.Generations), strconv.Itoa(d.Completed),
						strconv.Itoa(d.Aborted), strconv.Itoa(d.Failed))
				}
				t.render(s.out, GetTerminalWidth())
			})
		},
	}
	cmd.Flags().IntVarP(&days, "days", "d", 7, "number of days")
	cmd.AddCommand(statsPruneCmd(s))
	return cmd
}

func statsPruneCmd(s *session) *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete usage files older than --keep days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if keep < 1 {
				return &UsageError{Reason: "--keep must be at least 1"}
			}
			a, err := s.open(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Usage.Prune(keep); err != nil {
				return err
			}
			return s.emit("stats prune", map[string]int{"kept_days": keep}, func() {
				fmt.Fprintf(s.out, "%s Kept the last %d day(s)\n", SuccessStyle.Render("✓"), keep)
			})
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 90, "days to keep")
	return cmd
}
