// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// helpers.go - Formatting helpers shared by commands.

package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ckt1031/simple-chat/internal/util"
)

// formatDuration formats an age for display.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}

// formatDurationShort formats an elapsed time.
func formatDurationShort(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

// formatBytes formats a byte count for display.
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}

// formatAge renders t relative to now, e.g. "3h ago". Zero is "never".
func formatAge(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}
	return formatDuration(d) + " ago"
}

// =============================================================================
// TABLES
// =============================================================================

// table lays out rows in fixed-width columns. A zero width means the column
// takes the remaining terminal width. Cells are cut by display width, so
// wide runes never break alignment.
type table struct {
	headers []string
	widths  []int
	rows    [][]string
}

func newTable(headers []string, widths []int) *table {
	return &table{headers: headers, widths: widths}
}

func (t *table) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) render(w io.Writer, total int) {
	widths := make([]int, len(t.widths))
	copy(widths, t.widths)
	used := 0
	flex := -1
	for i, cw := range widths {
		if cw == 0 {
			flex = i
			continue
		}
		used += cw + 2
	}
	if flex >= 0 {
		widths[flex] = total - used
		if widths[flex] < 10 {
			widths[flex] = 10
		}
	}

	line := func(cells []string, style func(string) string) {
		var b strings.Builder
		for i, cw := range widths {
			cell := ""
			if i < len(cells) {
				cell = util.TruncateWidth(cells[i], cw)
			}
			if i < len(widths)-1 {
				cell = util.PadRight(cell, cw) + "  "
			}
			b.WriteString(cell)
		}
		fmt.Fprintln(w, style(strings.TrimRight(b.String(), " ")))
	}

	line(t.headers, func(s string) string { return HeaderStyle.Render(s) })
	for _, row := range t.rows {
		line(row, func(s string) string { return s })
	}
}
