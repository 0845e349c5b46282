package main

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/fpang/media-ingest/internal/ingest"
)

// printSummary renders the manifest totals as a console table.
func printSummary(m *ingest.Manifest) {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"", "Count"})
	tw.AppendRows([]table.Row{
		{"Files", m.Totals.Files},
		{"Copied", m.Totals.Copied},
		{"Already present", m.Totals.SkippedExists},
		{"Duplicates skipped", m.Totals.SkippedDuplicates},
		{"Errors", m.Totals.Errors},
		{"Verified", m.Totals.Verified},
		{"Mismatches", m.Totals.VerifiedMismatch},
		{"Unreadable", m.Totals.TriageUnreadable},
		{"Black frames", m.Totals.TriageBlackFrames},
	})
	tw.AppendFooter(table.Row{"Bytes saved by dedup", humanBytes(m.Totals.BytesSaved)})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft},
		{Number: 2, Align: text.AlignRight},
	})
	fmt.Println(tw.Render())
	fmt.Printf("Project root: %s\n", m.ProjectRoot)
}

func humanBytes(n int64) string {
	const mb = 1024 * 1024
	if n < mb {
		return strconv.FormatInt(n, 10) + " B"
	}
	return fmt.Sprintf("%.1f MB", float64(n)/mb)
}
