package triage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// WriteJSON persists the triage result as an indented JSON document.
func WriteJSON(path string, res Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal triage result: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write triage result: %w", err)
	}
	return nil
}

// WriteCSV exports one row per flag: file, flag kind, confidence, reason,
// metric. Unflagged files are omitted; the JSON export carries the full list.
func WriteCSV(path string, res Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create triage export: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"file", "flag", "confidence", "reason", "metric"}); err != nil {
		return fmt.Errorf("failed to write triage export: %w", err)
	}

	for _, item := range res.Items {
		for _, flag := range item.Flags {
			metric := ""
			if flag.Metric != nil {
				metric = strconv.FormatFloat(*flag.Metric, 'f', 2, 64)
			}
			row := []string{
				item.RelPath,
				flag.Kind,
				strconv.FormatFloat(flag.Confidence, 'f', 2, 64),
				flag.Reason,
				metric,
			}
			if err := w.Write(row); err != nil {
				return fmt.Errorf("failed to write triage export: %w", err)
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush triage export: %w", err)
	}
	return nil
}
