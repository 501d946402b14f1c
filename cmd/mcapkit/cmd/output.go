/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

func addFormatFlag(cmd *cobra.Command) {
	cmd.Flags().String("format", formatTable, "Output format (table, json)")
}

func isFormatJSON(cmd *cobra.Command) bool {
	format, _ := cmd.Flags().GetString("format")
	return strings.EqualFold(format, formatJSON)
}

func newTable(cmd *cobra.Command, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(header)
	configs := make([]table.ColumnConfig, len(header))
	for i := range header {
		configs[i] = table.ColumnConfig{Number: i + 1, AlignHeader: text.AlignCenter}
	}
	t.SetColumnConfigs(configs)
	return t
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printWarnings(cmd *cobra.Command, warnings []error) {
	if len(warnings) == 0 {
		return
	}
	yellow := color.New(color.FgYellow)
	yellow.Fprintf(cmd.ErrOrStderr(), "%d warning(s) while reading:\n", len(warnings))
	for _, w := range warnings {
		yellow.Fprintf(cmd.ErrOrStderr(), "  %v\n", w)
	}
}

// formatTime renders a nanosecond timestamp, leaving zero as "-"
func formatTime(ns uint64) string {
	if ns == 0 {
		return "-"
	}
	return time.Unix(0, int64(ns)).UTC().Format(time.RFC3339Nano)
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
