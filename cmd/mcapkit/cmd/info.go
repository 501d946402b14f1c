/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ssargent/mcapkit/pkg/catalog"
	"github.com/ssargent/mcapkit/pkg/compress"
	"github.com/ssargent/mcapkit/pkg/reader"
)

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info <file>",
	Short: "Summarize a log file",
	Long: `Print the header, statistics, channels, chunks and attachments of a log
file. Files without a readable summary are scanned instead.

Examples:
  mcapkit info drive.mcap
  mcapkit info drive.mcap --format json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := reader.OpenFile(args[0], cfg.ReaderOptions(logger))
		if err != nil {
			return err
		}
		defer r.Close()

		info, err := r.Info()
		if err != nil {
			return err
		}
		entry := catalog.Describe(info)
		entry.Path = args[0]
		entry.Warnings = len(r.Warnings())

		if isFormatJSON(cmd) {
			return printJSON(cmd, entry)
		}
		renderInfo(cmd, entry, info)
		printWarnings(cmd, r.Warnings())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
	addFormatFlag(infoCmd)
}

func renderInfo(cmd *cobra.Command, entry *catalog.Entry, info *reader.Info) {
	summary := "yes"
	if !entry.Indexed {
		summary = "no (scanned)"
	}
	compression := strings.Join(entry.Compression, ", ")
	if compression == "" {
		compression = "-"
	}

	t := newTable(cmd, table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"path", entry.Path},
		{"size", formatBytes(uint64(entry.Size))},
		{"profile", entry.Profile},
		{"library", entry.Library},
		{"summary", summary},
		{"messages", entry.MessageCount},
		{"start", formatTime(entry.MessageStartTime)},
		{"end", formatTime(entry.MessageEndTime)},
		{"chunks", entry.ChunkCount},
		{"compression", compression},
		{"attachments", entry.AttachmentCount},
		{"metadata", entry.MetadataCount},
	})
	t.Render()

	s := info.Summary
	if len(s.Channels) > 0 {
		var counts map[uint16]uint64
		if s.Statistics != nil {
			counts = s.Statistics.ChannelMessageCounts
		}
		ids := make([]int, 0, len(s.Channels))
		for id := range s.Channels {
			ids = append(ids, int(id))
		}
		sort.Ints(ids)

		t = newTable(cmd, table.Row{"ID", "Topic", "Encoding", "Schema", "Messages"})
		for _, id := range ids {
			ch := s.Channels[uint16(id)]
			schema := "-"
			if sc, ok := s.Schemas[ch.SchemaID]; ok {
				schema = sc.Name + " (" + sc.Encoding + ")"
			}
			t.AppendRow(table.Row{id, ch.Topic, ch.MessageEncoding, schema, counts[uint16(id)]})
		}
		t.Render()
	}

	if len(s.ChunkIndexes) > 0 {
		t = newTable(cmd, table.Row{"Offset", "Start", "End", "Compression", "Compressed", "Uncompressed"})
		for _, ci := range s.ChunkIndexes {
			name := ci.Compression
			if name == "" {
				name = compress.None
			}
			t.AppendRow(table.Row{
				ci.ChunkStartOffset, ci.MessageStartTime, ci.MessageEndTime, name,
				formatBytes(ci.CompressedSize), formatBytes(ci.UncompressedSize),
			})
		}
		t.Render()
	}

	if len(s.AttachmentIndexes) > 0 {
		t = newTable(cmd, table.Row{"Attachment", "Media Type", "Size", "Log Time"})
		for _, a := range s.AttachmentIndexes {
			t.AppendRow(table.Row{a.Name, a.MediaType, formatBytes(a.DataSize), formatTime(a.LogTime)})
		}
		t.Render()
	}
}
