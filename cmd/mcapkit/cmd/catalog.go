/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ssargent/mcapkit/pkg/catalog"
)

// catalogCmd represents the catalog command
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the catalog of known log files",
	Long: `The catalog keeps a summary of every added file in the configured data
directory: its statistics, topics and compression. The REST API serves the
same catalog.`,
}

var catalogAddCmd = &cobra.Command{
	Use:   "add <file>...",
	Short: "Add files to the catalog, refreshing entries already present",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCatalog(func(cat *catalog.Catalog) error {
			for _, path := range args {
				entry, err := cat.Add(path, cfg.ReaderOptions(logger))
				if err != nil {
					return err
				}
				cmd.Printf("%s %s (%d messages, %d topics)\n", entry.ID, entry.Path, entry.MessageCount, len(entry.Topics))
			}
			return nil
		})
	},
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cataloged files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCatalog(func(cat *catalog.Catalog) error {
			entries, err := cat.List()
			if err != nil {
				return err
			}
			return printEntries(cmd, entries)
		})
	},
}

var catalogFindCmd = &cobra.Command{
	Use:   "find <topic>",
	Short: "List cataloged files that carry a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCatalog(func(cat *catalog.Catalog) error {
			entries, err := cat.FindByTopic(args[0])
			if err != nil {
				return err
			}
			return printEntries(cmd, entries)
		})
	},
}

var catalogShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one cataloged file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCatalog(func(cat *catalog.Catalog) error {
			entry, err := cat.Get(args[0])
			if err != nil {
				return err
			}
			if isFormatJSON(cmd) {
				return printJSON(cmd, entry)
			}

			t := newTable(cmd, table.Row{"Topic", "Encoding", "Schema", "Messages"})
			for _, ts := range entry.Topics {
				schema := "-"
				if ts.SchemaName != "" {
					schema = ts.SchemaName + " (" + ts.SchemaEncoding + ")"
				}
				t.AppendRow(table.Row{ts.Topic, ts.MessageEncoding, schema, ts.MessageCount})
			}
			cmd.Printf("%s %s\n", entry.ID, entry.Path)
			cmd.Printf("added %s, %s, %d messages from %s to %s\n",
				entry.AddedAt.Format(time.RFC3339), formatBytes(uint64(entry.Size)), entry.MessageCount,
				formatTime(entry.MessageStartTime), formatTime(entry.MessageEndTime))
			t.Render()
			return nil
		})
	},
}

var catalogRemoveCmd = &cobra.Command{
	Use:   "remove <id>...",
	Short: "Remove files from the catalog; the files themselves are kept",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCatalog(func(cat *catalog.Catalog) error {
			for _, id := range args {
				if err := cat.Remove(id); err != nil {
					return err
				}
				cmd.Printf("Removed %s\n", id)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogAddCmd, catalogListCmd, catalogFindCmd, catalogShowCmd, catalogRemoveCmd)

	addFormatFlag(catalogListCmd)
	addFormatFlag(catalogFindCmd)
	addFormatFlag(catalogShowCmd)
}

func catalogDir() string {
	return filepath.Join(cfg.Catalog.DataDir, "catalog")
}

// withCatalog opens the catalog for the duration of fn
func withCatalog(fn func(*catalog.Catalog) error) error {
	cat, err := container.OpenCatalog(catalogDir(), logger)
	if err != nil {
		return err
	}
	defer cat.Close()
	return fn(cat)
}

func printEntries(cmd *cobra.Command, entries []*catalog.Entry) error {
	if isFormatJSON(cmd) {
		if entries == nil {
			entries = []*catalog.Entry{}
		}
		return printJSON(cmd, entries)
	}

	t := newTable(cmd, table.Row{"ID", "Path", "Size", "Messages", "Topics", "Compression", "Indexed"})
	for _, e := range entries {
		topics := make([]string, len(e.Topics))
		for i, ts := range e.Topics {
			topics[i] = ts.Topic
		}
		t.AppendRow(table.Row{
			e.ID, e.Path, formatBytes(uint64(e.Size)), e.MessageCount,
			strings.Join(topics, ", "), strings.Join(e.Compression, ", "), e.Indexed,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "total", len(entries)})
	t.Render()
	return nil
}
