/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ssargent/mcapkit/pkg/compress"
	"github.com/ssargent/mcapkit/pkg/reader"
	"github.com/ssargent/mcapkit/pkg/transcode"
	"github.com/ssargent/mcapkit/pkg/writer"
)

// convertCmd represents the convert command
var convertCmd = &cobra.Command{
	Use:   "convert <input> <output>",
	Short: "Rewrite a log file with different chunking or compression",
	Long: `Copy every data record of a log file into a new file, rebuilding its
indexes and summary. Damaged input is read in best-effort mode unless the
configuration says otherwise, so convert also repairs truncated files.

Examples:
  mcapkit convert drive.mcap drive-lz4.mcap --compression lz4
  mcapkit convert drive.mcap flat.mcap --unchunked
  mcapkit convert crashed.mcap repaired.mcap`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, out := args[0], args[1]
		if same, err := samePath(in, out); err != nil {
			return err
		} else if same {
			return errors.New("input and output must be different files")
		}

		opts := cfg.WriterOptions()
		if cmd.Flags().Changed("compression") {
			opts.Compression, _ = cmd.Flags().GetString("compression")
		}
		if cmd.Flags().Changed("chunk-size") {
			opts.ChunkSize, _ = cmd.Flags().GetInt64("chunk-size")
		}
		if unchunked, _ := cmd.Flags().GetBool("unchunked"); unchunked {
			opts.Chunked = false
		}
		if noCRC, _ := cmd.Flags().GetBool("no-crc"); noCRC {
			opts.IncludeCRC = false
		}
		if _, err := compress.Default().Lookup(opts.Compression); err != nil {
			return err
		}

		r, err := reader.OpenFile(in, cfg.ReaderOptions(logger))
		if err != nil {
			return err
		}
		defer r.Close()

		w, err := writer.Create(out, opts)
		if err != nil {
			return err
		}
		stats, err := transcode.Copy(w, r)
		if err != nil {
			w.Close()
			return fmt.Errorf("convert %s: %w", in, err)
		}
		if err := w.Close(); err != nil {
			return err
		}

		logger.WithFields(logrus.Fields{
			"input":    in,
			"output":   out,
			"messages": stats.Messages,
			"skipped":  stats.Skipped,
		}).Debug("converted file")
		cmd.Printf("Wrote %s: %d messages, %d channels, %d schemas, %d attachments, %d metadata\n",
			out, stats.Messages, stats.Channels, stats.Schemas, stats.Attachments, stats.Metadata)
		if stats.Skipped > 0 {
			cmd.Printf("Skipped %d records of unknown kind\n", stats.Skipped)
		}
		printWarnings(cmd, r.Warnings())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(convertCmd)

	convertCmd.Flags().String("compression", "", "Chunk compression (none, zstd, lz4); defaults to the configured writer compression")
	convertCmd.Flags().Int64("chunk-size", 0, "Uncompressed bytes per chunk; defaults to the configured chunk size")
	convertCmd.Flags().Bool("unchunked", false, "Write records directly into the data section")
	convertCmd.Flags().Bool("no-crc", false, "Do not compute CRCs")
}

func samePath(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	if absA == absB {
		return true, nil
	}
	infoA, errA := os.Stat(absA)
	infoB, errB := os.Stat(absB)
	if errA != nil || errB != nil {
		return false, nil
	}
	return os.SameFile(infoA, infoB), nil
}
