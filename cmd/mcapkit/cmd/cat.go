/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/ssargent/mcapkit/pkg/codec"
	"github.com/ssargent/mcapkit/pkg/reader"
)

const maxPayloadPreview = 32

// catCmd represents the cat command
var catCmd = &cobra.Command{
	Use:   "cat <file>",
	Short: "Print the messages of a log file",
	Long: `Print one line per message: log time, topic, sequence and payload.
Payloads that are not printable text are shown as hex.

Examples:
  mcapkit cat drive.mcap
  mcapkit cat drive.mcap --topic /pose --topic /imu
  mcapkit cat drive.mcap --start 1700000000000000000 --limit 10
  mcapkit cat damaged.mcap --no-index`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topics, _ := cmd.Flags().GetStringSlice("topic")
		start, _ := cmd.Flags().GetUint64("start")
		end, _ := cmd.Flags().GetUint64("end")
		limit, _ := cmd.Flags().GetInt("limit")
		strict, _ := cmd.Flags().GetBool("strict")
		noIndex, _ := cmd.Flags().GetBool("no-index")

		if cmd.Flags().Changed("end") && end < start {
			return fmt.Errorf("--end %d is before --start %d", end, start)
		}

		opts := cfg.ReaderOptions(logger)
		if strict {
			opts.Mode = reader.Strict
		}
		if noIndex {
			opts.DisableIndex = true
		}

		r, err := reader.OpenFile(args[0], opts)
		if err != nil {
			return err
		}
		defer r.Close()

		var query []reader.MessageOption
		if len(topics) > 0 {
			query = append(query, reader.WithTopics(topics...))
		}

		var it *reader.MessageIterator
		if cmd.Flags().Changed("end") {
			it = r.Messages(append(query, reader.WithTimeRange(start, end))...)
		} else {
			it = r.SeekToTime(start, query...)
		}
		defer it.Close()

		out := cmd.OutOrStdout()
		n := 0
		for (limit <= 0 || n < limit) && it.Next() {
			msg := it.Message()
			fmt.Fprintf(out, "%d %s [%d] %s\n", msg.LogTime, topicOf(it.Channel()), msg.Sequence, formatPayload(msg.Data))
			n++
		}
		if err := it.Err(); err != nil {
			return err
		}
		printWarnings(cmd, r.Warnings())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(catCmd)

	catCmd.Flags().StringSlice("topic", nil, "Only print messages on this topic (repeatable)")
	catCmd.Flags().Uint64("start", 0, "First log time to print, in nanoseconds")
	catCmd.Flags().Uint64("end", 0, "Last log time to print, in nanoseconds (inclusive)")
	catCmd.Flags().Int("limit", 0, "Stop after this many messages (0 = no limit)")
	catCmd.Flags().Bool("strict", false, "Fail on the first format violation")
	catCmd.Flags().Bool("no-index", false, "Scan the data section instead of using the summary indexes")
}

func topicOf(ch *codec.Channel) string {
	if ch == nil {
		return "?"
	}
	return ch.Topic
}

// formatPayload shows printable payloads as text and anything else as hex
func formatPayload(data []byte) string {
	if utf8.Valid(data) && isPrintable(string(data)) {
		return string(data)
	}
	if len(data) <= maxPayloadPreview {
		return fmt.Sprintf("0x%x", data)
	}
	return fmt.Sprintf("0x%x... (%d bytes)", data[:maxPayloadPreview], len(data))
}

func isPrintable(s string) bool {
	for _, r := range s {
		if !unicode.IsPrint(r) && r != '\t' {
			return false
		}
	}
	return true
}
