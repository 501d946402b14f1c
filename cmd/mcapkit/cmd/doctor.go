/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ssargent/mcapkit/pkg/doctor"
)

// errCheckFailed is returned when doctor finds problems, after printing them
var errCheckFailed = errors.New("file has problems")

// doctorCmd represents the doctor command
var doctorCmd = &cobra.Command{
	Use:   "doctor <file>",
	Short: "Check a log file for damage",
	Long: `Read a log file twice: once tolerating damage to report every violation
found, and once in strict mode to report where a strict reader stops. The
summary section is compared against what the data section actually holds.

Exits non-zero when problems are found.

Examples:
  mcapkit doctor drive.mcap`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := doctor.CheckFile(args[0], logger)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		problem := color.New(color.FgRed, color.Bold)
		notice := color.New(color.FgYellow)
		ok := color.New(color.FgGreen, color.Bold)

		fmt.Fprintf(out, "%s: %s, %d messages, %d chunks, %d attachments, %d metadata\n",
			args[0], formatBytes(uint64(report.Size)), report.Messages, report.Chunks, report.Attachments, report.Metadata)
		for _, issue := range report.Issues {
			if issue.Severity == doctor.Problem {
				problem.Fprintf(out, "PROBLEM ")
			} else {
				notice.Fprintf(out, "NOTICE  ")
			}
			fmt.Fprintln(out, issue.Message)
		}
		if report.StrictErr != nil {
			problem.Fprintf(out, "PROBLEM ")
			fmt.Fprintf(out, "strict read failed: %v\n", report.StrictErr)
		}

		if !report.OK() {
			return fmt.Errorf("%s: %w", args[0], errCheckFailed)
		}
		ok.Fprintln(out, "OK")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
