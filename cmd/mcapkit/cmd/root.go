/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ssargent/mcapkit/pkg/config"
	"github.com/ssargent/mcapkit/pkg/di"
	"github.com/ssargent/mcapkit/pkg/logging"
)

var (
	container *di.Container
	cfg       *config.Config
	logger    *logrus.Logger
)

// SetContainer injects the dependency container used by the commands
func SetContainer(c *di.Container) {
	container = c
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mcapkit",
	Short: "mcapkit - chunked, indexed log file toolkit",
	Long: `mcapkit reads, checks, rewrites and catalogs MCAP log files: a
self-describing container of timestamped messages grouped by channel, with
optional compressed chunks and a trailing summary for indexed reads.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default "+config.GetDefaultConfigPath()+")")
	rootCmd.PersistentFlags().String("log-level", "", "Log level override (debug, info, warn, error)")
}

// setup loads the configuration and builds the logger shared by every command
func setup(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	level, _ := cmd.Flags().GetString("log-level")

	loaded, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if level != "" {
		loaded.Logging.Level = level
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cfg = loaded
	logger = logging.New(cfg.Logging.Level, cmd.ErrOrStderr())
	if container == nil {
		container = di.NewContainer()
	}
	return nil
}

// setupLogger is the setup of commands that create the config file
func setupLogger(cmd *cobra.Command, args []string) error {
	level, _ := cmd.Flags().GetString("log-level")
	logger = logging.New(level, cmd.ErrOrStderr())
	return nil
}

// loadConfig reads the config at path. A missing file at the default
// location means defaults, a missing file that was asked for is an error.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadConfig(path)
	}
	path = config.GetDefaultConfigPath()
	if !config.ConfigExists(path) {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
}
