/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ssargent/mcapkit/pkg/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create or inspect the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with a generated API key",
	Long: `Write a configuration file with default settings and a newly generated API
key. An existing file is kept unless --force is given.

Examples:
  mcapkit config init
  mcapkit config init --config ./mcapkit.yaml --data-dir /var/lib/mcapkit`,
	Args: cobra.NoArgs,
	// the file may not exist yet
	PersistentPreRunE: setupLogger,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		force, _ := cmd.Flags().GetBool("force")

		if configPath == "" {
			configPath = config.GetDefaultConfigPath()
		}
		if config.ConfigExists(configPath) && !force {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
		}

		created, err := config.BootstrapConfig(configPath, dataDir)
		if err != nil {
			return err
		}
		logger.WithField("path", configPath).Debug("wrote config")
		cmd.Printf("✅ Created configuration at %s\n", configPath)
		cmd.Printf("Catalog data: %s\n", created.Catalog.DataDir)
		cmd.Printf("API key: %s\n", created.Server.APIKey)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd)

	configInitCmd.Flags().String("data-dir", "", "Catalog data directory (default ./data)")
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing config file")
}
