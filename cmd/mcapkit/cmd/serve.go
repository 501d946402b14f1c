/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ssargent/mcapkit/pkg/api"
	"github.com/ssargent/mcapkit/pkg/catalog"
	"github.com/ssargent/mcapkit/pkg/config"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Serve the catalog and the messages of cataloged files over HTTP.

Every route under /api/v1 requires the X-API-Key header. /health and
/metrics are open. When no key is configured (or it is "auto") a key is
generated for this run and printed.

Examples:
  mcapkit serve
  mcapkit serve --port 9000 --bind 0.0.0.0 --api-key mysecretkey`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		serverCfg := cfg.Server
		if cmd.Flags().Changed("port") {
			serverCfg.Port, _ = cmd.Flags().GetInt("port")
		}
		if cmd.Flags().Changed("bind") {
			serverCfg.Bind, _ = cmd.Flags().GetString("bind")
		}
		if cmd.Flags().Changed("api-key") {
			serverCfg.APIKey, _ = cmd.Flags().GetString("api-key")
		}

		if serverCfg.APIKey == "" || serverCfg.APIKey == "auto" {
			key, err := config.GenerateSecureKey(32)
			if err != nil {
				return err
			}
			serverCfg.APIKey = key
			cmd.Printf("Generated API key for this run: %s\n", key)
		}

		return withCatalog(func(cat *catalog.Catalog) error {
			ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cmd.Printf("Serving catalog %s on %s:%d\n", catalogDir(), serverCfg.Bind, serverCfg.Port)
			starter := container.GetServerFactory().CreateServerStarter()
			return starter.StartServer(ctx, cat, api.ServerConfig{
				Bind:   serverCfg.Bind,
				Port:   serverCfg.Port,
				APIKey: serverCfg.APIKey,
				Reader: cfg.ReaderOptions(logger),
				Logger: logger,
			})
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("bind", "127.0.0.1", "Address to bind to")
	serveCmd.Flags().String("api-key", "", "API key required on /api/v1 routes")
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
