/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ssargent/mcapkit/pkg/config"
)

const serviceName = "mcapkit.service"

var (
	unitPath = "/etc/systemd/system/" + serviceName

	// runSystemCommand runs an external command attached to the terminal
	runSystemCommand = func(name string, args ...string) error {
		c := exec.Command(name, args...)
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		return c.Run()
	}

	requireRoot = func() error {
		if os.Geteuid() != 0 {
			return errors.New("this command requires root privileges, run it with sudo")
		}
		return nil
	}
)

// serviceCmd represents the service command
var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the mcapkit API server as a systemd service",
}

var installServiceCmd = &cobra.Command{
	Use:   "install",
	Short: "Install and enable the systemd unit running mcapkit serve",
	Long: `Write a systemd unit that runs "mcapkit serve" with the given config,
bootstrapping the config first if it does not exist.

Examples:
  sudo mcapkit service install
  sudo mcapkit service install --data-dir /var/lib/mcapkit --user mcapkit`,
	Args:              cobra.NoArgs,
	PersistentPreRunE: setupLogger,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		user, _ := cmd.Flags().GetString("user")
		startNow, _ := cmd.Flags().GetBool("start")

		if err := requireRoot(); err != nil {
			return err
		}
		if configPath == "" {
			configPath = config.GetDefaultConfigPath()
		}

		serviceCfg, err := serviceConfig(configPath, dataDir)
		if err != nil {
			return err
		}

		binary, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to locate mcapkit binary: %w", err)
		}
		if err := createSystemdUnit(unitPath, systemdUnit(serviceCfg, binary, configPath, user)); err != nil {
			return fmt.Errorf("failed to write unit file: %w", err)
		}
		if err := systemctl("daemon-reload"); err != nil {
			return err
		}
		if err := systemctl("enable", serviceName); err != nil {
			return err
		}
		cmd.Printf("✅ Service enabled\n")

		if startNow {
			if err := systemctl("start", serviceName); err != nil {
				return err
			}
			cmd.Printf("✅ Service started\n")
		}
		cmd.Printf("Config: %s\nCatalog: %s\nListening: %s:%d\n",
			configPath, serviceCfg.Catalog.DataDir, serviceCfg.Server.Bind, serviceCfg.Server.Port)
		cmd.Printf("To view logs: sudo journalctl -u %s -f\n", serviceName)
		return nil
	},
}

var uninstallServiceCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop, disable and remove the systemd unit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireRoot(); err != nil {
			return err
		}
		_ = systemctl("stop", serviceName) // may already be stopped
		if err := systemctl("disable", serviceName); err != nil {
			cmd.Printf("Warning: could not disable service: %v\n", err)
		}
		if err := os.Remove(unitPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove unit file: %w", err)
		}
		if err := systemctl("daemon-reload"); err != nil {
			return err
		}
		cmd.Printf("✅ Service uninstalled, configuration and catalog data were kept\n")
		return nil
	},
}

var serviceLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the service logs with journalctl",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSystemCommand("journalctl", journalArgs(cmd)...)
	},
}

func init() {
	rootCmd.AddCommand(serviceCmd)
	serviceCmd.AddCommand(installServiceCmd, uninstallServiceCmd, serviceLogsCmd)
	for _, action := range []string{"start", "stop", "restart", "status"} {
		serviceCmd.AddCommand(systemctlCommand(action))
	}

	installServiceCmd.Flags().String("data-dir", "", "Catalog data directory for the service")
	installServiceCmd.Flags().String("user", "mcapkit", "User to run the service as")
	installServiceCmd.Flags().Bool("start", true, "Start the service after installation")

	serviceLogsCmd.Flags().BoolP("follow", "f", false, "Follow log output")
	serviceLogsCmd.Flags().IntP("lines", "n", 0, "Number of lines to show")
}

// serviceConfig loads or bootstraps the config the service runs with. The
// catalog directory is made absolute since the unit runs from /.
func serviceConfig(configPath, dataDir string) (*config.Config, error) {
	var serviceCfg *config.Config
	var err error
	if config.ConfigExists(configPath) {
		serviceCfg, err = config.LoadConfig(configPath)
	} else {
		serviceCfg, err = config.BootstrapConfig(configPath, dataDir)
	}
	if err != nil {
		return nil, err
	}

	if dataDir != "" {
		serviceCfg.Catalog.DataDir = dataDir
	}
	abs, err := filepath.Abs(serviceCfg.Catalog.DataDir)
	if err != nil {
		return nil, err
	}
	serviceCfg.Catalog.DataDir = abs
	if err := config.SaveConfig(serviceCfg, configPath); err != nil {
		return nil, err
	}
	return serviceCfg, nil
}

func systemctlCommand(action string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: fmt.Sprintf("Run systemctl %s on the service", action),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return systemctl(action, serviceName)
		},
	}
}

func systemctl(args ...string) error {
	if err := runSystemCommand("systemctl", args...); err != nil {
		return fmt.Errorf("systemctl %v: %w", args, err)
	}
	return nil
}

func journalArgs(cmd *cobra.Command) []string {
	follow, _ := cmd.Flags().GetBool("follow")
	lines, _ := cmd.Flags().GetInt("lines")

	args := []string{"-u", serviceName}
	if follow {
		args = append(args, "-f")
	}
	if lines > 0 {
		args = append(args, fmt.Sprintf("-n%d", lines))
	}
	return args
}

// systemdUnit renders the unit file running the API server
func systemdUnit(cfg *config.Config, binary, configPath, user string) string {
	return fmt.Sprintf(`[Unit]
Description=mcapkit catalog server
After=network-online.target
Wants=network-online.target

[Service]
User=%s
Group=%s
ExecStart=%s serve --config %s
Restart=on-failure
NoNewPrivileges=true
UMask=0077
ReadWritePaths=%s
ReadOnlyPaths=%s

[Install]
WantedBy=multi-user.target
`, user, user, binary, configPath, cfg.Catalog.DataDir, filepath.Dir(configPath))
}

func createSystemdUnit(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
