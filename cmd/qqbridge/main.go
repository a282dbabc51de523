package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/openclaw-qq/qqbridge/pkg/config"
	"github.com/openclaw-qq/qqbridge/pkg/logger"
)

var (
	// version can be overridden at build time via -ldflags "-X main.version=...".
	version = "0.1.0"
	logo    = "🐧"

	configPath string
	debugMode  bool
)

var rootCmd = &cobra.Command{
	Use:           "qqbridge",
	Short:         "QQ / WeChat OneBot bridge",
	Long:          color.CyanString(logo+" qqbridge") + "\nBridges OneBot v11 gateways (NapCat, WeChat-like) to an agent runtime.",
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s qqbridge v%s\n", logo, version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "path to config.json")
	rootCmd.PersistentFlags().BoolVarP(&debugMode, "debug", "d", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(consoleCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}

// loadConfig reads the .env next to the config file before the config itself
// so QQBRIDGE_* overrides from it take effect.
func loadConfig() (*config.Config, error) {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if err := loadEnvFile(envPath); err != nil {
		return nil, fmt.Errorf("load %s: %w", envPath, err)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger.Configure(cfg.Logging.JSON)
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if debugMode {
		logger.SetLevel(logger.DEBUG)
	}
	return cfg, nil
}
