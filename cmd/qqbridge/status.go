package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/openclaw-qq/qqbridge/pkg/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and account settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		printConfigStatus(cfg)
		return nil
	},
}

func printConfigStatus(cfg *config.Config) {
	ok := color.GreenString("✓")
	missing := color.RedString("✗")

	fmt.Printf("%s qqbridge Status\n\n", logo)
	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("Config:", configPath, ok)
	} else {
		fmt.Println("Config:", configPath, missing, "(defaults)")
	}

	policy := cfg.PolicyFor("")
	if policy.OwnerID != 0 {
		fmt.Printf("Owner: %d\n", policy.OwnerID)
	} else {
		fmt.Println("Owner:", color.YellowString("not set, notifications disabled"))
	}
	fmt.Printf("Log level: %s (json=%v)\n", cfg.Logging.Level, cfg.Logging.JSON)
	fmt.Printf("Pending sweep: %q  Status report: %q\n",
		cfg.Maintenance.PendingSweepCron, cfg.Maintenance.StatusCron)

	fmt.Println("\nAccounts:")
	for _, acc := range cfg.Accounts {
		state := missing
		if acc.Enabled {
			state = ok
		}
		token := "no token"
		if acc.AccessToken != "" {
			token = "token set"
		}
		fmt.Printf("  %s %-10s %-7s %s (%s, reconnect %s, timeout %s)\n",
			state, acc.Name, acc.Platform, acc.WSUrl, token, acc.ReconnectDelay(), acc.CallTimeoutDuration())

		p := cfg.PolicyFor(acc.Name)
		fmt.Printf("      welcome=%v friend-approve=%v group-approve=%v (%d rules) poke=%v\n",
			p.Welcome.Enabled, p.AutoApprove.Friend.Enabled, p.AutoApprove.Group.Enabled,
			len(p.AutoApprove.Group.Rules), p.Poke.Enabled)
	}
}
