package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Bidon15/nitro-migrate/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration with secrets masked",
	RunE:  runConfigShow,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Decode(v)
	if err != nil {
		return err
	}
	shown := cfg.Redacted()
	out := cmd.OutOrStdout()

	if jsonOut {
		return printJSON(out, map[string]interface{}{
			"config":              shown,
			"config_file":         v.ConfigFileUsed(),
			"default_config_file": config.FilePath(),
			"valid":               cfg.Validate() == nil,
		})
	}

	fmt.Fprintf(out, "Network:        %s (chain %d)\n", shown.Network.Name, shown.Network.ChainID)
	fmt.Fprintf(out, "RPC URL:        %s\n", shown.Network.RPCURL)
	switch {
	case shown.Deployer.PrivateKey != "":
		fmt.Fprintf(out, "Deployer key:   %s\n", shown.Deployer.PrivateKey)
	case shown.Deployer.KeystorePath != "":
		fmt.Fprintf(out, "Keystore:       %s\n", shown.Deployer.KeystorePath)
	default:
		fmt.Fprintf(out, "Deployer key:   %s\n", colorYellow("(not set)"))
	}
	fmt.Fprintf(out, "Artifacts:      %s\n", shown.ArtifactsDir)
	if shown.PlanDir != "" {
		fmt.Fprintf(out, "Plan dir:       %s\n", shown.PlanDir)
	} else {
		fmt.Fprintf(out, "Plan dir:       %s\n", "(built-in)")
	}
	fmt.Fprintf(out, "Database:       %s\n", orNotSet(shown.DatabaseURL))
	fmt.Fprintf(out, "Redis:          %s\n", orNotSet(shown.RedisURL))
	fmt.Fprintf(out, "Gas:            +%d%% price, min %d gwei, +%d%% limit\n",
		shown.Gas.PriceBoostPercent, shown.Gas.MinPriceGwei, shown.Gas.LimitBufferPercent)
	fmt.Fprintf(out, "Confirm within: %s\n", shown.ConfirmTimeout)

	if configFile := v.ConfigFileUsed(); configFile != "" {
		fmt.Fprintf(out, "Config File:    %s\n", configFile)
	} else {
		fmt.Fprintf(out, "Config File:    %s\n", colorYellow("(none, looked for "+config.FilePath()+")"))
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "\n%s %v\n", colorYellow("⚠"), err)
	}
	return nil
}

func orNotSet(s string) string {
	if s == "" {
		return colorYellow("(not set)")
	}
	return s
}
