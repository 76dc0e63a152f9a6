package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Bidon15/nitro-migrate/internal/config"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Global flags
	cfgFile   string
	jsonOut   bool
	logLevel  string
	logFormat string

	v = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "nitro-migrate",
	Short: "Deploy the Migrations and NitroCollection contracts in numbered steps",
	Long: `nitro-migrate runs numbered deployment migrations against an EVM chain.

Each migration deploys one or more contracts with fixed constructor
arguments. Progress is stored on chain in the Migrations contract, so a
later run only executes what has not completed yet.

Configuration (in order of priority):
  1. Command-line flags (--rpc-url, --chain-id, ...)
  2. Environment variables (NITRO_MIGRATE_NETWORK_RPC_URL, NITRO_MIGRATE_DEPLOYER_PRIVATE_KEY, ...)
  3. Config file (~/.nitro-migrate.yaml)

Get started:
  $ nitro-migrate plan               # Show the migrations
  $ nitro-migrate preflight          # Check RPC, chain ID and balance
  $ nitro-migrate run --dry-run      # Pack every deployment, send nothing
  $ nitro-migrate run                # Deploy`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		slog.SetDefault(newLogger(cmd.ErrOrStderr(), logLevel, logFormat))
		bindFlags(cmd.Root())
		return config.Init(v, cfgFile)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if jsonOut {
			return printJSON(cmd.OutOrStdout(), map[string]string{"version": Version})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "nitro-migrate version %s\n", Version)
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ~/.nitro-migrate.yaml)")
	flags.BoolVar(&jsonOut, "json", false, "output in JSON format")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.StringVar(&logFormat, "log-format", "text", "log format: text or json")

	flags.String("network", "", "network name (or NITRO_MIGRATE_NETWORK_NAME)")
	flags.String("rpc-url", "", "JSON-RPC endpoint (or NITRO_MIGRATE_NETWORK_RPC_URL)")
	flags.Uint64("chain-id", 0, "expected chain ID (or NITRO_MIGRATE_NETWORK_CHAIN_ID)")
	flags.String("keystore", "", "deployer keystore file (or NITRO_MIGRATE_DEPLOYER_KEYSTORE_PATH)")
	flags.String("artifacts-dir", "", "compiled contract artifacts (or NITRO_MIGRATE_ARTIFACTS_DIR)")
	flags.String("plan-dir", "", "load migrations from this directory instead of the built-in plan")
	flags.String("database-url", "", "PostgreSQL URL for run history (or NITRO_MIGRATE_DATABASE_URL)")
	flags.String("redis-url", "", "Redis URL for the run lock (or NITRO_MIGRATE_REDIS_URL)")

	rootCmd.AddCommand(versionCmd)
}

// flagKeys maps config keys to the persistent flags that override them.
var flagKeys = map[string]string{
	"network.name":           "network",
	"network.rpc_url":        "rpc-url",
	"network.chain_id":       "chain-id",
	"deployer.keystore_path": "keystore",
	"artifacts_dir":          "artifacts-dir",
	"plan_dir":               "plan-dir",
	"database_url":           "database-url",
	"redis_url":              "redis-url",
}

// bindFlags points v at the command-line flags. A flag only wins over the
// environment and config file when it was set.
func bindFlags(root *cobra.Command) {
	flags := root.PersistentFlags()
	for key, flag := range flagKeys {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
	_ = v.BindPFlag("metrics_addr", runCmd.Flags().Lookup("metrics-addr"))
	_ = v.BindPFlag("allow_placeholders", runCmd.Flags().Lookup("allow-placeholders"))
}

// newLogger builds the process logger.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Output helpers

// printJSON outputs data as formatted JSON.
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printError prints an error message.
func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "%s %s\n", colorRed("Error:"), err.Error())
}

// newTable creates a new tabwriter for formatted output.
func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// printTableHeader prints a bold header row.
func printTableHeader(w *tabwriter.Writer, columns ...string) {
	for i, col := range columns {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, colorBold(col))
	}
	fmt.Fprintln(w)
}

// Terminal colors

func colorRed(s string) string {
	if !isTTY() {
		return s
	}
	return "\033[31m" + s + "\033[0m"
}

func colorGreen(s string) string {
	if !isTTY() {
		return s
	}
	return "\033[32m" + s + "\033[0m"
}

func colorYellow(s string) string {
	if !isTTY() {
		return s
	}
	return "\033[33m" + s + "\033[0m"
}

func colorBold(s string) string {
	if !isTTY() {
		return s
	}
	return "\033[1m" + s + "\033[0m"
}

func isTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
