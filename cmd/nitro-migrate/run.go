package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Bidon15/nitro-migrate/internal/preflight"
	"github.com/Bidon15/nitro-migrate/internal/runner"
	"github.com/Bidon15/nitro-migrate/internal/server"
)

var (
	runDryRun            bool
	runReset             bool
	runFrom              uint64
	runTo                uint64
	runSkipPreflight     bool
	runMetricsAddr       string
	runAllowPlaceholders bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run pending migrations",
	Long: `Run every migration numbered above the last completed one.

Migrations run in number order. A migration marked await confirms each
deployment before sending the next; otherwise all deployments are sent
first and confirmed concurrently. The first failure stops the run.

Examples:
  nitro-migrate run
  nitro-migrate run --dry-run
  nitro-migrate run --reset
  nitro-migrate run --from 2 --to 2`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "pack every deployment without sending transactions")
	runCmd.Flags().BoolVar(&runReset, "reset", false, "ignore recorded progress and run from the first migration")
	runCmd.Flags().Uint64Var(&runFrom, "from", 0, "first migration to run, ignoring recorded progress")
	runCmd.Flags().Uint64Var(&runTo, "to", 0, "last migration to run")
	runCmd.Flags().BoolVar(&runSkipPreflight, "skip-preflight", false, "skip RPC, chain ID, balance and placeholder checks")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve metrics and status on this address while running")
	runCmd.Flags().BoolVar(&runAllowPlaceholders, "allow-placeholders", false, "allow placeholder base URIs on mainnet")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if runFrom != 0 && runTo != 0 && runFrom > runTo {
		return fmt.Errorf("--from %d is after --to %d", runFrom, runTo)
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if !runSkipPreflight && !runDryRun {
		resp, err := runPreflight(ctx, a)
		if err != nil {
			return err
		}
		if !resp.OK {
			if !jsonOut {
				printChecks(out, resp)
			}
			return errors.New("preflight checks failed (use --skip-preflight to override)")
		}
	}

	if addr := a.cfg.MetricsAddr; addr != "" {
		srvCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		h := server.NewHandler(a.repo, a.metrics, a.logger)
		go func() {
			if err := server.ListenAndServe(srvCtx, addr, h.Routes(), a.logger); err != nil {
				a.logger.Error("status server failed", slog.String("error", err.Error()))
			}
		}()
	}

	opts := runner.Options{
		DryRun: runDryRun,
		Reset:  runReset,
		From:   runFrom,
		To:     runTo,
	}
	if !jsonOut {
		opts.OnProgress = func(stage string, progress float64, message string) {
			fmt.Fprintf(out, "%s %s\n", colorBold(fmt.Sprintf("[%3.0f%%]", progress*100)), message)
		}
	}

	report, err := a.runner.Run(ctx, opts)
	if errors.Is(err, runner.ErrNothingToRun) {
		if jsonOut {
			return printJSON(out, report)
		}
		fmt.Fprintf(out, "%s Nothing to run, last completed migration is %d\n", colorGreen("✓"), report.LastCompleted)
		return nil
	}

	if report != nil {
		if jsonOut {
			if perr := printJSON(out, report); perr != nil {
				return perr
			}
		} else {
			printReport(out, report)
		}
	}
	return err
}

// runPreflight checks the configured chain before sending anything.
func runPreflight(ctx context.Context, a *app) (*preflight.PreflightResponse, error) {
	return preflight.NewChecker().RunChecks(ctx, &preflight.PreflightRequest{
		RPCURL:             a.cfg.Network.RPCURL,
		ChainID:            a.cfg.Network.ChainID,
		DeployerAddress:    a.signer.Address().Hex(),
		Placeholders:       a.plan.Placeholders(),
		AllowPlaceholders:  a.cfg.AllowPlaceholders,
		RequiredFundingETH: a.cfg.RequiredFundingETH,
	})
}

func printReport(w io.Writer, report *runner.Report) {
	fmt.Fprintln(w)
	if report.DryRun {
		fmt.Fprintf(w, "%s nothing was sent\n", colorYellow("Dry run:"))
	}

	for _, m := range report.Migrations {
		status := colorGreen("✓")
		if m.Error != "" {
			status = colorRed("✗")
		}
		fmt.Fprintf(w, "%s %d_%s\n", status, m.Number, m.Name)

		table := newTable(w)
		if report.DryRun {
			printTableHeader(table, "  CONTRACT", "ARG TYPES", "CALLDATA BYTES")
			for _, p := range m.Planned {
				fmt.Fprintf(table, "  %s\t%s\t%d\n", p.Name, strings.Join(p.ArgTypes, ","), p.CalldataSize)
			}
		} else {
			printTableHeader(table, "  CONTRACT", "ADDRESS", "TX", "GAS USED")
			for _, d := range m.Deployments {
				fmt.Fprintf(table, "  %s\t%s\t%s\t%d\n", d.Name, d.Address.Hex(), d.TxHash.Hex(), d.GasUsed)
			}
		}
		table.Flush()

		if m.Error != "" {
			fmt.Fprintf(w, "  %s %s\n", colorRed("Error:"), m.Error)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Network:        %s (chain %d)\n", report.Network, report.ChainID)
	fmt.Fprintf(w, "Deployer:       %s\n", report.Deployer)
	if report.Tracker != "" {
		fmt.Fprintf(w, "Migrations:     %s\n", report.Tracker)
	}
	fmt.Fprintf(w, "Last completed: %d (was %d)\n", report.LastCompleted, report.StartedFrom)
}
