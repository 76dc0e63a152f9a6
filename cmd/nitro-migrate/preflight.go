package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Bidon15/nitro-migrate/internal/preflight"
)

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Check RPC reachability, chain ID, deployer balance and placeholder URIs",
	RunE:  runPreflightCmd,
}

func init() {
	rootCmd.AddCommand(preflightCmd)
}

func runPreflightCmd(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := runPreflight(cmd.Context(), a)
	if err != nil {
		return err
	}

	if jsonOut {
		if err := printJSON(cmd.OutOrStdout(), resp); err != nil {
			return err
		}
	} else {
		printChecks(cmd.OutOrStdout(), resp)
	}

	if !resp.OK {
		return errors.New("preflight checks failed")
	}
	return nil
}

func printChecks(w io.Writer, resp *preflight.PreflightResponse) {
	for _, c := range resp.Checks {
		mark := colorGreen("✓")
		switch {
		case !c.Passed:
			mark = colorRed("✗")
		case c.Warning:
			mark = colorYellow("⚠")
		}
		fmt.Fprintf(w, "%s %-18s %s\n", mark, c.Name, c.Message)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Deployer:         %s\n", resp.DeployerAddress)
	fmt.Fprintf(w, "Required funding: %s ETH\n", resp.RequiredFundingETH)
	if resp.CurrentBalanceETH != "" {
		fmt.Fprintf(w, "Current balance:  %s ETH\n", resp.CurrentBalanceETH)
	}
}
