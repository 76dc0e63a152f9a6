package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Bidon15/nitro-migrate/internal/runner"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show completed and pending migrations for the configured chain",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.runner.Status(cmd.Context())
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(cmd.OutOrStdout(), st)
	}
	printStatus(cmd.OutOrStdout(), st)
	return nil
}

func printStatus(w io.Writer, st *runner.Status) {
	fmt.Fprintf(w, "Network:        %s (chain %d)\n", st.Network, st.ChainID)
	if st.Tracker != "" {
		fmt.Fprintf(w, "Migrations:     %s\n", st.Tracker)
	} else {
		fmt.Fprintf(w, "Migrations:     %s\n", colorYellow("(not deployed)"))
	}
	fmt.Fprintf(w, "Last completed: %d\n", st.LastCompleted)

	fmt.Fprintln(w)
	if len(st.Pending) == 0 {
		fmt.Fprintf(w, "%s No pending migrations\n", colorGreen("✓"))
	} else {
		table := newTable(w)
		printTableHeader(table, "PENDING", "NAME", "AWAIT", "DEPLOYMENTS")
		for _, m := range st.Pending {
			fmt.Fprintf(table, "%d\t%s\t%t\t%d\n", m.Number, m.Name, m.Await, m.Deployments)
		}
		table.Flush()
	}

	if len(st.Deployments) > 0 {
		fmt.Fprintln(w)
		table := newTable(w)
		printTableHeader(table, "MIGRATION", "CONTRACT", "ADDRESS", "BLOCK")
		for _, d := range st.Deployments {
			fmt.Fprintf(table, "%d\t%s\t%s\t%d\n", d.Migration, d.Name, d.Address, d.BlockNumber)
		}
		table.Flush()
	}
}
