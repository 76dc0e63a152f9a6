package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Bidon15/nitro-migrate/internal/artifacts"
	"github.com/Bidon15/nitro-migrate/internal/config"
	"github.com/Bidon15/nitro-migrate/internal/deployer"
	"github.com/Bidon15/nitro-migrate/internal/plan"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "List migrations and validate their constructor arguments",
	Long: `List every migration with its deployments and argument literals.

Each literal is classified (address, numeric, placeholder URI, ...). When
the artifacts directory holds the contracts, the arguments are also
packed against each constructor to catch count and type mismatches.`,
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
}

// planCheck is the outcome of packing one deployment against its artifact.
type planCheck struct {
	Migration string `json:"migration"`
	Name      string `json:"name"`
	Error     string `json:"error,omitempty"`
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := config.Decode(v)
	if err != nil {
		return err
	}
	p, err := loadPlan(cfg)
	if err != nil {
		return fmt.Errorf("load plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return err
	}

	checks, artifactsErr := checkPlan(p, artifacts.NewStore(cfg.ArtifactsDir))
	out := cmd.OutOrStdout()

	if jsonOut {
		doc := map[string]interface{}{
			"migrations":   p.Migrations,
			"placeholders": p.Placeholders(),
			"checks":       checks,
		}
		if artifactsErr != nil {
			doc["artifacts_error"] = artifactsErr.Error()
		}
		if err := printJSON(out, doc); err != nil {
			return err
		}
	} else {
		printPlan(out, p, checks, artifactsErr)
	}

	for _, c := range checks {
		if c.Error != "" {
			return errors.New("plan does not match contract artifacts")
		}
	}
	return nil
}

// checkPlan packs every deployment against the artifacts in store. It
// returns an error only when the artifacts cannot be loaded.
func checkPlan(p *plan.Plan, store *artifacts.Store) ([]planCheck, error) {
	arts, err := store.LoadAll(p.Contracts())
	if err != nil {
		return nil, err
	}

	var checks []planCheck
	for _, m := range p.Migrations {
		for _, d := range m.Deployments {
			c := planCheck{Migration: m.ID(), Name: d.DisplayName()}
			if _, err := deployer.PackConstructor(arts[d.Contract].ABIDef(), d.Args); err != nil {
				c.Error = err.Error()
			}
			checks = append(checks, c)
		}
	}
	return checks, nil
}

func printPlan(w io.Writer, p *plan.Plan, checks []planCheck, artifactsErr error) {
	failed := make(map[string]string)
	for _, c := range checks {
		if c.Error != "" {
			failed[c.Migration+"/"+c.Name] = c.Error
		}
	}

	for _, m := range p.Migrations {
		mode := "concurrent"
		if m.Await {
			mode = "await each"
		}
		fmt.Fprintf(w, "%s (%s)\n", colorBold(m.ID()), mode)

		for _, d := range m.Deployments {
			mark := "•"
			if artifactsErr == nil {
				mark = colorGreen("✓")
				if _, bad := failed[m.ID()+"/"+d.DisplayName()]; bad {
					mark = colorRed("✗")
				}
			}
			fmt.Fprintf(w, "  %s %s\n", mark, d.DisplayName())

			table := newTable(w)
			for i, arg := range d.Args {
				fmt.Fprintf(table, "      %d\t%s\t%s\n", i+1, arg.String(), arg.Kind())
			}
			table.Flush()

			if msg, bad := failed[m.ID()+"/"+d.DisplayName()]; bad {
				fmt.Fprintf(w, "      %s %s\n", colorRed("Error:"), msg)
			}
		}
		fmt.Fprintln(w)
	}

	if placeholders := p.Placeholders(); len(placeholders) > 0 {
		locs := make([]string, 0, len(placeholders))
		for _, ph := range placeholders {
			locs = append(locs, fmt.Sprintf("%s %s", ph.Migration, ph.Contract))
		}
		fmt.Fprintf(w, "%s placeholder base URI %q in: %s\n", colorYellow("⚠"), plan.PlaceholderURI, strings.Join(locs, ", "))
	}
	if artifactsErr != nil {
		fmt.Fprintf(w, "%s constructor arguments not checked: %v\n", colorYellow("⚠"), artifactsErr)
	}
}
