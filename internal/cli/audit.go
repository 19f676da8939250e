package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/marcelocantos/vssh/internal/audit"
	"github.com/marcelocantos/vssh/internal/config"
)

func newAuditCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the hash-chained log of pipeline runs",
	}

	auditPath := func() (string, error) {
		path := opts.configPath
		if path == "" {
			path = config.ConfigPath()
		}
		cfg, err := config.LoadFrom(afero.NewOsFs(), path)
		if err != nil {
			return "", fmt.Errorf("config: %w", err)
		}
		return cfg.Audit.Path, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Check that no recorded run was altered, dropped or reordered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := auditPath()
			if err != nil {
				return err
			}
			runs, err := audit.Verify(afero.NewOsFs(), path)
			var ce *audit.ChainError
			switch {
			case errors.As(err, &ce):
				fmt.Fprintf(cmd.OutOrStdout(), "run log broken after %d good runs: %v\n", runs, ce)
				return &exitError{code: 1}
			case err != nil:
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d runs verified, chain intact\n", runs)
			return nil
		},
	})

	var (
		n      int
		asJSON bool
	)
	tail := &cobra.Command{
		Use:     "tail",
		Aliases: []string{"show"},
		Short:   "List the most recent runs, one per line",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := auditPath()
			if err != nil {
				return err
			}
			runs, err := audit.Recent(afero.NewOsFs(), path, n)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(w, "no runs recorded")
				return nil
			}
			for _, e := range runs {
				if !asJSON {
					fmt.Fprintln(w, e.Summary())
					continue
				}
				data, _ := json.MarshalIndent(e, "", "  ")
				fmt.Fprintf(w, "%s\n", data)
			}
			return nil
		},
	}
	tail.Flags().IntVarP(&n, "lines", "n", 20, "number of runs to list")
	tail.Flags().BoolVar(&asJSON, "json", false, "print full records as JSON")
	cmd.AddCommand(tail)
	return cmd
}
