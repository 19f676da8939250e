package cli

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/marcelocantos/vssh/internal/mcp"
)

func newMCPCommand(version string, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve pipelines as Model Context Protocol tools over stdio",
		Long: `Starts vssh as an MCP server on stdin/stdout. Agents get two tools:
run_pipeline, which runs a pipeline and returns its captured output and
per-stage outcome, and parse_pipeline, which shows how a line would be split.

Policy, audit and metrics settings apply exactly as in the interactive shell.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(afero.NewOsFs(), opts)
			if err != nil {
				return err
			}
			defer e.close()

			srv := mcp.NewServer(mcp.Config{
				Version:   version,
				Policy:    e.policy,
				Logger:    e.log.Named("mcp"),
				Observers: e.observers,
			})
			e.log.Info("serving MCP on stdio")
			if err := srv.ServeStdio(); err != nil {
				e.log.Error("MCP server failed", zap.Error(err))
				return err
			}
			return nil
		},
	}
}
