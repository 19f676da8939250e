// Package cli wires configuration, logging, policy, audit and metrics
// around the shell and exposes them as the vssh command.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// exitError carries a process exit status out of a RunE.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

type rootOptions struct {
	configPath string
	command    string
	noColor    bool
	logLevel   string
}

// Execute runs vssh with the process arguments and returns its exit status.
func Execute(version string) int {
	root := NewRootCommand(version)
	return exitCode(root.Execute(), root.ErrOrStderr())
}

// NewRootCommand builds the vssh command tree. Streams default to the
// process's own and can be replaced with SetIn/SetOut/SetErr.
func NewRootCommand(version string) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "vssh",
		Short: "A very small shell that runs pipelines of external programs",
		Long: `vssh reads lines of the form

    prog args [< in] [> out] | prog args | ...

and runs every stage as its own process, connected stdout to stdin.
There is no quoting, globbing, variable expansion or job control; arguments
are split on whitespace. Type "exit" or send end-of-file to leave.

With -c the pipeline is run once and vssh exits with the status of its last
stage. When stdin is not a terminal, lines are read from it as a script.`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd, opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default ~/.config/vssh/config.yaml)")
	flags.StringVar(&opts.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
	root.Flags().StringVarP(&opts.command, "command", "c", "", "run one pipeline and exit")
	root.Flags().BoolVar(&opts.noColor, "no-color", false, "disable the coloured prompt")

	root.AddCommand(
		newMCPCommand(version, opts),
		newAuditCommand(opts),
		newVersionCommand(version),
	)
	return root
}

func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintf(stderr, "vssh: %v\n", err)
	return 2
}

// stdinFile returns the command's stdin when it is a real descriptor.
func stdinFile(cmd *cobra.Command) (*os.File, bool) {
	f, ok := cmd.InOrStdin().(*os.File)
	return f, ok
}
