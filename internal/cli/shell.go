package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/marcelocantos/vssh/internal/shell"
)

func runShell(cmd *cobra.Command, opts *rootOptions) error {
	e, err := setup(afero.NewOsFs(), opts)
	if err != nil {
		return err
	}
	defer e.close()

	x := e.executor()
	x.Stdout = cmd.OutOrStdout()
	x.Stderr = cmd.ErrOrStderr()

	s := &shell.Shell{
		Runner:    x,
		Prompt:    e.cfg.Prompt,
		Color:     e.cfg.Color && !opts.noColor,
		Logger:    e.log.Named("shell"),
		Observers: e.observers,
	}

	if cmd.Flags().Changed("command") {
		x.Stdin = cmd.InOrStdin()
		s.RunLine(opts.command)
		return status(s)
	}

	in, isFile := stdinFile(cmd)
	if isFile {
		// Children share the terminal or script file with the shell.
		x.Stdin = in
	}

	if isFile && term.IsTerminal(int(in.Fd())) {
		rl, err := shell.NewReadline(s.Prompt, e.cfg.HistoryFile)
		if err != nil {
			return err
		}
		s.Input = rl

		// Stay alive when ^C reaches the whole foreground group; the
		// running stages take the default action.
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGQUIT)
		defer signal.Stop(sigs)
		go func() {
			for range sigs {
			}
		}()

		return s.Run()
	}

	s.Input = shell.NewScriptReader(cmd.InOrStdin())
	if err := s.Run(); err != nil {
		return err
	}
	return status(s)
}

func status(s *shell.Shell) error {
	if code := shell.ExitStatus(s.Last); code != 0 {
		return &exitError{code: code}
	}
	return nil
}
