// Package shell implements the vssh read loop: prompt, read a line, run it
// as a pipeline, repeat until exit or end of input.
package shell

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/abiosoft/readline"
	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/marcelocantos/vssh/internal/pipeline"
)

// DefaultPrompt is printed before each interactive line.
const DefaultPrompt = "vssh> "

// ExitCommand ends the session when it is the whole (trimmed) line.
const ExitCommand = "exit"

// Runner executes the stages of one pipeline.
type Runner interface {
	Run(stages []string) (*pipeline.Report, error)
}

// Observer is told about every completed run.
type Observer interface {
	Observe(rep *pipeline.Report)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(rep *pipeline.Report)

func (f ObserverFunc) Observe(rep *pipeline.Report) { f(rep) }

// Shell drives a Runner from a LineReader.
type Shell struct {
	Input     LineReader
	Runner    Runner
	Prompt    string
	Color     bool
	Logger    *zap.Logger
	Observers []Observer

	// Last is the report of the most recent run, nil before the first.
	Last *pipeline.Report
}

// Split trims line, cuts it at every | and trims each stage. Stages are
// not otherwise interpreted; an empty line has no stages.
func Split(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	stages := strings.Split(line, pipeline.OpPipe)
	for i := range stages {
		stages[i] = strings.TrimSpace(stages[i])
	}
	return stages
}

// RunLine executes one input line and reports whether the session should
// end. Blank lines do nothing.
func (s *Shell) RunLine(line string) (quit bool) {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return false
	case ExitCommand:
		return true
	}

	rep, err := s.Runner.Run(Split(line))
	if err != nil {
		// The runner has already reported it on the session's stderr.
		s.logger().Debug("run aborted", zap.String("line", line), zap.Error(err))
	}
	if rep != nil {
		s.Last = rep
		for _, o := range s.Observers {
			o.Observe(rep)
		}
	}
	return false
}

// Run loops until exit or end of input. Interrupts and read errors skip
// the current line; they do not end the session.
func (s *Shell) Run() error {
	defer s.Input.Close()
	for {
		s.Input.SetPrompt(s.prompt())
		line, err := s.Input.Readline()
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, readline.ErrInterrupt):
			continue
		case err != nil:
			s.logger().Warn("read failed", zap.Error(err))
			continue
		}
		if s.RunLine(line) {
			return nil
		}
	}
}

func (s *Shell) prompt() string {
	p := s.Prompt
	if p == "" {
		p = DefaultPrompt
	}
	if !s.Color {
		return p
	}
	return color.New(color.FgGreen, color.Bold).Sprint(p)
}

func (s *Shell) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// Errorf prints a vssh diagnostic on w, in red when colour is on.
func Errorf(w io.Writer, colored bool, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if colored {
		msg = color.New(color.FgRed).Sprint(msg)
	}
	fmt.Fprintf(w, "vssh: %s\n", msg)
}
