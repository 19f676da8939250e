package shell

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/abiosoft/readline"
)

// LineReader yields one input line per call and io.EOF once input ends.
// *readline.Instance satisfies it.
type LineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
	Close() error
}

// NewReadline returns an interactive line editor with persistent history.
func NewReadline(prompt, historyFile string) (*readline.Instance, error) {
	if historyFile != "" {
		// Readline silently drops history it cannot write.
		_ = os.MkdirAll(filepath.Dir(historyFile), 0o755)
	}
	cfg := &readline.Config{
		Prompt:            prompt,
		HistoryFile:       historyFile,
		InterruptPrompt:   "^C",
		EOFPrompt:         ExitCommand,
		HistorySearchFold: true,
	}
	if err := cfg.Init(); err != nil {
		return nil, err
	}
	return readline.NewEx(cfg)
}

// ScriptReader reads lines from a non-interactive source: no prompt and
// no line editing. A read error is returned once; after it every call
// returns io.EOF.
type ScriptReader struct {
	r      *bufio.Reader
	closer io.Closer
	done   bool
}

// NewScriptReader reads lines from r. If r is an io.Closer, Close closes it.
func NewScriptReader(r io.Reader) *ScriptReader {
	s := &ScriptReader{r: bufio.NewReader(r)}
	if c, ok := r.(io.Closer); ok && r != os.Stdin {
		s.closer = c
	}
	return s
}

func (s *ScriptReader) Readline() (string, error) {
	if s.done {
		return "", io.EOF
	}
	line, err := s.r.ReadString('\n')
	if err != nil {
		s.done = true
		// A final line without a newline still counts.
		if err == io.EOF && line != "" {
			return strings.TrimRight(line, "\r"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (s *ScriptReader) SetPrompt(string) {}

func (s *ScriptReader) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
