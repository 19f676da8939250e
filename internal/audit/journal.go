package audit

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/marcelocantos/vssh/internal/pipeline"
)

// seed anchors prev_hash of the first run in a log.
const seed = "vssh-genesis"

// maxRecord bounds one JSON line; a run with very long argv still fits.
const maxRecord = 1 << 20

// Logger appends one hash-chained record per pipeline run.
type Logger struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
	seq  uint64 // seq of the last record on disk
	head string // hash of the last record on disk
}

// NewLogger opens the run log at path, creating its directory, and
// continues the chain after the last record. A log that does not decode
// is not extended.
func NewLogger(fsys afero.Fs, path string) (*Logger, error) {
	if err := fsys.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	l := &Logger{fs: fsys, path: path, head: seedHash()}

	f, err := fsys.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	defer f.Close()

	err = scanRuns(f, func(_ int, e Entry) error {
		l.seq, l.head = e.Seq, e.Hash
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit: resume %s: %w", path, err)
	}
	return l, nil
}

// LogRun records a finished run, stamped with the current directory.
func (l *Logger) LogRun(rep *pipeline.Report) error {
	cwd, _ := os.Getwd()
	return l.Log(NewEntry(rep, cwd))
}

// Log links e to the previous run and appends it. The chain only
// advances once the record is on disk.
func (l *Logger) Log(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.Seq = l.seq + 1
	e.PrevHash = l.head
	e.Hash = digest(e)

	rec, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: encode run %s: %w", e.RunID, err)
	}
	f, err := l.fs.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(rec, '\n')); err != nil {
		return fmt.Errorf("audit: append run %s: %w", e.RunID, err)
	}
	l.seq, l.head = e.Seq, e.Hash
	return nil
}

// Path returns the log file path.
func (l *Logger) Path() string {
	return l.path
}

func seedHash() string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(seed)))
}

// digest hashes e with its own Hash field blanked.
func digest(e Entry) string {
	e.Hash = ""
	data, _ := json.Marshal(e)
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// scanRuns decodes one run per line and hands each to fn with its 1-based
// line number. Blank lines are skipped; a line that is not a run record
// stops the scan with a *ChainError.
func scanRuns(r io.Reader, fn func(line int, e Entry) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxRecord)
	for line := 1; sc.Scan(); line++ {
		rec := bytes.TrimSpace(sc.Bytes())
		if len(rec) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(rec, &e); err != nil {
			return &ChainError{Line: line, Reason: "not a run record: " + err.Error()}
		}
		if err := fn(line, e); err != nil {
			return err
		}
	}
	return sc.Err()
}
