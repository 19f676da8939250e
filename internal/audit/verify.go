package audit

import (
	"fmt"

	"github.com/spf13/afero"
)

// ChainError locates the first record that breaks the run chain.
type ChainError struct {
	Line   int
	Seq    uint64
	RunID  string
	Reason string
}

func (e *ChainError) Error() string {
	if e.RunID == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("line %d, run %s: %s", e.Line, e.RunID, e.Reason)
}

// Verify walks the run log and returns how many runs it holds. Every run
// must carry the next sequence number, link to the hash of the run before
// it and hash to its own recorded value; the first that does not is
// returned as a *ChainError. An empty log holds zero runs.
func Verify(fsys afero.Fs, path string) (int, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return 0, fmt.Errorf("audit: %w", err)
	}
	defer f.Close()

	runs := 0
	prev := seedHash()
	err = scanRuns(f, func(line int, e Entry) error {
		broken := func(format string, args ...any) error {
			return &ChainError{Line: line, Seq: e.Seq, RunID: e.RunID, Reason: fmt.Sprintf(format, args...)}
		}
		if want := uint64(runs) + 1; e.Seq != want {
			return broken("expected run #%d, found #%d", want, e.Seq)
		}
		if e.PrevHash != prev {
			return broken("links to %s but the previous run hashes to %s", short(e.PrevHash), short(prev))
		}
		if sum := digest(e); e.Hash != sum {
			return broken("record altered: contents hash to %s, recorded %s", short(sum), short(e.Hash))
		}
		prev = e.Hash
		runs++
		return nil
	})
	return runs, err
}

// Recent returns the last n runs in log order; n < 0 returns every run.
func Recent(fsys afero.Fs, path string, n int) ([]Entry, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	defer f.Close()

	var runs []Entry
	err = scanRuns(f, func(_ int, e Entry) error {
		runs = append(runs, e)
		if n >= 0 && len(runs) > n {
			runs = runs[1:]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

func short(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12]
}
