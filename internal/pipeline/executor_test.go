package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/creack/pty"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sys/unix"
)

func newTestExecutor(t *testing.T) (*Executor, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	return &Executor{
		Stdout: &stdout,
		Stderr: &stderr,
		Logger: zaptest.NewLogger(t),
	}, &stdout, &stderr
}

func requireTools(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			t.Skipf("%s not on PATH", name)
		}
	}
}

func TestRunGolden(t *testing.T) {
	requireTools(t, "echo", "tr", "seq", "sort", "printf", "tac", "head")

	g := goldie.New(t,
		goldie.WithFixtureDir(filepath.Join("testdata", "golden")),
		goldie.WithDiffEngine(goldie.ColoredDiff),
	)
	cases := []struct {
		name   string
		stages []string
	}{
		{"echo_hi", []string{"echo hi"}},
		{"echo_upper", []string{"echo hi", "tr a-z A-Z"}},
		{"seq_sort_reverse", []string{"seq 1 5", "sort -rn"}},
		{"printf_tac_head", []string{`printf a\nb\nc\n`, "tac", "head -n 2"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, stdout, stderr := newTestExecutor(t)
			rep, err := e.Run(tc.stages)
			require.NoError(t, err)
			assert.Empty(t, stderr.String())
			assert.Empty(t, rep.Failed())
			assert.Len(t, rep.Pids(), len(tc.stages))
			assert.Equal(t, len(tc.stages)-1, rep.Channels)
			g.Assert(t, tc.name, stdout.Bytes())
		})
	}
}

func TestRunNoStages(t *testing.T) {
	e, stdout, stderr := newTestExecutor(t)
	rep, err := e.Run(nil)
	require.NoError(t, err)
	assert.Empty(t, rep.Stages)
	assert.Empty(t, stdout.String())
	assert.Empty(t, stderr.String())
}

func TestRunPreservesByteOrder(t *testing.T) {
	requireTools(t, "seq", "cat")

	var want strings.Builder
	for i := 1; i <= 20000; i++ {
		fmt.Fprintf(&want, "%d\n", i)
	}

	e, stdout, _ := newTestExecutor(t)
	rep, err := e.Run([]string{"seq 1 20000", "cat", "cat"})
	require.NoError(t, err)
	assert.Empty(t, rep.Failed())
	assert.Equal(t, want.String(), stdout.String())
}

func TestRunFileRedirects(t *testing.T) {
	requireTools(t, "sort")
	dir := t.TempDir()
	in := filepath.Join(dir, "unsorted.txt")
	out := filepath.Join(dir, "sorted.txt")
	require.NoError(t, os.WriteFile(in, []byte("pear\napple\nfig\n"), 0o644))

	e, stdout, _ := newTestExecutor(t)
	rep, err := e.Run([]string{fmt.Sprintf("sort < %s > %s", in, out)})
	require.NoError(t, err)
	assert.Empty(t, rep.Failed())
	assert.Empty(t, stdout.String())

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "apple\nfig\npear\n", string(got))

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Zero(t, info.Mode().Perm()&^OutputFileMode, "mode %v", info.Mode().Perm())
}

func TestRunOutputRedirectTruncates(t *testing.T) {
	requireTools(t, "echo")
	out := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, os.WriteFile(out, []byte("a much longer previous content\n"), 0o644))

	e, _, _ := newTestExecutor(t)
	_, err := e.Run([]string{"echo new > " + out})
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "new\n", string(got))
}

func TestRunInputRedirectWinsOverChannel(t *testing.T) {
	requireTools(t, "echo", "cat")
	in := filepath.Join(t.TempDir(), "in.txt")
	require.NoError(t, os.WriteFile(in, []byte("from file\n"), 0o644))

	e, stdout, _ := newTestExecutor(t)
	_, err := e.Run([]string{"echo from channel", "cat < " + in})
	require.NoError(t, err)
	assert.Equal(t, "from file\n", stdout.String())
}

func TestRunOutputRedirectWinsOverChannel(t *testing.T) {
	requireTools(t, "echo", "cat")
	out := filepath.Join(t.TempDir(), "out.txt")

	e, stdout, _ := newTestExecutor(t)
	rep, err := e.Run([]string{"echo hi > " + out, "cat"})
	require.NoError(t, err)
	assert.Empty(t, rep.Failed())
	assert.Empty(t, stdout.String())

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(got))
}

func TestRunProgramNotFound(t *testing.T) {
	requireTools(t, "echo")
	e, stdout, stderr := newTestExecutor(t)
	rep, err := e.Run([]string{"vssh-no-such-program --flag", "echo sibling"})
	require.NoError(t, err)

	assert.Equal(t, "sibling\n", stdout.String())
	assert.Contains(t, stderr.String(), "vssh: vssh-no-such-program --flag:")
	assert.Contains(t, stderr.String(), ErrExec.Error())

	failed := rep.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, 0, failed[0].Index)
	assert.False(t, failed[0].Spawned())
	assert.ErrorIs(t, failed[0].Err, ErrExec)
	assert.ErrorIs(t, failed[0].Err, exec.ErrNotFound)

	var se *StageError
	require.True(t, errors.As(failed[0].Err, &se))
	assert.Equal(t, 0, se.Stage)
}

func TestRunMiddleStageFailureClosesItsEndpoints(t *testing.T) {
	requireTools(t, "yes", "cat")

	// yes never stops on its own: it must see EPIPE once the failed
	// middle stage's read end is gone, and cat must see end-of-stream.
	e, stdout, _ := newTestExecutor(t)
	rep, err := e.Run([]string{"yes", "vssh-no-such-program", "cat"})
	require.NoError(t, err)
	assert.Empty(t, stdout.String())
	assert.Len(t, rep.Pids(), 2)
	assert.ErrorIs(t, rep.Stages[1].Err, ErrExec)
}

func TestRunProgramExitStatus(t *testing.T) {
	requireTools(t, "cat")
	e, stdout, stderr := newTestExecutor(t)
	rep, err := e.Run([]string{"cat nonexistent.txt"})
	require.NoError(t, err)

	assert.Empty(t, stdout.String())
	// The diagnostic is cat's own; vssh adds nothing for a clean exit.
	assert.Contains(t, stderr.String(), "nonexistent.txt")
	assert.NotContains(t, stderr.String(), "vssh:")
	assert.Empty(t, rep.Failed())
	assert.True(t, rep.Stages[0].Spawned())
	assert.NotEqual(t, 0, rep.Stages[0].ExitCode)
}

func TestRunRedirectOpenFailed(t *testing.T) {
	requireTools(t, "cat", "echo")
	missing := filepath.Join(t.TempDir(), "missing", "in.txt")

	e, stdout, stderr := newTestExecutor(t)
	rep, err := e.Run([]string{"cat < " + missing, "echo after"})
	require.NoError(t, err)

	assert.Equal(t, "after\n", stdout.String())
	assert.Contains(t, stderr.String(), ErrRedirectOpen.Error())
	assert.False(t, rep.Stages[0].Spawned())
	assert.ErrorIs(t, rep.Stages[0].Err, ErrRedirectOpen)
	assert.ErrorIs(t, rep.Stages[0].Err, os.ErrNotExist)
}

func TestRunEmptyStageIsSkipped(t *testing.T) {
	requireTools(t, "echo")
	out := filepath.Join(t.TempDir(), "only.txt")

	e, stdout, stderr := newTestExecutor(t)
	rep, err := e.Run([]string{"   ", "> " + out, "echo still here"})
	require.NoError(t, err)

	assert.Equal(t, "still here\n", stdout.String())
	assert.Empty(t, stderr.String())
	assert.Empty(t, rep.Failed())
	assert.ErrorIs(t, rep.Stages[0].Err, ErrEmptyCommand)
	assert.ErrorIs(t, rep.Stages[1].Err, ErrEmptyCommand)
	assert.NoFileExists(t, out)
}

func TestRunPolicyDenied(t *testing.T) {
	requireTools(t, "echo")
	e, stdout, stderr := newTestExecutor(t)
	e.Policy = checkerFunc(func(c *Command) error {
		if c.Name == "rm" {
			return fmt.Errorf("%s is not allowed", c.Name)
		}
		return nil
	})

	rep, err := e.Run([]string{"rm -rf /nowhere", "echo ok"})
	require.NoError(t, err)
	assert.Equal(t, "ok\n", stdout.String())
	assert.Contains(t, stderr.String(), "rm is not allowed")
	assert.ErrorIs(t, rep.Stages[0].Err, ErrPolicyDenied)
	assert.False(t, rep.Stages[0].Spawned())
}

func TestRunReapsEveryChild(t *testing.T) {
	requireTools(t, "echo", "cat")
	e, _, _ := newTestExecutor(t)
	rep, err := e.Run([]string{"echo a", "cat", "cat", "cat"})
	require.NoError(t, err)

	pids := rep.Pids()
	require.Len(t, pids, 4)
	for _, pid := range pids {
		var ws unix.WaitStatus
		_, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
		assert.ErrorIs(t, err, unix.ECHILD, "pid %d not reaped", pid)
	}
}

func TestRunReleasesDescriptors(t *testing.T) {
	requireTools(t, "echo", "cat")
	if _, err := os.Stat("/proc/self/fd"); err != nil {
		t.Skip("no /proc/self/fd")
	}
	countFDs := func() int {
		entries, err := os.ReadDir("/proc/self/fd")
		require.NoError(t, err)
		return len(entries)
	}

	e, _, _ := newTestExecutor(t)
	before := countFDs()
	_, err := e.Run([]string{"echo a", "cat", "cat", "vssh-no-such-program", "cat"})
	require.NoError(t, err)
	assert.Equal(t, before, countFDs())
}

func TestRunChannelAllocationFailed(t *testing.T) {
	orig := pipeFunc
	t.Cleanup(func() { pipeFunc = orig })
	calls := 0
	pipeFunc = func() (*os.File, *os.File, error) {
		calls++
		if calls > 1 {
			return nil, nil, syscall.EMFILE
		}
		return orig()
	}

	e, stdout, stderr := newTestExecutor(t)
	rep, err := e.Run([]string{"echo a", "cat", "cat"})
	require.ErrorIs(t, err, ErrChannelAllocation)
	assert.Empty(t, rep.Pids())
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), ErrChannelAllocation.Error())
}

func TestRunStreamSetupFailed(t *testing.T) {
	orig := adapterPipe
	t.Cleanup(func() { adapterPipe = orig })
	adapterPipe = func() (*os.File, *os.File, error) {
		return nil, nil, syscall.EMFILE
	}

	e, stdout, stderr := newTestExecutor(t)
	rep, err := e.Run([]string{"echo a", "cat"})
	require.ErrorIs(t, err, ErrStreamSetup)
	assert.NotErrorIs(t, err, ErrChannelAllocation)
	assert.ErrorIs(t, err, syscall.EMFILE)
	assert.Empty(t, rep.Pids())
	assert.Zero(t, rep.Channels)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), ErrStreamSetup.Error())
}

func TestRunChildHoldsOnlyItsOwnDescriptors(t *testing.T) {
	requireTools(t, "ls", "true", "cat")
	if _, err := os.Stat("/proc/self/fd"); err != nil {
		t.Skip("no /proc/self/fd")
	}
	// ls itself holds fd 3 while reading the directory.
	cases := map[string][]string{
		"first":  {"ls /proc/self/fd", "cat", "cat"},
		"middle": {"true", "ls /proc/self/fd", "cat", "cat"},
		"last":   {"true", "cat", "ls /proc/self/fd"},
	}
	for name, stages := range cases {
		t.Run(name, func(t *testing.T) {
			e, stdout, stderr := newTestExecutor(t)
			rep, err := e.Run(stages)
			require.NoError(t, err)
			assert.Empty(t, rep.Failed())
			assert.Empty(t, stderr.String())
			assert.Equal(t, "0\n1\n2\n3\n", stdout.String())
		})
	}
}

func TestRunDirAndEnv(t *testing.T) {
	requireTools(t, "pwd", "env")
	dir := t.TempDir()
	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)

	e, stdout, _ := newTestExecutor(t)
	e.Dir = dir
	_, err = e.Run([]string{"pwd"})
	require.NoError(t, err)
	assert.Equal(t, want+"\n", stdout.String())

	stdout.Reset()
	e.Env = []string{"VSSH_TEST=1"}
	_, err = e.Run([]string{"env"})
	require.NoError(t, err)
	assert.Equal(t, "VSSH_TEST=1\n", stdout.String())
}

func TestRunReadsCallerStdin(t *testing.T) {
	requireTools(t, "tr")
	e, stdout, _ := newTestExecutor(t)
	e.Stdin = strings.NewReader("shout\n")
	_, err := e.Run([]string{"tr a-z A-Z"})
	require.NoError(t, err)
	assert.Equal(t, "SHOUT\n", stdout.String())
}

func TestRunInheritsTerminal(t *testing.T) {
	requireTools(t, "test", "true")
	ptmx, tty, err := pty.Open()
	if err != nil {
		t.Skipf("no pty: %v", err)
	}
	t.Cleanup(func() {
		tty.Close()
		ptmx.Close()
	})

	e := &Executor{Stdin: tty, Stdout: tty, Stderr: tty, Logger: zaptest.NewLogger(t)}

	// A lone stage keeps the terminal on both ends.
	rep, err := e.Run([]string{"test -t 0 -a -t 1"})
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Stages[0].ExitCode)

	// Inside a pipeline stdin comes from a channel instead.
	rep, err = e.Run([]string{"true", "test -t 0"})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Stages[1].ExitCode)
}

type checkerFunc func(c *Command) error

func (f checkerFunc) Check(c *Command) error { return f(c) }
