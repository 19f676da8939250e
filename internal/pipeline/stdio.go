package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"sync"
)

// adapterPipe is swapped in tests to make stream setup fail.
var adapterPipe = os.Pipe

// stdio adapts the caller's streams into descriptors a child can inherit.
// *os.File values pass through untouched; anything else is fronted by a
// pipe and a copy goroutine, so children never share a Go writer.
type stdio struct {
	in, out, err *os.File

	// Parent copies that must be released once every stage is spawned.
	parentEnds []*os.File
	copiers    sync.WaitGroup
}

func newStdio(stdin io.Reader, stdout, stderr io.Writer) (*stdio, error) {
	s := &stdio{}
	var err error
	if s.in, err = s.reader(stdin); err != nil {
		s.finish()
		return nil, err
	}
	if s.out, err = s.writer(stdout); err != nil {
		s.finish()
		return nil, err
	}
	if sameWriter(stdout, stderr) {
		s.err = s.out
	} else if s.err, err = s.writer(stderr); err != nil {
		s.finish()
		return nil, err
	}
	return s, nil
}

func (s *stdio) reader(r io.Reader) (*os.File, error) {
	switch r := r.(type) {
	case nil:
		return nil, nil
	case *os.File:
		return r, nil
	}
	pr, pw, err := adapterPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin adapter: %w", err)
	}
	s.parentEnds = append(s.parentEnds, pr)
	// Not joined: the source may block forever. The copy ends with EPIPE
	// once the parent releases pr and no stage holds it.
	go func() {
		io.Copy(pw, r)
		pw.Close()
	}()
	return pr, nil
}

func (s *stdio) writer(w io.Writer) (*os.File, error) {
	switch w := w.(type) {
	case nil:
		return nil, nil
	case *os.File:
		return w, nil
	}
	pr, pw, err := adapterPipe()
	if err != nil {
		return nil, fmt.Errorf("output adapter: %w", err)
	}
	s.parentEnds = append(s.parentEnds, pw)
	s.copiers.Add(1)
	go func() {
		defer s.copiers.Done()
		io.Copy(w, pr)
		pr.Close()
	}()
	return pw, nil
}

// reportf writes a diagnostic on the error stream.
func (s *stdio) reportf(format string, args ...any) {
	if s.err == nil {
		return
	}
	fmt.Fprintf(s.err, format, args...)
}

// finish releases the parent's adapter ends and waits until everything
// the children wrote has been copied out.
func (s *stdio) finish() error {
	var errs []error
	for _, f := range s.parentEnds {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.parentEnds = nil
	s.copiers.Wait()
	return errors.Join(errs...)
}

func sameWriter(a, b io.Writer) bool {
	if a == nil || b == nil {
		return false
	}
	if !reflect.TypeOf(a).Comparable() || !reflect.TypeOf(b).Comparable() {
		return false
	}
	return a == b
}
