package pipeline

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Side identifies one end of a channel.
type Side int

const (
	ReadSide Side = iota
	WriteSide
)

func (s Side) String() string {
	if s == ReadSide {
		return "read"
	}
	return "write"
}

// Endpoint is one end of a channel. The parent holds it only until every
// stage has been spawned; the child that binds it gets its own duplicate
// on fd 0 or fd 1.
type Endpoint struct {
	Channel int
	Side    Side
	file    *os.File
	closed  bool
}

// File returns the underlying descriptor, or nil once closed.
func (e *Endpoint) File() *os.File {
	if e == nil || e.closed {
		return nil
	}
	return e.file
}

// Closed reports whether the parent has released its copy.
func (e *Endpoint) Closed() bool {
	return e.closed
}

func (e *Endpoint) String() string {
	return fmt.Sprintf("channel %d %s end", e.Channel, e.Side)
}

// Close releases the parent's copy. Closing twice is a no-op.
func (e *Endpoint) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	return e.file.Close()
}

// Channel connects the stdout of stage Index to the stdin of stage Index+1.
type Channel struct {
	Index int
	Read  *Endpoint
	Write *Endpoint
}

// Bindings are the streams a stage keeps. Nil means the stage does not
// use a channel for that stream.
type Bindings struct {
	In  *Endpoint
	Out *Endpoint
}

// Plan owns the channels of one pipeline.
type Plan struct {
	stages   int
	channels []*Channel
}

// pipeFunc is swapped in tests to simulate descriptor exhaustion.
var pipeFunc = os.Pipe

// NewPlan allocates stages-1 channels before anything is spawned. On
// failure every channel allocated so far is closed and the error wraps
// ErrChannelAllocation.
func NewPlan(stages int) (*Plan, error) {
	p := &Plan{stages: stages}
	for i := 0; i < stages-1; i++ {
		r, w, err := pipeFunc()
		if err != nil {
			p.CloseAll()
			return nil, fmt.Errorf("%w: channel %d: %w", ErrChannelAllocation, i, err)
		}
		p.channels = append(p.channels, &Channel{
			Index: i,
			Read:  &Endpoint{Channel: i, Side: ReadSide, file: r},
			Write: &Endpoint{Channel: i, Side: WriteSide, file: w},
		})
	}
	return p, nil
}

// Channels returns the allocated channels in order.
func (p *Plan) Channels() []*Channel {
	return p.channels
}

// Endpoints returns every endpoint of every channel.
func (p *Plan) Endpoints() []*Endpoint {
	eps := make([]*Endpoint, 0, 2*len(p.channels))
	for _, c := range p.channels {
		eps = append(eps, c.Read, c.Write)
	}
	return eps
}

// Bindings returns the channel endpoints stage i wires to its streams:
// channel i-1's read end as stdin unless i is the first stage, channel
// i's write end as stdout unless i is the last.
func (p *Plan) Bindings(i int) Bindings {
	var b Bindings
	if i > 0 {
		b.In = p.channels[i-1].Read
	}
	if i < p.stages-1 {
		b.Out = p.channels[i].Write
	}
	return b
}

// Closures returns every endpoint stage i must not hold: all of them
// except its own bindings.
func (p *Plan) Closures(i int) []*Endpoint {
	b := p.Bindings(i)
	var out []*Endpoint
	for _, ep := range p.Endpoints() {
		if ep == b.In || ep == b.Out {
			continue
		}
		out = append(out, ep)
	}
	return out
}

// ErrInheritable marks an endpoint a child would inherit across exec.
var ErrInheritable = errors.New("endpoint would be inherited")

// Seal guarantees that no endpoint in eps survives exec: each descriptor
// must carry FD_CLOEXEC. os.Pipe sets the flag at creation, so Seal
// normally only confirms it; a descriptor found without it is marked and
// checked again, and one that still lacks it is an ErrInheritable error.
// The spawn primitive duplicates bound endpoints onto fd 0 and 1, which
// clears the flag on the duplicate only.
func Seal(eps []*Endpoint) error {
	var errs []error
	for _, ep := range eps {
		f := ep.File()
		if f == nil {
			continue
		}
		fd := f.Fd()
		sealed, err := closeOnExec(fd)
		if err == nil && !sealed {
			unix.CloseOnExec(int(fd))
			sealed, err = closeOnExec(fd)
		}
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("%s: %w", ep, err))
		case !sealed:
			errs = append(errs, fmt.Errorf("%s: %w", ep, ErrInheritable))
		}
	}
	return errors.Join(errs...)
}

func closeOnExec(fd uintptr) (bool, error) {
	flags, err := unix.FcntlInt(fd, unix.F_GETFD, 0)
	if err != nil {
		return false, err
	}
	return flags&unix.FD_CLOEXEC != 0, nil
}

// CloseAll closes the parent's copy of every endpoint.
func (p *Plan) CloseAll() error {
	var errs []error
	for _, c := range p.channels {
		for _, ep := range []*Endpoint{c.Read, c.Write} {
			if err := ep.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", ep, err))
			}
		}
	}
	return errors.Join(errs...)
}
