package secureclient

import (
	"errors"
	"io"
	"time"

	"github.com/polisai/polis-secureclient/pkg/securebuf"
)

// deadlineReader is the part of a TLS stream the accumulator reads from.
type deadlineReader interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// accumulator copies a response into a securebuf.Buffer one byte per read.
//
// The byte just read lives in scratch, a single heap slot that stays at the
// same address for the whole loop and is zeroed once the loop ends.
type accumulator struct {
	src         deadlineReader
	release     func() error
	readTimeout time.Duration
	strict      bool

	scratch *[1]byte
	buf     *securebuf.Buffer

	received int
	stalled  bool
	done     bool
	closeErr error
}

func newAccumulator(src deadlineReader, release func() error, readTimeout time.Duration, strict bool) *accumulator {
	return &accumulator{
		src:         src,
		release:     release,
		readTimeout: readTimeout,
		strict:      strict,
		scratch:     new([1]byte),
		buf:         securebuf.New(0),
	}
}

// run reads until EOF or, unless strict, until a read stalls past the read
// timeout. It returns the sealed buffer. Any other read error destroys the
// buffer and is returned as is.
func (a *accumulator) run() (*securebuf.Buffer, error) {
	ok := false
	defer func() { a.complete(ok) }()

	for {
		if err := a.src.SetReadDeadline(time.Now().Add(a.readTimeout)); err != nil {
			return nil, err
		}

		n, err := a.src.Read(a.scratch[:])
		if n == 1 {
			if appendErr := a.buf.AppendByte(a.scratch[0]); appendErr != nil {
				return nil, appendErr
			}
			a.received++
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if isTimeout(err) && !a.strict {
			a.stalled = true
			break
		}
		return nil, err
	}

	ok = true
	return a.buf, nil
}

// complete tears the call down exactly once: close the TLS stream, close
// the connection, wipe scratch, then seal the buffer (or destroy it when the
// response is discarded).
func (a *accumulator) complete(keep bool) {
	if a.done {
		return
	}
	a.done = true

	a.closeErr = a.release()
	securebuf.Wipe(a.scratch[:])
	if keep {
		a.buf.Seal()
	} else {
		a.buf.Destroy()
	}
}
