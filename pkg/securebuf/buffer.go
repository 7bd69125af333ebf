package securebuf

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
)

var (
	// ErrSealed is returned when a sealed buffer is asked to change.
	ErrSealed = errors.New("securebuf: buffer is sealed")
	// ErrDestroyed is returned when a destroyed buffer is used.
	ErrDestroyed = errors.New("securebuf: buffer is destroyed")
)

// chunkSize is the allocation granularity of the backing storage.
const chunkSize = 4096

// Buffer is an append-only sequence of character units, one per input byte.
//
// The zero value is an open, empty buffer. A Buffer must not be copied after
// first use.
type Buffer struct {
	mu        sync.RWMutex
	store     *storage
	cleanup   runtime.Cleanup
	sealed    bool
	destroyed bool
}

// storage is the backing memory. It is allocated separately from Buffer so a
// cleanup attached to an unreachable Buffer can still scrub it.
type storage struct {
	data   []byte
	locked bool
}

// New returns an open buffer with room for at least capacity units before
// its storage has to grow.
func New(capacity int) *Buffer {
	b := &Buffer{}
	if capacity > 0 {
		b.grow(capacity)
	}
	return b
}

// AppendByte appends a single character unit.
func (b *Buffer) AppendByte(c byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.writableLocked(); err != nil {
		return err
	}
	if b.store == nil || len(b.store.data) == cap(b.store.data) {
		b.grow(1)
	}
	b.store.data = append(b.store.data, c)
	return nil
}

// Append appends one character unit per byte of p. Callers remain
// responsible for wiping p.
func (b *Buffer) Append(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.writableLocked(); err != nil {
		return err
	}
	if b.store == nil || cap(b.store.data)-len(b.store.data) < len(p) {
		b.grow(len(p))
	}
	b.store.data = append(b.store.data, p...)
	return nil
}

// Seal makes the buffer read-only. Sealing an already sealed or destroyed
// buffer is a no-op.
func (b *Buffer) Seal() {
	b.mu.Lock()
	b.sealed = true
	b.mu.Unlock()
}

// IsSealed reports whether Seal has been called.
func (b *Buffer) IsSealed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sealed
}

// Len returns the number of character units held.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lenLocked()
}

// Locked reports whether the backing storage is currently locked into RAM.
func (b *Buffer) Locked() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.store != nil && b.store.locked
}

// WithBytes calls fn with a read-only view of the content. The slice aliases
// the protected storage and must not be retained or modified after fn
// returns.
func (b *Buffer) WithBytes(fn func(p []byte) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.destroyed {
		return ErrDestroyed
	}
	if b.store == nil {
		return fn(nil)
	}
	data := b.store.data
	return fn(data[:len(data):len(data)])
}

// Bytes returns a copy of the content. The copy is outside the protected
// storage; wipe it with Wipe when done.
func (b *Buffer) Bytes() ([]byte, error) {
	var out []byte
	err := b.WithBytes(func(p []byte) error {
		out = make([]byte, len(p))
		copy(out, p)
		return nil
	})
	return out, err
}

// Runes returns the content widened to one rune per stored byte (Latin-1).
func (b *Buffer) Runes() ([]rune, error) {
	var out []rune
	err := b.WithBytes(func(p []byte) error {
		out = make([]rune, len(p))
		for i, c := range p {
			out[i] = rune(c)
		}
		return nil
	})
	return out, err
}

// Equal reports, in constant time for equal lengths, whether the content
// equals p. A destroyed buffer equals nothing.
func (b *Buffer) Equal(p []byte) bool {
	equal := false
	_ = b.WithBytes(func(data []byte) error {
		equal = subtle.ConstantTimeCompare(data, p) == 1
		return nil
	})
	return equal
}

// WriteTo writes the content to w. It implements io.WriterTo.
func (b *Buffer) WriteTo(w io.Writer) (int64, error) {
	var n int
	err := b.WithBytes(func(p []byte) error {
		var werr error
		n, werr = w.Write(p)
		return werr
	})
	return int64(n), err
}

// Destroy zeroes and releases the backing storage. The buffer is sealed as a
// side effect. Destroy is idempotent.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return
	}
	if b.store != nil {
		b.cleanup.Stop()
		b.store.release()
		b.store = nil
	}
	b.sealed = true
	b.destroyed = true
}

// IsDestroyed reports whether Destroy has been called.
func (b *Buffer) IsDestroyed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.destroyed
}

// String implements fmt.Stringer without revealing content.
func (b *Buffer) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	state := "open"
	switch {
	case b.destroyed:
		state = "destroyed"
	case b.sealed:
		state = "sealed"
	}
	return fmt.Sprintf("securebuf.Buffer(len=%d, %s)", b.lenLocked(), state)
}

func (b *Buffer) lenLocked() int {
	if b.store == nil {
		return 0
	}
	return len(b.store.data)
}

func (b *Buffer) writableLocked() error {
	if b.destroyed {
		return ErrDestroyed
	}
	if b.sealed {
		return ErrSealed
	}
	return nil
}

// grow moves the content into fresh storage with room for n more units and
// scrubs the old storage. The first call attaches a cleanup that scrubs the
// storage if the Buffer is dropped without Destroy.
func (b *Buffer) grow(n int) {
	if b.store == nil {
		b.store = &storage{}
		b.cleanup = runtime.AddCleanup(b, (*storage).release, b.store)
	}
	s := b.store

	need := len(s.data) + n
	size := ((need + chunkSize - 1) / chunkSize) * chunkSize
	if size < 2*cap(s.data) {
		size = 2 * cap(s.data)
	}

	next := make([]byte, len(s.data), size)
	locked := lockMemory(next[:cap(next)])
	copy(next, s.data)

	s.release()
	s.data = next
	s.locked = locked
}

// release wipes the whole backing array, not just the used prefix, and
// unlocks it. It is safe to call more than once.
func (s *storage) release() {
	if cap(s.data) == 0 {
		return
	}
	full := s.data[:cap(s.data)]
	Wipe(full)
	if s.locked {
		unlockMemory(full)
		s.locked = false
	}
	s.data = s.data[:0]
}

// Wipe overwrites p with zeros.
func Wipe(p []byte) {
	clear(p)
	runtime.KeepAlive(p)
}
