// Package jobid mints job identifiers.
//
// An ID is 16 bytes: the low 48 bits of the Unix millisecond timestamp,
// a 16-bit counter that restarts whenever the timestamp advances, and 8
// bytes from a cryptographic source. IDs sort roughly by creation time
// and cannot be guessed.
package jobid

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"
)

// Size is the length of an ID in bytes.
const Size = 16

const timestampMask = 1<<48 - 1

// ID is a job identifier.
type ID [Size]byte

// String renders the ID as 32 lowercase hex characters.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Millis returns the encoded millisecond timestamp.
func (id ID) Millis() int64 {
	var buf [8]byte
	copy(buf[2:], id[:6])
	return int64(binary.BigEndian.Uint64(buf[:]))
}

// Counter returns the per-millisecond sequence number.
func (id ID) Counter() uint16 {
	return binary.BigEndian.Uint16(id[6:8])
}

// Time returns the encoded creation time.
func (id ID) Time() time.Time {
	return time.UnixMilli(id.Millis())
}

// Parse decodes a hex rendered ID.
func Parse(s string) (ID, error) {
	var id ID
	if len(s) != 2*Size {
		return id, fmt.Errorf("job id must be %d hex characters, got %d", 2*Size, len(s))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("job id is not hex: %w", err)
	}
	return id, nil
}

// Generator mints IDs. It is safe for concurrent use.
type Generator struct {
	mu      sync.Mutex
	last    int64
	counter uint16
	now     func() time.Time
	entropy io.Reader
}

// Option customises a Generator.
type Option func(*Generator)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithEntropy replaces crypto/rand as the random source.
func WithEntropy(r io.Reader) Option {
	return func(g *Generator) { g.entropy = r }
}

// New creates a Generator.
func New(opts ...Option) *Generator {
	g := &Generator{
		now:     time.Now,
		entropy: rand.Reader,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Next returns a fresh ID.
func (g *Generator) Next() (ID, error) {
	var id ID

	g.mu.Lock()
	ms := g.now().UnixMilli() & timestampMask
	switch {
	case ms > g.last:
		g.last = ms
		g.counter = 0
	case g.counter == 1<<16-1:
		// Counter exhausted for this millisecond: borrow the next one.
		g.last = (g.last + 1) & timestampMask
		g.counter = 0
	default:
		// Same millisecond, or the clock stepped backwards.
		g.counter++
	}
	ts, seq := g.last, g.counter
	g.mu.Unlock()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(ts))
	copy(id[:6], buf[2:])
	binary.BigEndian.PutUint16(id[6:8], seq)

	if _, err := io.ReadFull(g.entropy, id[8:]); err != nil {
		return ID{}, fmt.Errorf("read entropy: %w", err)
	}
	return id, nil
}
