package position

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"time"

	"github.com/oklog/ulid/v2"
)

// Clock supplies the current instant for minting live positions.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Generator mints position tokens.
//
// Thread-safety: Generator is safe for concurrent use. The default entropy
// source is a locked monotonic reader, so tokens minted by one Generator in the
// same millisecond are strictly increasing.
type Generator struct {
	clock   Clock
	entropy io.Reader
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock sets the clock used by Now.
func WithClock(c Clock) Option {
	return func(g *Generator) { g.clock = c }
}

// WithEntropy replaces the entropy source. The reader must be safe for
// concurrent use if the Generator is shared.
func WithEntropy(r io.Reader) Option {
	return func(g *Generator) { g.entropy = r }
}

// NewGenerator creates a Generator using the wall clock and crypto/rand.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		clock: SystemClock{},
		entropy: &ulid.LockedMonotonicReader{
			MonotonicReader: ulid.Monotonic(rand.Reader, 0),
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Now mints a token from the generator's clock.
func (g *Generator) Now() Token {
	return g.Mint(g.clock.Now())
}

// Clock returns the generator's clock.
func (g *Generator) Clock() Clock {
	return g.clock
}

// Mint returns a token whose time prefix is instant truncated to milliseconds.
// Instants outside the representable range are clamped.
func (g *Generator) Mint(instant time.Time) Token {
	ms := Millis(instant)
	id, err := ulid.New(ms, g.entropy)
	if err != nil {
		// Monotonic overflow inside one millisecond; fresh randomness is still
		// correctly ordered by the time prefix.
		id = ulid.MustNew(ms, rand.Reader)
	}
	return Token(id)
}

// Derive builds a deterministic token from an instant and a counter. Derived
// tokens label rows that have no stored position yet and are never persisted.
func Derive(instant time.Time, n uint64) Token {
	var id ulid.ULID
	// SetTime only fails above MaxTime, which Millis already clamps.
	_ = id.SetTime(Millis(instant))
	binary.BigEndian.PutUint64(id[8:], n)
	return Token(id)
}

// Millis converts an instant to Unix milliseconds clamped to the token range.
func Millis(instant time.Time) uint64 {
	ms := instant.UnixMilli()
	if ms < 0 {
		return 0
	}
	if uint64(ms) > ulid.MaxTime() {
		return ulid.MaxTime()
	}
	return uint64(ms)
}
