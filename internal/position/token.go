package position

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Size is the encoded length of a token in bytes.
const Size = 16

// ErrInvalidCursor is returned when a cursor cannot be decoded into a token.
var ErrInvalidCursor = errors.New("invalid cursor")

// Token is a position in a shard's feed.
type Token ulid.ULID

// Zero is the cursor that reads from the beginning of a shard.
var Zero Token

// FromBytes decodes a raw cursor. An empty cursor is Zero.
func FromBytes(b []byte) (Token, error) {
	switch len(b) {
	case 0:
		return Zero, nil
	case Size:
		var t Token
		copy(t[:], b)
		return t, nil
	default:
		return Zero, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidCursor, Size, len(b))
	}
}

// Parse decodes a textual cursor. It accepts the empty string (Zero), the
// 26-character ULID form and the 32-character hex form.
func Parse(s string) (Token, error) {
	switch len(s) {
	case 0:
		return Zero, nil
	case ulid.EncodedSize:
		id, err := ulid.ParseStrict(s)
		if err != nil {
			return Zero, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
		}
		return Token(id), nil
	case hex.EncodedLen(Size):
		b, err := hex.DecodeString(s)
		if err != nil {
			return Zero, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
		}
		return FromBytes(b)
	default:
		return Zero, fmt.Errorf("%w: unrecognized length %d", ErrInvalidCursor, len(s))
	}
}

// Compare returns -1, 0 or +1 comparing t and o byte-wise.
func (t Token) Compare(o Token) int {
	return bytes.Compare(t[:], o[:])
}

// Less reports whether t sorts before o.
func (t Token) Less(o Token) bool {
	return t.Compare(o) < 0
}

// IsZero reports whether t is the zero cursor.
func (t Token) IsZero() bool {
	return t == Zero
}

// Bytes returns a copy of the token's 16 bytes.
func (t Token) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, t[:])
	return b
}

// Time returns the millisecond timestamp encoded in the token prefix.
func (t Token) Time() time.Time {
	return ulid.Time(ulid.ULID(t).Time()).UTC()
}

// String returns the 26-character ULID text form.
func (t Token) String() string {
	return ulid.ULID(t).String()
}

// Hex returns the 32-character lowercase hex form.
func (t Token) Hex() string {
	return hex.EncodeToString(t[:])
}

// Next returns the token immediately after t in byte order. ok is false when
// t is the largest possible token.
func (t Token) Next() (next Token, ok bool) {
	next = t
	for i := Size - 1; i >= 0; i-- {
		next[i]++
		if next[i] != 0 {
			return next, true
		}
	}
	return t, false
}

// MarshalText implements encoding.TextMarshaler using the ULID form.
func (t Token) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, accepting any form Parse does.
func (t *Token) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
