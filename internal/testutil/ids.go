package testutil

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// AggregateID returns a stable UUID for test aggregate n.
//
// The value is a valid version 4 layout with n in the low bytes, so golden
// output stays readable: AggregateID(1) is 00000000-0000-4000-8000-000000000001.
func AggregateID(n uint64) uuid.UUID {
	var id uuid.UUID
	binary.BigEndian.PutUint64(id[8:], n)
	id[6] = 0x40
	id[8] |= 0x80
	return id
}
