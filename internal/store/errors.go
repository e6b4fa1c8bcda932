package store

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

// IsTransient reports whether err is a lock or busy failure that may succeed
// on retry. The store never retries on its own.
func IsTransient(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}
