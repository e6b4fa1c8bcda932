package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

func parseShard(s string) (int, error) {
	shard, err := strconv.Atoi(s)
	if err != nil {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid shard %q: must be an integer", s))
	}
	return shard, nil
}

func parseAggregateID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, WrapExitError(ExitCommandError, fmt.Sprintf("invalid aggregate id %q", s), err)
	}
	if id == uuid.Nil {
		return uuid.Nil, NewExitError(ExitCommandError, "aggregate id must not be the nil UUID")
	}
	return id, nil
}

func parseSequence(s string) (int64, error) {
	seq, err := strconv.ParseInt(s, 10, 64)
	if err != nil || seq < 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid sequence %q: must be a non-negative integer", s))
	}
	return seq, nil
}

func parseInstant(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, WrapExitError(ExitCommandError, fmt.Sprintf("invalid instant %q: want RFC 3339", s), err)
	}
	return t, nil
}
