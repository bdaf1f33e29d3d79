package events

import (
	"time"

	"google.golang.org/grpc/codes"
)

// StoreCallStart is emitted before a remote storage call.
type StoreCallStart struct {
	// Call correlates the start and finish events of one call.
	Call   uint64
	Entity string
	Target string
	Batch  bool
}

// StoreCallFinish is emitted after a remote storage call completes.
type StoreCallFinish struct {
	Call     uint64
	Entity   string
	Target   string
	Rows     int
	Code     codes.Code
	Err      error
	Duration time.Duration
}
