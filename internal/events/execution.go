package events

import "time"

// ExecutionStart is emitted before executing a resolution tree.
type ExecutionStart struct {
	Query         string
	OperationName string
}

// ExecutionFinish is emitted after executing a resolution tree.
type ExecutionFinish struct {
	Query         string
	OperationName string
	Errors        []error
	Ticks         int
	Duration      time.Duration
}

// FlushStart is emitted when the scheduler drains one tick.
type FlushStart struct {
	Tick    int
	Batches int
	Queries int
}

// FlushFinish is emitted after every storage call of the tick returned.
type FlushFinish struct {
	Tick     int
	Calls    int
	Failed   int
	Duration time.Duration
}

// FetchStart is emitted before the scheduler calls an entity fetch function.
type FetchStart struct {
	Tick   int
	Entity string
	// Keys is the number of merged keys; zero for a collection query.
	Keys int
}

// FetchFinish is emitted after an entity fetch function returns.
type FetchFinish struct {
	Tick     int
	Entity   string
	Keys     int
	Rows     int
	Err      error
	Duration time.Duration
}
