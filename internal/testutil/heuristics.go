package testutil

import "time"

// AsyncTimeout bounds waits on scheduler tasks and host loops. Tasks in tests
// finish in microseconds; the margin absorbs slow CI runners under -race.
const AsyncTimeout = 5 * time.Second

// PollingInterval is the default interval between checks in Poll and
// WaitForState.
const PollingInterval = 5 * time.Millisecond

// TickPeriod is the period used by tests that drive a tree with a ticker.
const TickPeriod = 2 * time.Millisecond
