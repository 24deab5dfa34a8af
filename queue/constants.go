package queue

// MaxExpiredPerIter caps how many expired records a single poll call will
// surface into the caller's expired-out collection (§4.1, §4.6).
const MaxExpiredPerIter = 100_000

// SwapRecordBatch is both the trigger threshold for persisting the swap
// buffer (it fires once the buffer reaches this many records) and the
// size of each persisted batch (§4.1.2).
const SwapRecordBatch = 10_000

// DefaultSwapThreshold is the typical swap_threshold named in §3.
const DefaultSwapThreshold = 20_000

// lockContentionWarnThreshold is the write-lock hold duration above which
// a contention diagnostic is reported (§5: "the lock itself reports
// contention above 100 ms for diagnostics").
const lockContentionWarnThreshold = 100_000_000 // 100ms in nanoseconds
