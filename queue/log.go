package queue

import "github.com/flowcore/flowqueue/internal/qlog"

// queueLogger gives swap/drop/put/poll call sites semantic logging
// methods instead of scattering raw field maps through the core, the
// same way policy.BufferedPolicy's logDrop/logBufferOverflow/
// logFlushFailure helpers wrap its *log.Logger.
type queueLogger struct {
	l *qlog.Logger
}

func newQueueLogger(l *qlog.Logger) *queueLogger {
	if l == nil {
		l = qlog.New(qlog.QueueMeta{})
	}
	return &queueLogger{l: l}
}

func (q *queueLogger) swapOutFailed(queueID string, err error) {
	q.l.Error("swap_out failed", map[string]any{
		"queue_id": queueID,
		"error":    err.Error(),
	})
}

func (q *queueLogger) swapInFailed(queueID, location string, err error) {
	q.l.Error("swap_in failed", map[string]any{
		"queue_id": queueID,
		"location": location,
		"error":    err.Error(),
	})
}

func (q *queueLogger) swapLocationGone(queueID, location string, err error) {
	q.l.Error("swap location gone, dropping from replay list", map[string]any{
		"queue_id": queueID,
		"location": location,
		"error":    err.Error(),
	})
}

func (q *queueLogger) invariantViolation(queueID, detail string) {
	q.l.Warn("queue invariant violation, clamping counters", map[string]any{
		"queue_id": queueID,
		"detail":   detail,
	})
}

func (q *queueLogger) lockContention(queueID string, heldNanos int64) {
	q.l.Warn("write lock held beyond contention threshold", map[string]any{
		"queue_id":   queueID,
		"held_nanos": heldNanos,
	})
}

func (q *queueLogger) dropRequestFailed(queueID, requestID string, err error) {
	q.l.Error("drop request failed", map[string]any{
		"queue_id":   queueID,
		"request_id": requestID,
		"error":      err.Error(),
	})
}

func (q *queueLogger) dropPersistErrors(queueID, requestID string, err error) {
	q.l.Warn("drop request: some items failed to persist a deletion/provenance record", map[string]any{
		"queue_id":   queueID,
		"request_id": requestID,
		"error":      err.Error(),
	})
}
