package store

import "time"

// PendingOp is one optimistic operation awaiting its authoritative echo,
// keyed by the client-generated correlation id. Message sends are the main
// user today; any optimistic action can ride the same ledger.
type PendingOp struct {
	CorrelationID string
	ThreadID      string
	Kind          string
	CreatedAt     time.Time
}

// Ledger indexes pending operations by correlation id and by thread. It is
// not safe for concurrent use; the owning component's run loop serializes
// access.
type Ledger struct {
	byID     map[string]PendingOp
	byThread map[string]map[string]struct{}
}

// NewLedger builds an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		byID:     make(map[string]PendingOp),
		byThread: make(map[string]map[string]struct{}),
	}
}

// Add records a pending operation.
func (l *Ledger) Add(op PendingOp) {
	l.byID[op.CorrelationID] = op
	if _, ok := l.byThread[op.ThreadID]; !ok {
		l.byThread[op.ThreadID] = make(map[string]struct{})
	}
	l.byThread[op.ThreadID][op.CorrelationID] = struct{}{}
}

// Get looks up a pending operation by correlation id.
func (l *Ledger) Get(correlationID string) (PendingOp, bool) {
	op, ok := l.byID[correlationID]
	return op, ok
}

// Resolve removes a pending operation, reporting whether it existed.
func (l *Ledger) Resolve(correlationID string) bool {
	op, ok := l.byID[correlationID]
	if !ok {
		return false
	}
	delete(l.byID, correlationID)
	if ids, ok := l.byThread[op.ThreadID]; ok {
		delete(ids, correlationID)
		if len(ids) == 0 {
			delete(l.byThread, op.ThreadID)
		}
	}
	return true
}

// ThreadOps returns the correlation ids pending for a thread.
func (l *Ledger) ThreadOps(threadID string) []string {
	ids := make([]string, 0, len(l.byThread[threadID]))
	for id := range l.byThread[threadID] {
		ids = append(ids, id)
	}
	return ids
}

// DropThread discards every pending operation for a thread.
func (l *Ledger) DropThread(threadID string) {
	for id := range l.byThread[threadID] {
		delete(l.byID, id)
	}
	delete(l.byThread, threadID)
}

// Len reports the number of pending operations.
func (l *Ledger) Len() int {
	return len(l.byID)
}
