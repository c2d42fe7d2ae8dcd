package descriptor

// OpQueue is the ordered, consumable operation list of a test.
type OpQueue struct {
	ops  []Op
	head int
}

// NewOpQueue wraps ops in a queue.
func NewOpQueue(ops []Op) *OpQueue {
	return &OpQueue{ops: ops}
}

// Len returns the number of operations not yet consumed.
func (q *OpQueue) Len() int {
	if q == nil {
		return 0
	}
	return len(q.ops) - q.head
}

// Front returns the next operation without consuming it, or nil when empty.
func (q *OpQueue) Front() Op {
	if q.Len() == 0 {
		return nil
	}
	return q.ops[q.head]
}

// Pop consumes the front operation. It is a no-op on an empty queue.
func (q *OpQueue) Pop() {
	if q.Len() == 0 {
		return
	}
	q.ops[q.head] = nil
	q.head++
}

// Remaining returns the unconsumed operations in order.
func (q *OpQueue) Remaining() []Op {
	if q.Len() == 0 {
		return nil
	}
	return append([]Op(nil), q.ops[q.head:]...)
}
