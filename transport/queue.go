package transport

// msgQueue is a FIFO of messages stored in fixed size slots allocated once.
type msgQueue struct {
	slots [][]byte
	lens  []int
	head  int
	n     int
}

func newMsgQueue(capacity, mtu int) msgQueue {
	q := msgQueue{
		slots: make([][]byte, capacity),
		lens:  make([]int, capacity),
	}
	for i := range q.slots {
		q.slots[i] = make([]byte, mtu)
	}
	return q
}

func (q *msgQueue) full() bool { return q.n == len(q.slots) }

func (q *msgQueue) len() int { return q.n }

// push copies msg into the next free slot. It returns false when full or when
// msg does not fit a slot.
func (q *msgQueue) push(msg []byte) bool {
	if q.full() || len(q.slots) == 0 || len(msg) > len(q.slots[0]) {
		return false
	}
	i := (q.head + q.n) % len(q.slots)
	q.lens[i] = copy(q.slots[i], msg)
	q.n++
	return true
}

// pop copies the oldest message into dst and returns the amount of bytes copied.
func (q *msgQueue) pop(dst []byte) (int, bool) {
	if q.n == 0 {
		return 0, false
	}
	n := copy(dst, q.slots[q.head][:q.lens[q.head]])
	q.head = (q.head + 1) % len(q.slots)
	q.n--
	return n, true
}
