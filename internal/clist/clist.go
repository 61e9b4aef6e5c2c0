// Package clist implements an index based doubly linked list. Nodes live in a
// fixed size arena described by [Links]; a [List] only stores its ends, so any
// number of lists may share one arena as long as each slot is a member of at
// most one list at a time. All operations are O(1) except traversal.
package clist

// Links holds the previous and next node indices of every slot in an arena.
// Indices are stored offset by one so that the zero value denotes "no node".
type Links struct {
	prev   []int32
	next   []int32
	linked []bool
}

// Reset sizes Links for an arena of n slots, unlinking every slot.
// Lists that referenced the previous arena must also be reset.
func (lk *Links) Reset(n int) {
	if cap(lk.prev) < n {
		lk.prev = make([]int32, n)
		lk.next = make([]int32, n)
		lk.linked = make([]bool, n)
		return
	}
	lk.prev = lk.prev[:n]
	lk.next = lk.next[:n]
	lk.linked = lk.linked[:n]
	clear(lk.prev)
	clear(lk.next)
	clear(lk.linked)
}

// Size returns the amount of slots in the arena.
func (lk *Links) Size() int { return len(lk.prev) }

// Linked reports whether slot i is a member of any list.
func (lk *Links) Linked(i int) bool { return lk.linked[i] }

func (lk *Links) link(i int) {
	if lk.linked[i] {
		panic("clist: node already linked")
	}
	lk.linked[i] = true
}

// List is a doubly linked list of arena slot indices. The zero value is an empty list.
type List struct {
	head int32
	tail int32
	n    int
}

// Len returns the amount of nodes in the list.
func (l *List) Len() int { return l.n }

// Front returns the first node of the list.
func (l *List) Front() (int, bool) { return int(l.head) - 1, l.head != 0 }

// Back returns the last node of the list.
func (l *List) Back() (int, bool) { return int(l.tail) - 1, l.tail != 0 }

// Next returns the node following i in the list i belongs to.
func (l *List) Next(lk *Links, i int) (int, bool) {
	nx := lk.next[i]
	return int(nx) - 1, nx != 0
}

// Prev returns the node preceding i in the list i belongs to.
func (l *List) Prev(lk *Links, i int) (int, bool) {
	pv := lk.prev[i]
	return int(pv) - 1, pv != 0
}

// PushBack appends slot i to the end of the list. Panics if i is already linked.
func (l *List) PushBack(lk *Links, i int) {
	lk.link(i)
	node := int32(i) + 1
	lk.prev[i] = l.tail
	lk.next[i] = 0
	if l.tail != 0 {
		lk.next[l.tail-1] = node
	} else {
		l.head = node
	}
	l.tail = node
	l.n++
}

// PushFront inserts slot i at the start of the list. Panics if i is already linked.
func (l *List) PushFront(lk *Links, i int) {
	lk.link(i)
	node := int32(i) + 1
	lk.next[i] = l.head
	lk.prev[i] = 0
	if l.head != 0 {
		lk.prev[l.head-1] = node
	} else {
		l.tail = node
	}
	l.head = node
	l.n++
}

// InsertAfter inserts slot i immediately after slot at, which must be a member of l.
func (l *List) InsertAfter(lk *Links, at, i int) {
	if !lk.linked[at] {
		panic("clist: insert after unlinked node")
	}
	if int(l.tail)-1 == at {
		l.PushBack(lk, i)
		return
	}
	lk.link(i)
	node := int32(i) + 1
	nx := lk.next[at]
	lk.prev[i] = int32(at) + 1
	lk.next[i] = nx
	lk.prev[nx-1] = node
	lk.next[at] = node
	l.n++
}

// InsertBefore inserts slot i immediately before slot at, which must be a member of l.
func (l *List) InsertBefore(lk *Links, at, i int) {
	if !lk.linked[at] {
		panic("clist: insert before unlinked node")
	}
	if int(l.head)-1 == at {
		l.PushFront(lk, i)
		return
	}
	lk.link(i)
	node := int32(i) + 1
	pv := lk.prev[at]
	lk.next[i] = int32(at) + 1
	lk.prev[i] = pv
	lk.next[pv-1] = node
	lk.prev[at] = node
	l.n++
}

// Remove unlinks slot i, which must be a member of l.
func (l *List) Remove(lk *Links, i int) {
	if !lk.linked[i] {
		panic("clist: remove unlinked node")
	}
	pv, nx := lk.prev[i], lk.next[i]
	if pv != 0 {
		lk.next[pv-1] = nx
	} else {
		l.head = nx
	}
	if nx != 0 {
		lk.prev[nx-1] = pv
	} else {
		l.tail = pv
	}
	lk.prev[i] = 0
	lk.next[i] = 0
	lk.linked[i] = false
	l.n--
}

// PopFront removes and returns the first node of the list.
func (l *List) PopFront(lk *Links) (int, bool) {
	i, ok := l.Front()
	if ok {
		l.Remove(lk, i)
	}
	return i, ok
}

// Contains reports whether slot i is a member of l. It traverses the list.
func (l *List) Contains(lk *Links, i int) bool {
	for n, ok := l.Front(); ok; n, ok = l.Next(lk, n) {
		if n == i {
			return true
		}
	}
	return false
}

// Reset empties the list without touching the arena. Only use when the arena is also reset.
func (l *List) Reset() { *l = List{} }
