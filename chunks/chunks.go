// Package chunks implements the byte range tracker used by CFDP transactions to
// record which parts of a file were received (or are pending retransmission)
// and to compute the gaps between them.
package chunks

import "sort"

// Chunk is a contiguous byte range [Offset, Offset+Size).
type Chunk struct {
	Offset uint32
	Size   uint32
}

// End returns the offset one past the last byte of the chunk.
func (c Chunk) End() uint32 { return c.Offset + c.Size }

// List is a fixed capacity set of non-overlapping, non-adjacent chunks kept
// sorted by offset. Adjacent or overlapping ranges are merged on insertion.
// Storage is provided by the caller so lists can be carved out of a shared pool.
type List struct {
	chunks []Chunk
	count  int
}

// Init binds the list to storage and empties it. The capacity of the list is len(storage).
func (l *List) Init(storage []Chunk) {
	l.chunks = storage[:len(storage):len(storage)]
	l.count = 0
}

// Reset empties the list keeping its storage.
func (l *List) Reset() { l.count = 0 }

// Len returns the amount of chunks in the list.
func (l *List) Len() int { return l.count }

// Cap returns the maximum amount of chunks the list can hold.
func (l *List) Cap() int { return len(l.chunks) }

// Chunks returns the chunks in the list ordered by offset. The returned
// slice aliases the list storage and is invalidated by any mutation.
func (l *List) Chunks() []Chunk { return l.chunks[:l.count] }

// First returns the lowest-offset chunk without modifying the list.
func (l *List) First() (Chunk, bool) {
	if l.count == 0 {
		return Chunk{}, false
	}
	return l.chunks[0], true
}

// Add inserts the range [offset, offset+size) merging it with any overlapping or
// adjacent chunks. If the list is full and the range cannot be merged, the smallest
// chunk is evicted in favor of the new range when the new range is larger; otherwise
// the new range is dropped. Adding a range already covered by a chunk is a no-op.
func (l *List) Add(offset, size uint32) {
	if size == 0 {
		return
	}
	end := offset + size
	if end < offset {
		end = ^uint32(0) // Saturate on overflow.
	}
	c := l.chunks[:l.count]
	// Index of the first chunk starting after offset.
	i := sort.Search(len(c), func(k int) bool { return c[k].Offset > offset })
	start := i
	if i > 0 && c[i-1].End() >= offset {
		start = i - 1
		offset = c[start].Offset
		end = max(end, c[start].End())
	}
	j := i
	for j < len(c) && c[j].Offset <= end {
		end = max(end, c[j].End())
		j++
	}
	if j > start {
		// Merge chunks [start, j) into one.
		c[start] = Chunk{Offset: offset, Size: end - offset}
		l.deleteRange(start+1, j)
		return
	}
	if l.count == len(l.chunks) {
		if l.count == 0 {
			return
		}
		smallest := l.smallest()
		if l.chunks[smallest].Size >= end-offset {
			return
		}
		l.deleteRange(smallest, smallest+1)
		if smallest < i {
			i--
		}
	}
	l.insert(i, Chunk{Offset: offset, Size: end - offset})
}

// RemoveFromFirst removes size bytes from the start of the first chunk. The
// chunk is removed entirely when size is greater than or equal to its size.
func (l *List) RemoveFromFirst(size uint32) {
	if l.count == 0 {
		return
	}
	first := &l.chunks[0]
	if size >= first.Size {
		l.deleteRange(0, 1)
		return
	}
	first.Offset += size
	first.Size -= size
}

// ComputeGaps calls fn for every gap not covered by a chunk within [start, total), in
// offset order, until maxGaps gaps have been found. Gap offsets passed to fn are relative
// to start. fn may be nil to only count gaps. The amount of gaps found is returned, which
// is zero when the range is completely covered.
func (l *List) ComputeGaps(maxGaps int, total, start uint32, fn func(gap Chunk)) int {
	if start >= total || maxGaps <= 0 {
		return 0
	}
	found := 0
	emit := func(off, end uint32) bool {
		off = max(off, start)
		end = min(end, total)
		if off >= end {
			return true
		}
		if fn != nil {
			fn(Chunk{Offset: off - start, Size: end - off})
		}
		found++
		return found < maxGaps
	}
	next := start
	for _, c := range l.chunks[:l.count] {
		if c.Offset >= total {
			break
		}
		if c.Offset > next && !emit(next, c.Offset) {
			return found
		}
		next = max(next, c.End())
		if next >= total {
			return found
		}
	}
	emit(next, total)
	return found
}

func (l *List) smallest() int {
	idx := 0
	for k := 1; k < l.count; k++ {
		if l.chunks[k].Size < l.chunks[idx].Size {
			idx = k
		}
	}
	return idx
}

func (l *List) insert(i int, c Chunk) {
	copy(l.chunks[i+1:l.count+1], l.chunks[i:l.count])
	l.chunks[i] = c
	l.count++
}

// deleteRange removes chunks [from, to).
func (l *List) deleteRange(from, to int) {
	if from >= to {
		return
	}
	n := copy(l.chunks[from:], l.chunks[to:l.count])
	l.count = from + n
}
