package quadtree

// ReplacementQueue is a least-recently-used list of tiles threaded through the tiles themselves.
// The head is the most recently used tile.
type ReplacementQueue struct {
	tree  *Tree
	head  TileID
	tail  TileID
	count int

	// frame advances at the start of every render frame. Tiles marked during the
	// frame form a prefix of the queue.
	frame uint64
}

// NewReplacementQueue creates an empty queue over the tiles of tree.
func NewReplacementQueue(tree *Tree) *ReplacementQueue {
	return &ReplacementQueue{
		tree: tree,
		head: NoTile,
		tail: NoTile,
	}
}

// Count returns the number of tiles in the queue.
func (q *ReplacementQueue) Count() int {
	return q.count
}

// Head returns the most recently used tile, or nil.
func (q *ReplacementQueue) Head() *Tile {
	return q.tree.Get(q.head)
}

// MarkStartOfRenderFrame begins a new frame. Trimming stops at tiles marked after this call.
func (q *ReplacementQueue) MarkStartOfRenderFrame() {
	q.frame++
}

// MarkTileRendered moves t to the head of the queue, inserting it if needed.
func (q *ReplacementQueue) MarkTileRendered(t *Tile) {
	t.lastUsedFrame = q.frame
	if q.head == t.ID && t.inQueue {
		return
	}
	if t.inQueue {
		q.remove(t)
	}

	t.inQueue = true
	q.count++
	t.replacementPrev = NoTile
	t.replacementNext = q.head
	if head := q.tree.Get(q.head); head != nil {
		head.replacementPrev = t.ID
	} else {
		q.tail = t.ID
	}
	q.head = t.ID
}

// TrimTiles evicts least recently used tiles until at most maximumTiles remain. Tiles used
// this frame are never evicted, nor is a tile whose subtree has pending work or was used this frame.
func (q *ReplacementQueue) TrimTiles(maximumTiles int) {
	for tileToTrim := q.tail; tileToTrim != NoTile && q.count > maximumTiles; {
		t := q.tree.Get(tileToTrim)
		if t.lastUsedFrame == q.frame {
			// This tile and everything nearer the head was used this frame.
			return
		}
		previous := t.replacementPrev
		if q.subtreeEligible(t) {
			q.evict(t)
			// Evicting a subtree can unlink its neighbours; start over from the tail.
			if p := q.tree.Get(previous); p == nil || !p.inQueue {
				previous = q.tail
			}
		}
		tileToTrim = previous
	}
}

// Clear empties the queue without touching the tiles' resources.
func (q *ReplacementQueue) Clear() {
	for id := q.head; id != NoTile; {
		t := q.tree.Get(id)
		id = t.replacementNext
		t.inQueue = false
		t.replacementPrev, t.replacementNext = NoTile, NoTile
	}
	q.head, q.tail = NoTile, NoTile
	q.count = 0
}

// ForEach visits tiles from most to least recently used.
func (q *ReplacementQueue) ForEach(fn func(*Tile)) {
	for id := q.head; id != NoTile; {
		t := q.tree.Get(id)
		id = t.replacementNext
		fn(t)
	}
}

func (q *ReplacementQueue) subtreeEligible(t *Tile) bool {
	return walk(t, func(n *Tile) bool {
		return n.lastUsedFrame != q.frame && n.EligibleForUnloading()
	})
}

// evict frees t, removes it from the queue and releases its descendants.
func (q *ReplacementQueue) evict(t *Tile) {
	q.tree.freeResources(t, func(d *Tile) {
		if d.inQueue {
			q.remove(d)
		}
	})
	q.remove(t)
}

func (q *ReplacementQueue) remove(t *Tile) {
	if !t.inQueue {
		return
	}
	prev, next := t.replacementPrev, t.replacementNext
	if t.ID == q.head {
		q.head = next
	} else {
		q.tree.Get(prev).replacementNext = next
	}
	if t.ID == q.tail {
		q.tail = prev
	} else {
		q.tree.Get(next).replacementPrev = prev
	}

	t.replacementPrev, t.replacementNext = NoTile, NoTile
	t.inQueue = false
	q.count--
}
