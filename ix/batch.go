package ix

// Batch buffers the nodes processed since the last commit so they can be
// replayed one by one if the unit-of-work rolls back.
// A Batch is owned by one worker and is not synchronized.
type Batch struct {
	capacity int
	nodes    []Node
}

// NewBatch creates a batch that reports full at capacity nodes (minimum 1)
func NewBatch(capacity int) *Batch {
	if capacity < 1 {
		capacity = 1
	}
	return &Batch{capacity: capacity, nodes: make([]Node, 0, capacity)}
}

// Add appends n. Capacity is advisory: callers check IsFull after each Add.
func (b *Batch) Add(n Node) {
	b.nodes = append(b.nodes, n)
}

// IsFull reports whether the batch holds exactly capacity nodes
func (b *Batch) IsFull() bool {
	return len(b.nodes) == b.capacity
}

func (b *Batch) Len() int {
	return len(b.nodes)
}

func (b *Batch) Capacity() int {
	return b.capacity
}

// Nodes returns a copy of the buffered nodes in insertion order
func (b *Batch) Nodes() []Node {
	out := make([]Node, len(b.nodes))
	copy(out, b.nodes)
	return out
}

// Clear empties the batch, keeping its storage
func (b *Batch) Clear() {
	clear(b.nodes)
	b.nodes = b.nodes[:0]
}
