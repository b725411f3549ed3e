package index

import "sync/atomic"

// Holder publishes the current index to concurrent readers. A rebuild
// produces a new PartitionedIndex and swaps it in; readers holding the old
// one keep using it undisturbed.
type Holder struct {
	current atomic.Pointer[PartitionedIndex]
	version atomic.Uint64
}

// NewHolder returns a holder serving idx, which may be nil.
func NewHolder(idx *PartitionedIndex) *Holder {
	h := &Holder{}
	if idx != nil {
		h.Swap(idx)
	}
	return h
}

// Load returns the current index, or nil if none was published.
func (h *Holder) Load() *PartitionedIndex {
	return h.current.Load()
}

// Swap publishes idx and returns the index it replaced.
func (h *Holder) Swap(idx *PartitionedIndex) *PartitionedIndex {
	old := h.current.Swap(idx)
	h.version.Add(1)
	return old
}

// Version counts the swaps performed so far.
func (h *Holder) Version() uint64 {
	return h.version.Load()
}
