// Package forest implements the survivor-path forest of the online Viterbi
// decoder.
//
// Every decoding step adds one node per hidden state. A node points at the
// node of its best predecessor state one step earlier, so the nodes form a
// forest whose leaves are the current frontier. Compact shortens unary chains
// and marks dead branches; Collect frees them. With both applied after every
// step the forest holds O(K) nodes.
//
// Nodes live in an arena. A Handle is an index plus a generation counter, so a
// handle to a freed node never aliases the node that later reuses its slot.
package forest

import (
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
)

// Handle addresses a node in a Forest. The zero Handle refers to no node.
type Handle struct {
	index uint32
	gen   uint32
}

// Nil is the handle that refers to no node.
var Nil Handle

// IsNil reports whether h refers to no node.
func (h Handle) IsNil() bool {
	return h.index == 0
}

// String formats the handle for logs.
func (h Handle) String() string {
	if h.IsNil() {
		return "nil"
	}

	return fmt.Sprintf("#%d.%d", h.index, h.gen)
}

// Node is a survivor-path node.
type Node struct {
	// State is the hidden state this node stands for.
	State int

	// Time is the observation index of the node.
	Time int

	// Parent is the node this path came from, or Nil.
	Parent Handle

	// Children counts the nodes whose Parent is this node.
	Children int
}

type slot struct {
	node  Node
	gen   uint32
	live  bool
	newer uint32
	older uint32
}

// Forest is an arena of survivor-path nodes kept in creation order.
type Forest struct {
	// Slot 0 is reserved so that the zero Handle is Nil.
	slots  []slot
	free   *roaring.Bitmap
	newest uint32
	oldest uint32
	live   int
}

// New creates an empty forest.
func New() *Forest {
	return &Forest{
		slots: make([]slot, 1),
		free:  roaring.New(),
	}
}

// Len returns the number of live nodes.
func (f *Forest) Len() int {
	return f.live
}

// Capacity returns the number of allocated slots, free ones included.
func (f *Forest) Capacity() int {
	return len(f.slots) - 1
}

// Reset frees every node. Handles issued before Reset become stale.
func (f *Forest) Reset() {
	for idx := f.newest; idx != 0; {
		older := f.slots[idx].older
		f.release(idx)
		idx = older
	}

	f.newest, f.oldest = 0, 0
}

// Add appends a node as the newest one and increments its parent's child
// count. Nodes must be added in non-decreasing time order.
func (f *Forest) Add(state, time int, parent Handle) Handle {
	if !parent.IsNil() {
		f.Get(parent).Children++
	}

	idx := f.alloc()
	s := &f.slots[idx]
	s.node = Node{State: state, Time: time, Parent: parent}
	s.live = true
	s.newer = 0
	s.older = f.newest

	if f.newest != 0 {
		f.slots[f.newest].newer = idx
	} else {
		f.oldest = idx
	}

	f.newest = idx
	f.live++

	return Handle{index: idx, gen: s.gen}
}

// Lookup returns the node h refers to, or false if it has been freed.
func (f *Forest) Lookup(h Handle) (*Node, bool) {
	if h.IsNil() || int(h.index) >= len(f.slots) {
		return nil, false
	}

	s := &f.slots[h.index]
	if !s.live || s.gen != h.gen {
		return nil, false
	}

	return &s.node, true
}

// Alive reports whether h refers to a live node.
func (f *Forest) Alive(h Handle) bool {
	_, ok := f.Lookup(h)

	return ok
}

// Get returns the node h refers to. It panics on a stale or nil handle.
func (f *Forest) Get(h Handle) *Node {
	n, ok := f.Lookup(h)
	if !ok {
		panic(fmt.Sprintf("forest: stale handle %s", h))
	}

	return n
}

// Newest returns the most recently added live node.
func (f *Forest) Newest() Handle {
	return f.handle(f.newest)
}

// Walk visits live nodes from newest to oldest until fn returns false.
func (f *Forest) Walk(fn func(h Handle, n *Node) bool) {
	for idx := f.newest; idx != 0; {
		older := f.slots[idx].older

		if !fn(f.handle(idx), &f.slots[idx].node) {
			return
		}

		idx = older
	}
}

// Compact scans the forest from newest to oldest. A node without children
// that is not in the current frontier is dead: its parent loses a child and
// the link is cut. Every other node is spliced past ancestors that have a
// single child. A bypassed ancestor is detached so that the next Collect frees
// it; its own parent keeps the same child count since the spliced node takes
// its place.
func (f *Forest) Compact(current int) {
	for idx := f.newest; idx != 0; idx = f.slots[idx].older {
		n := &f.slots[idx].node

		if n.Children == 0 && n.Time != current {
			if !n.Parent.IsNil() {
				f.Get(n.Parent).Children--
				n.Parent = Nil
			}

			continue
		}

		for !n.Parent.IsNil() {
			p := f.Get(n.Parent)
			if p.Children != 1 {
				break
			}

			n.Parent = p.Parent
			p.Parent = Nil
			p.Children = 0
		}
	}
}

// Collect frees every node with no children that is not in the current
// frontier and returns how many were freed.
func (f *Forest) Collect(current int) int {
	freed := 0

	for idx := f.newest; idx != 0; {
		s := &f.slots[idx]
		older := s.older

		if s.node.Children <= 0 && s.node.Time != current {
			if p, ok := f.Lookup(s.node.Parent); ok {
				p.Children--
			}

			f.unlink(idx)
			f.release(idx)
			freed++
		}

		idx = older
	}

	return freed
}

// Top follows parent links from h to the topmost ancestor.
func (f *Forest) Top(h Handle) Handle {
	for {
		n := f.Get(h)
		if n.Parent.IsNil() {
			return h
		}

		h = n.Parent
	}
}

// OldestBranch follows parent links from h and returns the last node met
// with at least two children, i.e. the branch point closest to the top.
func (f *Forest) OldestBranch(h Handle) (Handle, bool) {
	found := Nil

	for !h.IsNil() {
		n := f.Get(h)
		if n.Children >= 2 {
			found = h
		}

		h = n.Parent
	}

	return found, !found.IsNil()
}

func (f *Forest) handle(idx uint32) Handle {
	if idx == 0 {
		return Nil
	}

	return Handle{index: idx, gen: f.slots[idx].gen}
}

func (f *Forest) alloc() uint32 {
	if !f.free.IsEmpty() {
		idx := f.free.Minimum()
		f.free.Remove(idx)

		return idx
	}

	if len(f.slots) > math.MaxUint32 {
		panic("forest: arena exhausted")
	}

	f.slots = append(f.slots, slot{})

	return uint32(len(f.slots) - 1)
}

// release marks a slot free and bumps its generation. The slot must already
// be unlinked or the list must be discarded by the caller.
func (f *Forest) release(idx uint32) {
	s := &f.slots[idx]
	if !s.live {
		panic(fmt.Sprintf("forest: double free of slot %d", idx))
	}

	s.live = false
	s.gen++
	s.node = Node{}
	s.newer, s.older = 0, 0
	f.free.Add(idx)
	f.live--
}

func (f *Forest) unlink(idx uint32) {
	s := &f.slots[idx]

	if s.newer != 0 {
		f.slots[s.newer].older = s.older
	} else {
		f.newest = s.older
	}

	if s.older != 0 {
		f.slots[s.older].newer = s.newer
	} else {
		f.oldest = s.newer
	}
}
