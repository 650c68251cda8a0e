package forest

import (
	"errors"
	"fmt"
)

// ErrCorrupt is returned by Import when records do not describe a valid forest.
var ErrCorrupt = errors.New("forest: corrupt records")

// Record is the serializable form of a node. IDs are 1-based positions in the
// exported slice; Parent is 0 for a node without parent.
type Record struct {
	State    int `json:"state"`
	Time     int `json:"time"`
	Parent   int `json:"parent"`
	Children int `json:"children"`
}

// Export returns the live nodes oldest first, together with the record IDs
// of the given handles (0 for Nil or freed handles).
func (f *Forest) Export(handles ...Handle) ([]Record, []int) {
	ids := make(map[uint32]int, f.live)
	records := make([]Record, 0, f.live)

	for idx := f.oldest; idx != 0; idx = f.slots[idx].newer {
		n := f.slots[idx].node
		rec := Record{State: n.State, Time: n.Time, Children: n.Children}

		if !n.Parent.IsNil() {
			rec.Parent = ids[n.Parent.index]
		}

		records = append(records, rec)
		ids[idx] = len(records)
	}

	refs := make([]int, len(handles))

	for i, h := range handles {
		if f.Alive(h) {
			refs[i] = ids[h.index]
		}
	}

	return records, refs
}

// Import replaces the forest with records produced by Export and returns the
// handle of every record in order.
func (f *Forest) Import(records []Record) ([]Handle, error) {
	f.Reset()

	handles := make([]Handle, len(records))
	children := make([]int, len(records))

	for i, rec := range records {
		parent := Nil

		if rec.Parent != 0 {
			if rec.Parent < 0 || rec.Parent > i {
				f.Reset()

				return nil, fmt.Errorf("%w: record %d references parent %d", ErrCorrupt, i+1, rec.Parent)
			}

			parent = handles[rec.Parent-1]
			children[rec.Parent-1]++

			if records[rec.Parent-1].Time >= rec.Time {
				f.Reset()

				return nil, fmt.Errorf("%w: record %d is not newer than its parent", ErrCorrupt, i+1)
			}
		}

		handles[i] = f.Add(rec.State, rec.Time, parent)
	}

	for i, rec := range records {
		if rec.Children != children[i] {
			f.Reset()

			return nil, fmt.Errorf("%w: record %d claims %d children, has %d", ErrCorrupt, i+1, rec.Children, children[i])
		}
	}

	return handles, nil
}

// Oldest returns the oldest live node.
func (f *Forest) Oldest() Handle {
	return f.handle(f.oldest)
}
