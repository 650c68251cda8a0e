package viterbi

import (
	"fmt"
	"slices"

	"github.com/Sumatoshi-tech/streamvit/pkg/forest"
	"github.com/Sumatoshi-tech/streamvit/pkg/trellis"
)

// AnchorRecord is the serializable form of an Anchor. Node is the forest
// record ID of the anchor node, or 0 once that node has been freed.
type AnchorRecord struct {
	Node  int `json:"node"`
	State int `json:"state"`
	Time  int `json:"time"`
}

// Snapshot is the complete state of a streaming decoder.
type Snapshot struct {
	States       int              `json:"states"`
	Symbols      int              `json:"symbols"`
	Arithmetic   string           `json:"arithmetic"`
	Start        int              `json:"start"`
	Next         int              `json:"next"`
	Columns      []trellis.Column `json:"columns"`
	Nodes        []forest.Record  `json:"nodes"`
	Frontier     []int            `json:"frontier"`
	Root         *AnchorRecord    `json:"root,omitempty"`
	PrevRoot     *AnchorRecord    `json:"prev_root,omitempty"`
	Decoded      []int            `json:"decoded"`
	Emitted      int              `json:"emitted"`
	Convergences int              `json:"convergences"`
}

// Snapshot captures the decoder state. Only Streaming decoders can be
// captured.
func (d *Decoder) Snapshot() (*Snapshot, error) {
	if d.phase != Streaming {
		return nil, fmt.Errorf("%w: snapshot in phase %s", ErrNotStreaming, d.phase)
	}

	handles := append(slices.Clone(d.frontier), d.root.Node, d.prevRoot.Node)
	records, refs := d.forest.Export(handles...)

	k := len(d.frontier)

	snap := &Snapshot{
		States:       d.tables.States(),
		Symbols:      d.tables.Symbols(),
		Arithmetic:   d.arithmetic.String(),
		Start:        d.start,
		Next:         d.next,
		Nodes:        records,
		Frontier:     refs[:k],
		Decoded:      slices.Clone(d.decoded),
		Emitted:      d.emitted,
		Convergences: d.convergences,
	}

	for _, col := range d.columns.Columns() {
		snap.Columns = append(snap.Columns, trellis.Column{
			Time:   col.Time,
			Scores: slices.Clone(col.Scores),
			Preds:  slices.Clone(col.Preds),
		})
	}

	if d.hasRoot {
		snap.Root = &AnchorRecord{Node: refs[k], State: d.root.State, Time: d.root.Time}
	}

	if d.hasPrev {
		snap.PrevRoot = &AnchorRecord{Node: refs[k+1], State: d.prevRoot.State, Time: d.prevRoot.Time}
	}

	return snap, nil
}

// Restore replaces the decoder state with snap. The decoder must have been
// created for a model of the same shape and with the same arithmetic. On
// error the decoder is left Empty.
func (d *Decoder) Restore(snap *Snapshot) error {
	err := d.restore(snap)
	if err != nil {
		d.columns.Reset(d.tables.Initial, 0)
		d.forest.Reset()
		d.frontier = d.frontier[:0]
		d.phase = Empty

		return err
	}

	d.logger.Debug("decoder restored", "next", d.next, "nodes", d.forest.Len(), "columns", d.columns.Len())

	return nil
}

func (d *Decoder) restore(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: nil snapshot", ErrSnapshot)
	}

	err := d.checkSnapshot(snap)
	if err != nil {
		return err
	}

	err = d.columns.Load(snap.Columns)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSnapshot, err)
	}

	handles, err := d.forest.Import(snap.Nodes)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSnapshot, err)
	}

	lookup := func(id int) (forest.Handle, error) {
		if id < 0 || id > len(handles) {
			return forest.Nil, fmt.Errorf("%w: node reference %d out of range", ErrSnapshot, id)
		}

		if id == 0 {
			return forest.Nil, nil
		}

		return handles[id-1], nil
	}

	d.frontier = d.frontier[:0]

	for j, id := range snap.Frontier {
		h, lerr := lookup(id)
		if lerr != nil {
			return lerr
		}

		if n, ok := d.forest.Lookup(h); !ok || n.State != j || n.Time != snap.Next-1 {
			return fmt.Errorf("%w: frontier entry %d does not name state %d at %d", ErrSnapshot, j, j, snap.Next-1)
		}

		d.frontier = append(d.frontier, h)
	}

	d.root, d.hasRoot, err = anchorFrom(snap.Root, lookup)
	if err != nil {
		return err
	}

	d.prevRoot, d.hasPrev, err = anchorFrom(snap.PrevRoot, lookup)
	if err != nil {
		return err
	}

	d.phase = Streaming
	d.start = snap.Start
	d.next = snap.Next
	d.decoded = append(d.decoded[:0], snap.Decoded...)
	d.emitted = snap.Emitted
	d.convergences = snap.Convergences

	return nil
}

func (d *Decoder) checkSnapshot(snap *Snapshot) error {
	k := d.tables.States()

	switch {
	case snap.States != k || snap.Symbols != d.tables.Symbols():
		return fmt.Errorf("%w: shape %dx%d, decoder has %dx%d",
			ErrSnapshot, snap.States, snap.Symbols, k, d.tables.Symbols())
	case snap.Arithmetic != d.arithmetic.String():
		return fmt.Errorf("%w: arithmetic %q, decoder uses %q", ErrSnapshot, snap.Arithmetic, d.arithmetic)
	case snap.Start < 0 || snap.Start >= k:
		return fmt.Errorf("%w: %w", ErrSnapshot, ErrStartState)
	case snap.Next < 0:
		return fmt.Errorf("%w: negative time %d", ErrSnapshot, snap.Next)
	case snap.Next > 0 && len(snap.Frontier) != k:
		return fmt.Errorf("%w: frontier has %d entries, want %d", ErrSnapshot, len(snap.Frontier), k)
	case snap.Next == 0 && len(snap.Frontier) != 0:
		return fmt.Errorf("%w: frontier before the first observation", ErrSnapshot)
	case len(snap.Columns) == 0 || snap.Columns[len(snap.Columns)-1].Time != snap.Next-1:
		return fmt.Errorf("%w: newest column does not match time %d", ErrSnapshot, snap.Next-1)
	}

	for _, col := range snap.Columns {
		if len(col.Scores) != k || len(col.Preds) != k {
			return fmt.Errorf("%w: column %d has the wrong width", ErrSnapshot, col.Time)
		}

		for j, p := range col.Preds {
			if p < 0 || p >= k {
				return fmt.Errorf("%w: column %d pred[%d] = %d, want [0, %d)", ErrSnapshot, col.Time, j, p, k)
			}
		}
	}

	return checkAnchors(snap)
}

// checkAnchors requires prevRoot < root < next.
func checkAnchors(snap *Snapshot) error {
	if snap.Root == nil {
		if snap.PrevRoot != nil {
			return fmt.Errorf("%w: previous root without a root", ErrSnapshot)
		}

		return nil
	}

	if snap.Root.Time >= snap.Next {
		return fmt.Errorf("%w: root at %d, next time is %d", ErrSnapshot, snap.Root.Time, snap.Next)
	}

	if snap.PrevRoot != nil && snap.PrevRoot.Time >= snap.Root.Time {
		return fmt.Errorf("%w: previous root at %d does not precede root at %d",
			ErrSnapshot, snap.PrevRoot.Time, snap.Root.Time)
	}

	return nil
}

func anchorFrom(rec *AnchorRecord, lookup func(int) (forest.Handle, error)) (Anchor, bool, error) {
	if rec == nil {
		return Anchor{}, false, nil
	}

	h, err := lookup(rec.Node)
	if err != nil {
		return Anchor{}, false, err
	}

	return Anchor{Node: h, State: rec.State, Time: rec.Time}, true, nil
}
