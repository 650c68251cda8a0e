// Package viterbi implements the online Viterbi decoder.
//
// A Decoder consumes one observation per Update and emits a prefix of the
// most likely state sequence as soon as every surviving path agrees on it.
// Survivor paths are kept in a forest whose unary chains are compacted after
// every step. When all frontier paths meet in a single branch point (the
// root), the states up to that point can no longer change: they are traced
// back through the predecessor columns, emitted, and the columns are freed.
// Flush emits the undecided suffix from the best-scoring frontier state.
//
// The result is identical to batch Viterbi over the same window, including
// tie-breaking: among equally scored predecessors the lowest index wins, and
// Flush starts from the lowest-index best final state.
package viterbi

import (
	"fmt"
	"log/slog"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/Sumatoshi-tech/streamvit/pkg/forest"
	"github.com/Sumatoshi-tech/streamvit/pkg/hmm"
	"github.com/Sumatoshi-tech/streamvit/pkg/trellis"
)

// Phase is the lifecycle state of a Decoder.
type Phase int

const (
	// Empty decoders must be Reset before use.
	Empty Phase = iota

	// Streaming decoders accept Update and Flush.
	Streaming

	// Drained decoders have been flushed and must be Reset before reuse.
	Drained
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case Empty:
		return "empty"
	case Streaming:
		return "streaming"
	case Drained:
		return "drained"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Anchor is a convergence point. It keeps a copy of the node's state and time
// so that it stays usable after the node itself has been freed; Node is used
// only to recognise the same branch point on later steps.
type Anchor struct {
	Node  forest.Handle
	State int
	Time  int
}

// Stats describes the decoder after the most recent call.
type Stats struct {
	// Time is the newest processed time index, or -1.
	Time int

	// Nodes is the number of live survivor-path nodes.
	Nodes int

	// Columns is the number of retained columns, the seed column included.
	Columns int

	// Decoded is the number of states emitted so far.
	Decoded int

	// Pending is the number of processed time steps not yet emitted.
	Pending int

	// Convergences counts tracebacks since the last Reset.
	Convergences int

	// Underflow reports that every score of the newest column is zero.
	Underflow bool
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger used for convergence and reset events.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Decoder) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithSink sets the sink that receives finalized states.
func WithSink(sink Sink) Option {
	return func(d *Decoder) {
		if sink != nil {
			d.sink = sink
		}
	}
}

// WithArithmetic selects raw or log probabilities. The default is
// hmm.Probability.
func WithArithmetic(a hmm.Arithmetic) Option {
	return func(d *Decoder) {
		d.arithmetic = a
	}
}

// WithoutHistory stops the decoder from retaining the decoded stream. States
// are still delivered to the sink and counted in Stats.
func WithoutHistory() Option {
	return func(d *Decoder) {
		d.history = false
	}
}

// Decoder is an online Viterbi decoder. It is not safe for concurrent use.
type Decoder struct {
	model      *hmm.Model
	tables     *hmm.Tables
	arithmetic hmm.Arithmetic
	logger     *slog.Logger
	sink       Sink
	history    bool

	columns  *trellis.Store
	forest   *forest.Forest
	frontier []forest.Handle
	scratch  []forest.Handle

	phase    Phase
	start    int
	next     int
	root     Anchor
	hasRoot  bool
	prevRoot Anchor
	hasPrev  bool

	decoded      []int
	emitted      int
	convergences int
}

// New creates a decoder for model. The decoder starts Empty.
func New(model *hmm.Model, opts ...Option) (*Decoder, error) {
	if model == nil || model.States() == 0 || model.Symbols() == 0 {
		return nil, ErrModel
	}

	d := &Decoder{
		model:   model,
		logger:  slog.New(slog.DiscardHandler),
		sink:    discardSink{},
		history: true,
		columns: trellis.New(),
		forest:  forest.New(),
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.arithmetic != hmm.Probability && d.arithmetic != hmm.LogProbability {
		return nil, fmt.Errorf("%w: %w: %d", ErrModel, hmm.ErrUnknownArithmetic, int(d.arithmetic))
	}

	d.tables = model.Tables(d.arithmetic)

	return d, nil
}

// Model returns the decoded model.
func (d *Decoder) Model() *hmm.Model {
	return d.model
}

// Tables returns the parameters as seen by the decoder.
func (d *Decoder) Tables() *hmm.Tables {
	return d.tables
}

// Phase returns the lifecycle phase.
func (d *Decoder) Phase() Phase {
	return d.phase
}

// Next returns the time index expected by the next Update.
func (d *Decoder) Next() int {
	return d.next
}

// Start returns the start state given to the last Reset.
func (d *Decoder) Start() int {
	return d.start
}

// Arithmetic returns the score domain.
func (d *Decoder) Arithmetic() hmm.Arithmetic {
	return d.arithmetic
}

// Root returns the current convergence point.
func (d *Decoder) Root() (Anchor, bool) {
	return d.root, d.hasRoot
}

// PrevRoot returns the convergence point before the current one.
func (d *Decoder) PrevRoot() (Anchor, bool) {
	return d.prevRoot, d.hasPrev
}

// Decoded returns a copy of the decoded stream.
func (d *Decoder) Decoded() []int {
	return slices.Clone(d.decoded)
}

// Reset clears all state and installs the seed column for start. It is valid
// in every phase.
func (d *Decoder) Reset(start int) error {
	if start < 0 || start >= d.tables.States() {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrStartState, start, d.tables.States())
	}

	d.columns.Reset(d.tables.Initial, start)
	d.forest.Reset()

	d.frontier = d.frontier[:0]
	d.phase = Streaming
	d.start = start
	d.next = 0
	d.root, d.hasRoot = Anchor{}, false
	d.prevRoot, d.hasPrev = Anchor{}, false
	d.decoded = d.decoded[:0]
	d.emitted = 0
	d.convergences = 0

	d.logger.Debug("decoder reset", "start", start, "arithmetic", d.arithmetic.String())

	return nil
}

// Update processes observation obs at time t and returns the states that
// became final, in time order. t must be 0 after Reset and grow by one on
// every call.
func (d *Decoder) Update(t, obs int) ([]int, error) {
	if d.phase != Streaming {
		return nil, fmt.Errorf("%w: update in phase %s", ErrNotStreaming, d.phase)
	}

	if t != d.next {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrTimeOrder, t, d.next)
	}

	if obs < 0 || obs >= d.tables.Symbols() {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrObservation, obs, d.tables.Symbols())
	}

	d.extend(t, obs)
	d.next++

	d.forest.Compact(t)
	d.forest.Collect(t)

	if !d.findRoot() {
		return nil, nil
	}

	out := d.traceback()

	return out, d.emit(out)
}

// Flush emits the undecided suffix, starting from the first best-scoring
// state of the newest column, and moves the decoder to Drained. Columns and
// nodes are left in place. Flushing a decoder that has seen no observation
// emits nothing.
func (d *Decoder) Flush() ([]int, error) {
	if d.phase != Streaming {
		return nil, fmt.Errorf("%w: flush in phase %s", ErrNotStreaming, d.phase)
	}

	d.phase = Drained

	if d.next == 0 {
		return []int{}, nil
	}

	newest := d.columns.Newest()
	state := floats.MaxIdx(newest.Scores)

	depth := newest.Time
	if d.hasRoot {
		depth = newest.Time - d.root.Time - 1
	}

	out := make([]int, 0, depth+1)
	out = append(out, state)

	for i := range depth {
		col := d.column(newest.Time - i)
		state = col.Preds[state]
		out = append(out, state)
	}

	slices.Reverse(out)

	d.logger.Debug("decoder flushed", "time", newest.Time, "emitted", len(out))

	return out, d.emit(out)
}

// Stats reports memory use and progress.
func (d *Decoder) Stats() Stats {
	s := Stats{
		Time:         d.next - 1,
		Nodes:        d.forest.Len(),
		Columns:      d.columns.Len(),
		Decoded:      d.emitted,
		Pending:      d.next - d.emitted,
		Convergences: d.convergences,
	}

	if d.next > 0 {
		s.Underflow = underflow(d.tables, d.columns.Newest().Scores)
	}

	return s
}

// extend computes the column for t and adds one node per state.
func (d *Decoder) extend(t, obs int) {
	k := d.tables.States()
	prior := d.columns.Newest()
	col := d.columns.Alloc(t, k)

	for j := range k {
		best, pred := math.Inf(-1), 0

		for i := range k {
			if v := d.tables.Step(prior.Scores[i], i, j, obs); v > best {
				best, pred = v, i
			}
		}

		col.Scores[j] = best
		col.Preds[j] = pred
	}

	err := d.columns.Push(col)
	if err != nil {
		panic(fmt.Sprintf("viterbi: %v", err))
	}

	d.scratch = d.scratch[:0]

	for j := range k {
		parent := forest.Nil
		if t > 0 {
			parent = d.frontier[col.Preds[j]]
		}

		d.scratch = append(d.scratch, d.forest.Add(j, t, parent))
	}

	d.frontier, d.scratch = d.scratch, d.frontier
}

// findRoot reports whether a new convergence point was established.
func (d *Decoder) findRoot() bool {
	if !d.hasRoot && !d.merged() {
		return false
	}

	newest := d.frontier[len(d.frontier)-1]

	candidate, ok := d.forest.OldestBranch(newest)
	if !ok {
		return false
	}

	if d.hasRoot && candidate == d.root.Node {
		return false
	}

	node := d.forest.Get(candidate)
	delta := d.forest.Get(newest).Time - node.Time

	if d.hasRoot && node.Time <= d.root.Time {
		panic(fmt.Sprintf("viterbi: branch point at %d does not follow root at %d", node.Time, d.root.Time))
	}

	if delta == 0 {
		return false
	}

	if d.hasRoot {
		d.prevRoot, d.hasPrev = d.root, true
	}

	d.root = Anchor{Node: candidate, State: node.State, Time: node.Time}
	d.hasRoot = true

	return true
}

// merged reports whether every frontier path leads to the same top node.
func (d *Decoder) merged() bool {
	var top forest.Handle

	for i, leaf := range d.frontier {
		h := d.forest.Top(leaf)

		if i == 0 {
			top = h
		} else if h != top {
			return false
		}
	}

	return true
}

// traceback emits the states from the previous root (exclusive) up to the
// current root and drops the columns it consumed.
func (d *Decoder) traceback() []int {
	state := d.root.State

	depth := d.root.Time
	if d.hasPrev {
		depth = d.root.Time - d.prevRoot.Time - 1
	}

	out := make([]int, 0, depth+1)
	out = append(out, state)

	for i := range depth {
		col := d.column(d.root.Time - i)
		state = col.Preds[state]
		out = append(out, state)
	}

	d.columns.DropThrough(d.root.Time)
	d.convergences++

	slices.Reverse(out)

	if d.hasPrev {
		d.logger.Debug("decoder converged",
			"root_time", d.root.Time, "prev_root_time", d.prevRoot.Time, "emitted", len(out))
	} else {
		d.logger.Debug("decoder converged", "root_time", d.root.Time, "emitted", len(out))
	}

	return out
}

func (d *Decoder) column(time int) *trellis.Column {
	col := d.columns.At(time)
	if col == nil {
		panic(fmt.Sprintf("viterbi: column %d is not retained", time))
	}

	return col
}

func (d *Decoder) emit(states []int) error {
	if len(states) == 0 {
		return nil
	}

	if d.history {
		d.decoded = append(d.decoded, states...)
	}

	d.emitted += len(states)

	err := d.sink.Emit(states)
	if err != nil {
		return fmt.Errorf("viterbi: sink: %w", err)
	}

	return nil
}

func underflow(tables *hmm.Tables, scores []float64) bool {
	zero := tables.Zero()

	for _, s := range scores {
		if s != zero {
			return false
		}
	}

	return true
}
