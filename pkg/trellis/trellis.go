// Package trellis stores the rolling window of Viterbi columns.
//
// A Store holds consecutive columns, oldest first. Columns are appended at the
// newest end and discarded from the oldest end once the decoder has traced
// through them, so the store never holds more than the current divergence
// depth plus one.
package trellis

import (
	"errors"
	"fmt"
)

// SeedTime is the time index of the seed column that precedes the first
// observation.
const SeedTime = -1

// ErrGap is returned by Push when a column does not directly follow the newest one.
var ErrGap = errors.New("trellis: column time is not consecutive")

// Column is one time step of the trellis.
type Column struct {
	// Time is the observation index this column belongs to.
	Time int

	// Scores[j] is the best joint score of a path ending in state j at Time.
	Scores []float64

	// Preds[j] is the state at Time-1 on the best path ending in j.
	Preds []int
}

// Store is a deque of consecutive columns.
type Store struct {
	cols []*Column
	head int
	free []*Column
}

// New creates an empty store.
func New() *Store {
	return &Store{}
}

// Reset discards every column and installs the seed column: scores equal to
// initial and every predecessor set to start.
func (s *Store) Reset(initial []float64, start int) {
	for _, col := range s.cols[s.head:] {
		s.release(col)
	}

	s.cols = s.cols[:0]
	s.head = 0

	seed := s.Alloc(SeedTime, len(initial))
	copy(seed.Scores, initial)

	for j := range seed.Preds {
		seed.Preds[j] = start
	}

	s.cols = append(s.cols, seed)
}

// Alloc returns a column with k entries, reusing a discarded one when possible.
// The column is not part of the store until it is pushed.
func (s *Store) Alloc(time, k int) *Column {
	var col *Column

	if n := len(s.free); n > 0 {
		col = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		col = &Column{}
	}

	col.Time = time

	if cap(col.Scores) < k {
		col.Scores = make([]float64, k)
		col.Preds = make([]int, k)
	} else {
		col.Scores = col.Scores[:k]
		col.Preds = col.Preds[:k]
	}

	return col
}

// Push appends col as the newest column.
func (s *Store) Push(col *Column) error {
	if newest := s.Newest(); newest != nil && col.Time != newest.Time+1 {
		return fmt.Errorf("%w: have %d, got %d", ErrGap, newest.Time, col.Time)
	}

	s.cols = append(s.cols, col)

	return nil
}

// Len returns the number of stored columns, the seed column included.
func (s *Store) Len() int {
	return len(s.cols) - s.head
}

// Newest returns the most recent column, or nil when the store is empty.
func (s *Store) Newest() *Column {
	if s.Len() == 0 {
		return nil
	}

	return s.cols[len(s.cols)-1]
}

// Oldest returns the oldest retained column, or nil when the store is empty.
func (s *Store) Oldest() *Column {
	if s.Len() == 0 {
		return nil
	}

	return s.cols[s.head]
}

// At returns the column for time, or nil when it is not retained.
func (s *Store) At(time int) *Column {
	oldest := s.Oldest()
	if oldest == nil {
		return nil
	}

	idx := time - oldest.Time
	if idx < 0 || idx >= s.Len() {
		return nil
	}

	return s.cols[s.head+idx]
}

// DropThrough discards every column with Time <= time and returns how many
// were removed.
func (s *Store) DropThrough(time int) int {
	dropped := 0

	for s.Len() > 0 && s.cols[s.head].Time <= time {
		s.release(s.cols[s.head])
		s.cols[s.head] = nil
		s.head++
		dropped++
	}

	s.compact()

	return dropped
}

// Columns returns the retained columns, oldest first. The slice is shared
// with the store and is valid until the next mutation.
func (s *Store) Columns() []*Column {
	return s.cols[s.head:]
}

// Load replaces the contents of the store with copies of cols, which must be
// consecutive.
func (s *Store) Load(cols []Column) error {
	s.Reset(nil, 0)
	s.DropThrough(SeedTime)

	for i := range cols {
		col := s.Alloc(cols[i].Time, len(cols[i].Scores))
		copy(col.Scores, cols[i].Scores)
		copy(col.Preds, cols[i].Preds)

		err := s.Push(col)
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) release(col *Column) {
	s.free = append(s.free, col)
}

// compact moves the live window to the front once the dead prefix dominates.
func (s *Store) compact() {
	if s.head == 0 || s.head < len(s.cols)/2 {
		return
	}

	n := copy(s.cols, s.cols[s.head:])
	clear(s.cols[n:])
	s.cols = s.cols[:n]
	s.head = 0
}
