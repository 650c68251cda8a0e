package viterbi

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Sink receives every newly finalized run of states in time order.
type Sink interface {
	Emit(states []int) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(states []int) error

// Emit calls f.
func (f SinkFunc) Emit(states []int) error {
	return f(states)
}

// SliceSink collects every emitted state.
type SliceSink struct {
	States []int
	Runs   int
}

// Emit appends states.
func (s *SliceSink) Emit(states []int) error {
	s.States = append(s.States, states...)
	s.Runs++

	return nil
}

// WriterSink writes each run as one line of space-separated states.
type WriterSink struct {
	w    io.Writer
	name func(int) string
}

// NewWriterSink creates a sink writing to w. If name is nil states are
// printed as indices.
func NewWriterSink(w io.Writer, name func(int) string) *WriterSink {
	if name == nil {
		name = strconv.Itoa
	}

	return &WriterSink{w: w, name: name}
}

// Emit writes states as a single line.
func (s *WriterSink) Emit(states []int) error {
	var b strings.Builder

	for i, state := range states {
		if i > 0 {
			b.WriteByte(' ')
		}

		b.WriteString(s.name(state))
	}

	b.WriteByte('\n')

	_, err := io.WriteString(s.w, b.String())
	if err != nil {
		return fmt.Errorf("write states: %w", err)
	}

	return nil
}

type discardSink struct{}

func (discardSink) Emit([]int) error { return nil }
