package viterbi

import "errors"

// Sentinel errors returned by Decoder. The decoder state is left untouched
// when one of them is returned.
var (
	// ErrModel is returned by New for a missing or structurally invalid model.
	ErrModel = errors.New("viterbi: invalid model")

	// ErrStartState is returned by Reset for a start state outside [0, K).
	ErrStartState = errors.New("viterbi: start state out of range")

	// ErrObservation is returned by Update for a symbol outside [0, M).
	ErrObservation = errors.New("viterbi: observation out of range")

	// ErrTimeOrder is returned by Update when t is not the next time index.
	ErrTimeOrder = errors.New("viterbi: time index out of order")

	// ErrNotStreaming is returned by Update and Flush outside the Streaming phase.
	ErrNotStreaming = errors.New("viterbi: decoder is not streaming")

	// ErrSnapshot is returned by Restore for a snapshot that does not fit the model.
	ErrSnapshot = errors.New("viterbi: invalid snapshot")
)
