// Package hmm defines the discrete hidden Markov model consumed by the decoders.
//
// A Model is immutable once built: K hidden states, M emission symbols, a K×K
// transition matrix, a K×M emission matrix and a length-K initial distribution.
// Matrices are stored as gonum dense matrices; decoders read them through
// Tables, which also fixes the arithmetic (raw or log probabilities).
package hmm

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/hashicorp/go-multierror"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// stochasticTolerance bounds how far a row sum may drift from 1.
const stochasticTolerance = 1e-6

// Sentinel errors for model construction and validation.
var (
	// ErrEmpty is returned when a model has no states or no symbols.
	ErrEmpty = errors.New("hmm: model needs at least one state and one symbol")

	// ErrShape is returned when matrix or vector dimensions disagree.
	ErrShape = errors.New("hmm: dimension mismatch")

	// ErrRange is returned when a probability lies outside [0, 1].
	ErrRange = errors.New("hmm: probability out of range")

	// ErrNotStochastic is returned when a distribution does not sum to 1.
	ErrNotStochastic = errors.New("hmm: distribution does not sum to 1")
)

// Model is an immutable discrete HMM.
type Model struct {
	initial    []float64
	transition *mat.Dense
	emission   *mat.Dense

	stateNames  []string
	symbolNames []string
}

// New builds a model from an initial distribution, a transition matrix
// (transition[i][j] = P(j at t+1 | i at t)) and an emission matrix
// (emission[j][o] = P(o | j)). Only the shape is checked; call Validate to
// check that the rows are probability distributions.
func New(initial []float64, transition, emission [][]float64) (*Model, error) {
	states := len(initial)
	if states == 0 || len(emission) == 0 || len(emission[0]) == 0 {
		return nil, ErrEmpty
	}

	symbols := len(emission[0])

	if len(transition) != states {
		return nil, fmt.Errorf("%w: %d transition rows for %d states", ErrShape, len(transition), states)
	}

	if len(emission) != states {
		return nil, fmt.Errorf("%w: %d emission rows for %d states", ErrShape, len(emission), states)
	}

	trans := mat.NewDense(states, states, nil)
	emit := mat.NewDense(states, symbols, nil)

	for i := range states {
		if len(transition[i]) != states {
			return nil, fmt.Errorf("%w: transition row %d has %d entries, want %d", ErrShape, i, len(transition[i]), states)
		}

		if len(emission[i]) != symbols {
			return nil, fmt.Errorf("%w: emission row %d has %d entries, want %d", ErrShape, i, len(emission[i]), symbols)
		}

		trans.SetRow(i, transition[i])
		emit.SetRow(i, emission[i])
	}

	return &Model{
		initial:    append([]float64(nil), initial...),
		transition: trans,
		emission:   emit,
	}, nil
}

// MustNew is like New but panics on error. Intended for fixtures.
func MustNew(initial []float64, transition, emission [][]float64) *Model {
	m, err := New(initial, transition, emission)
	if err != nil {
		panic(err)
	}

	return m
}

// Default returns the reference four-state, four-symbol model. State 2 has
// the weakest self-transition (0.85); the initial distribution is uniform.
func Default() *Model {
	return MustNew(
		[]float64{0.25, 0.25, 0.25, 0.25},
		[][]float64{
			{0.96, 0.04, 0.0, 0.0},
			{0.0, 0.95, 0.05, 0.0},
			{0.0, 0.0, 0.85, 0.15},
			{0.1, 0.0, 0.0, 0.9},
		},
		[][]float64{
			{0.6, 0.2, 0.0, 0.2},
			{0.1, 0.8, 0.1, 0.0},
			{0.0, 0.14, 0.76, 0.1},
			{0.1, 0.0, 0.1, 0.8},
		},
	)
}

// States returns K, the number of hidden states.
func (m *Model) States() int {
	return len(m.initial)
}

// Symbols returns M, the number of observation symbols.
func (m *Model) Symbols() int {
	_, c := m.emission.Dims()

	return c
}

// Initial returns π[i].
func (m *Model) Initial(i int) float64 {
	return m.initial[i]
}

// Transition returns A[i][j].
func (m *Model) Transition(i, j int) float64 {
	return m.transition.At(i, j)
}

// Emission returns E[j][o].
func (m *Model) Emission(j, o int) float64 {
	return m.emission.At(j, o)
}

// TransitionMatrix returns a read-only view of A.
func (m *Model) TransitionMatrix() mat.Matrix {
	return m.transition
}

// EmissionMatrix returns a read-only view of E.
func (m *Model) EmissionMatrix() mat.Matrix {
	return m.emission
}

// InitialDistribution returns a copy of π.
func (m *Model) InitialDistribution() []float64 {
	return append([]float64(nil), m.initial...)
}

// Fingerprint hashes the shape and every parameter of m. Display names are
// not part of it.
func (m *Model) Fingerprint() string {
	h := sha256.New()

	var word [8]byte

	write := func(v uint64) {
		binary.LittleEndian.PutUint64(word[:], v)
		h.Write(word[:])
	}

	k, sym := m.States(), m.Symbols()
	write(uint64(k))
	write(uint64(sym))

	for i := range k {
		write(math.Float64bits(m.initial[i]))
	}

	for i := range k {
		for j := range k {
			write(math.Float64bits(m.transition.At(i, j)))
		}

		for o := range sym {
			write(math.Float64bits(m.emission.At(i, o)))
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}

// StateName returns the display name of state i, or its index.
func (m *Model) StateName(i int) string {
	if i >= 0 && i < len(m.stateNames) && m.stateNames[i] != "" {
		return m.stateNames[i]
	}

	return fmt.Sprint(i)
}

// SymbolName returns the display name of symbol o, or its index.
func (m *Model) SymbolName(o int) string {
	if o >= 0 && o < len(m.symbolNames) && m.symbolNames[o] != "" {
		return m.symbolNames[o]
	}

	return fmt.Sprint(o)
}

// WithNames returns a copy of the model carrying display names. Missing
// entries fall back to indices.
func (m *Model) WithNames(states, symbols []string) *Model {
	clone := *m
	clone.stateNames = append([]string(nil), states...)
	clone.symbolNames = append([]string(nil), symbols...)

	return &clone
}

// Validate reports every probability outside [0, 1] and every row that does
// not sum to 1. All problems are returned together.
func (m *Model) Validate() error {
	var result *multierror.Error

	result = multierror.Append(result, checkDistribution("initial distribution", m.initial)...)

	for i := range m.States() {
		result = multierror.Append(result,
			checkDistribution(fmt.Sprintf("transition row %d", i), m.transition.RawRowView(i))...)
		result = multierror.Append(result,
			checkDistribution(fmt.Sprintf("emission row %d", i), m.emission.RawRowView(i))...)
	}

	return result.ErrorOrNil()
}

func checkDistribution(name string, row []float64) []error {
	var errs []error

	if lo, hi := floats.Min(row), floats.Max(row); lo < 0 || hi > 1 || math.IsNaN(lo) || math.IsNaN(hi) {
		errs = append(errs, fmt.Errorf("%w: %s spans [%g, %g]", ErrRange, name, lo, hi))
	}

	if sum := floats.Sum(row); math.Abs(sum-1) > stochasticTolerance {
		errs = append(errs, fmt.Errorf("%w: %s sums to %g", ErrNotStochastic, name, sum))
	}

	return errs
}
