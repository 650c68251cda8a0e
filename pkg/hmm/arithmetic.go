package hmm

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ErrUnknownArithmetic is returned by ParseArithmetic for unrecognised names.
var ErrUnknownArithmetic = errors.New("hmm: unknown arithmetic")

// Arithmetic selects how path scores are accumulated.
type Arithmetic int

const (
	// Probability multiplies raw probabilities. Long spans without
	// convergence may underflow to zero.
	Probability Arithmetic = iota

	// LogProbability adds natural-log probabilities. Impossible paths score -Inf.
	LogProbability
)

// String returns the configuration name of the arithmetic.
func (a Arithmetic) String() string {
	switch a {
	case Probability:
		return "probability"
	case LogProbability:
		return "log"
	default:
		return fmt.Sprintf("arithmetic(%d)", int(a))
	}
}

// ParseArithmetic maps a configuration name to an Arithmetic.
func ParseArithmetic(name string) (Arithmetic, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "probability", "prob", "raw":
		return Probability, nil
	case "log", "log-probability", "logprob":
		return LogProbability, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownArithmetic, name)
	}
}

// Tables holds the model parameters transformed for one arithmetic. Decoders
// and the batch oracle share Tables so that both see identical values.
type Tables struct {
	Arithmetic Arithmetic
	Initial    []float64
	Transition [][]float64
	Emission   [][]float64
}

// Tables returns the parameters of m transformed for a.
func (m *Model) Tables(a Arithmetic) *Tables {
	return &Tables{
		Arithmetic: a,
		Initial:    transform(a, m.initial),
		Transition: rows(a, m.transition),
		Emission:   rows(a, m.emission),
	}
}

// States returns K.
func (t *Tables) States() int {
	return len(t.Initial)
}

// Symbols returns M.
func (t *Tables) Symbols() int {
	return len(t.Emission[0])
}

// Step extends a path scored prior, ending in state from, by one transition
// to state to emitting obs. In Probability arithmetic the product is taken
// left to right: prior · A[from][to] · E[to][obs].
func (t *Tables) Step(prior float64, from, to, obs int) float64 {
	if t.Arithmetic == LogProbability {
		return prior + t.Transition[from][to] + t.Emission[to][obs]
	}

	return prior * t.Transition[from][to] * t.Emission[to][obs]
}

// Zero is the score of an impossible path.
func (t *Tables) Zero() float64 {
	if t.Arithmetic == LogProbability {
		return math.Inf(-1)
	}

	return 0
}

func rows(a Arithmetic, m *mat.Dense) [][]float64 {
	r, _ := m.Dims()
	out := make([][]float64, r)

	for i := range r {
		out[i] = transform(a, m.RawRowView(i))
	}

	return out
}

func transform(a Arithmetic, values []float64) []float64 {
	out := make([]float64, len(values))

	for i, v := range values {
		if a == LogProbability {
			out[i] = math.Log(v)
		} else {
			out[i] = v
		}
	}

	return out
}
