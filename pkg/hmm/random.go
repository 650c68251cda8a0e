package hmm

import (
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// Random creates a model with k states, m symbols and random stochastic
// parameters drawn from gen.
func Random(gen *rand.Rand, k, m int) *Model {
	transition := make([][]float64, k)
	emission := make([][]float64, k)

	for i := range k {
		transition[i] = randomDist(gen, k)
		emission[i] = randomDist(gen, m)
	}

	return MustNew(randomDist(gen, k), transition, emission)
}

// Sample draws a hidden state sequence and the matching observations of
// length n. The first hidden state is drawn from the initial distribution.
func (m *Model) Sample(gen *rand.Rand, n int) (states, obs []int) {
	if n <= 0 {
		return nil, nil
	}

	states = make([]int, n)
	obs = make([]int, n)

	state := sampleIndex(gen, m.initial)

	for t := range n {
		states[t] = state
		obs[t] = m.SampleSymbol(gen, state)
		state = m.SampleNext(gen, state)
	}

	return states, obs
}

// SampleNext draws the successor of state from its transition row.
func (m *Model) SampleNext(gen *rand.Rand, state int) int {
	return sampleIndex(gen, m.transition.RawRowView(state))
}

// SampleSymbol draws an observation emitted by state.
func (m *Model) SampleSymbol(gen *rand.Rand, state int) int {
	return sampleIndex(gen, m.emission.RawRowView(state))
}

// SampleStart draws a state from the initial distribution.
func (m *Model) SampleStart(gen *rand.Rand) int {
	return sampleIndex(gen, m.initial)
}

func randomDist(gen *rand.Rand, n int) []float64 {
	dist := make([]float64, n)

	for i := range dist {
		dist[i] = gen.Float64()
	}

	floats.Scale(1/floats.Sum(dist), dist)

	return dist
}

func sampleIndex(gen *rand.Rand, probs []float64) int {
	num := gen.Float64() * floats.Sum(probs)

	for i, p := range probs {
		num -= p
		if num < 0 {
			return i
		}
	}

	return len(probs) - 1
}
