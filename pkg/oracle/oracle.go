// Package oracle implements batch Viterbi decoding over a finite window.
//
// The recurrence matches the online decoder: the score of state j at time 0
// is max_i π[i]·A[i][j]·E[j][o0], later steps extend the previous column the
// same way, ties go to the lowest predecessor index and the backtrace starts
// from the lowest-index best final state.
package oracle

import (
	"math"

	"github.com/Sumatoshi-tech/streamvit/pkg/hmm"
	"gonum.org/v1/gonum/floats"
)

// Decode returns the most likely state sequence for obs. Observations must be
// valid symbols of tables. An empty window decodes to an empty sequence.
func Decode(tables *hmm.Tables, obs []int) []int {
	path, _ := DecodeScore(tables, obs)

	return path
}

// DecodeScore is like Decode and also returns the score of the best path.
func DecodeScore(tables *hmm.Tables, obs []int) ([]int, float64) {
	if len(obs) == 0 {
		return []int{}, tables.Zero()
	}

	k := tables.States()
	steps := len(obs)

	scores := tables.Initial
	preds := make([][]int, steps)

	for t, o := range obs {
		next := make([]float64, k)
		preds[t] = make([]int, k)

		for j := range k {
			best, arg := math.Inf(-1), 0

			for i := range k {
				if v := tables.Step(scores[i], i, j, o); v > best {
					best, arg = v, i
				}
			}

			next[j] = best
			preds[t][j] = arg
		}

		scores = next
	}

	path := make([]int, steps)
	path[steps-1] = floats.MaxIdx(scores)

	for t := steps - 2; t >= 0; t-- {
		path[t] = preds[t+1][path[t+1]]
	}

	return path, scores[path[steps-1]]
}
