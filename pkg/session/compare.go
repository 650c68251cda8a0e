package session

import (
	"math"
	"slices"

	"github.com/sergi/go-diff/diffmatchpatch"
	"gonum.org/v1/gonum/stat"
)

// Segment operations.
const (
	OpEqual  = "="
	OpOracle = "-"
	OpOnline = "+"
)

// Segment is one run of a state-sequence diff. OpOracle runs appear only in
// the batch path, OpOnline runs only in the online path.
type Segment struct {
	Op     string `json:"op" yaml:"op"`
	States []int  `json:"states" yaml:"states"`
}

// stateRuneBase keeps encoded states clear of the surrogate range.
const stateRuneBase = 0x100

// Diff aligns two decoded paths. It returns nil when they are equal.
func Diff(oracle, online []int) []Segment {
	if slices.Equal(oracle, online) {
		return nil
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMainRunes(toRunes(oracle), toRunes(online), false)
	diffs = dmp.DiffCleanupMerge(diffs)

	segments := make([]Segment, 0, len(diffs))

	for _, d := range diffs {
		var op string

		switch d.Type {
		case diffmatchpatch.DiffEqual:
			op = OpEqual
		case diffmatchpatch.DiffDelete:
			op = OpOracle
		case diffmatchpatch.DiffInsert:
			op = OpOnline
		}

		segments = append(segments, Segment{Op: op, States: fromRunes(d.Text)})
	}

	return segments
}

// Mismatches counts positions where the paths differ, including any
// difference in length.
func Mismatches(oracle, online []int) int {
	n := min(len(oracle), len(online))
	count := max(len(oracle), len(online)) - n

	for i := range n {
		if oracle[i] != online[i] {
			count++
		}
	}

	return count
}

func toRunes(states []int) []rune {
	out := make([]rune, len(states))
	for i, s := range states {
		out[i] = rune(stateRuneBase + s)
	}

	return out
}

func fromRunes(text string) []int {
	var out []int
	for _, r := range text {
		out = append(out, int(r)-stateRuneBase)
	}

	return out
}

// LagStats describes how many observed steps were waiting for a decision
// after each update.
type LagStats struct {
	Mean   float64 `json:"mean" yaml:"mean"`
	StdDev float64 `json:"stddev" yaml:"stddev"`
	P95    float64 `json:"p95" yaml:"p95"`
	Max    int     `json:"max" yaml:"max"`
}

// Lag summarizes pending counts.
func Lag(pending []float64) LagStats {
	if len(pending) == 0 {
		return LagStats{}
	}

	sorted := slices.Clone(pending)
	slices.Sort(sorted)

	ls := LagStats{
		Mean: stat.Mean(sorted, nil),
		P95:  stat.Quantile(0.95, stat.Empirical, sorted, nil),
		Max:  int(sorted[len(sorted)-1]),
	}

	if len(sorted) > 1 {
		ls.StdDev = stat.StdDev(sorted, nil)
	}

	if math.IsNaN(ls.StdDev) {
		ls.StdDev = 0
	}

	return ls
}
