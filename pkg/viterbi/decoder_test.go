package viterbi_test

import (
	"bytes"
	"errors"
	"log/slog"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/streamvit/pkg/hmm"
	"github.com/Sumatoshi-tech/streamvit/pkg/oracle"
	"github.com/Sumatoshi-tech/streamvit/pkg/viterbi"
)

// identicalRows has the same transition row for every state, so all paths
// merge after every step.
func identicalRows() *hmm.Model {
	row := []float64{0.2, 0.5, 0.3}

	return hmm.MustNew(
		[]float64{1.0 / 3, 1.0 / 3, 1.0 / 3},
		[][]float64{row, row, row},
		[][]float64{{0.5, 0.5}, {0.3, 0.7}, {0.9, 0.1}},
	)
}

// identity never leaves its initial state, so paths never merge.
func identity() *hmm.Model {
	return hmm.MustNew(
		[]float64{1.0 / 3, 1.0 / 3, 1.0 / 3},
		[][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		[][]float64{{0.5, 0.5}, {0.3, 0.7}, {0.9, 0.1}},
	)
}

func uniform() *hmm.Model {
	return hmm.MustNew(
		[]float64{0.5, 0.5},
		[][]float64{{0.5, 0.5}, {0.5, 0.5}},
		[][]float64{{0.5, 0.5}, {0.5, 0.5}},
	)
}

func newDecoder(t testing.TB, m *hmm.Model, opts ...viterbi.Option) *viterbi.Decoder {
	t.Helper()

	d, err := viterbi.New(m, opts...)
	require.NoError(t, err)
	require.NoError(t, d.Reset(0))

	return d
}

// decodeAll feeds obs from time 0, flushes and returns everything emitted.
func decodeAll(t testing.TB, d *viterbi.Decoder, obs []int) []int {
	t.Helper()

	var out []int

	for i, o := range obs {
		states, err := d.Update(i, o)
		require.NoError(t, err)

		out = append(out, states...)
	}

	tail, err := d.Flush()
	require.NoError(t, err)

	return append(out, tail...)
}

func sparseRandom(gen *rand.Rand, k, m int) *hmm.Model {
	base := hmm.Random(gen, k, m)
	transition := make([][]float64, k)

	for i := range k {
		row := make([]float64, k)
		row[i] = 1

		for j := range k {
			if j != i && gen.Intn(2) == 0 {
				row[j] = base.Transition(i, j)
			}
		}

		sum := 0.0
		for _, v := range row {
			sum += v
		}

		for j := range row {
			row[j] /= sum
		}

		transition[i] = row
	}

	emission := make([][]float64, k)
	for i := range k {
		emission[i] = make([]float64, m)
		for o := range m {
			emission[i][o] = base.Emission(i, o)
		}
	}

	return hmm.MustNew(base.InitialDistribution(), transition, emission)
}

func TestDecoder_MatchesOracle(t *testing.T) {
	t.Parallel()

	for _, arithmetic := range []hmm.Arithmetic{hmm.Probability, hmm.LogProbability} {
		t.Run(arithmetic.String(), func(t *testing.T) {
			t.Parallel()

			gen := rand.New(rand.NewSource(42))

			for trial := range 300 {
				k, m := 1+gen.Intn(5), 1+gen.Intn(4)

				model := hmm.Random(gen, k, m)
				if trial%3 == 0 {
					model = sparseRandom(gen, k, m)
				}

				obs := make([]int, 1+gen.Intn(60))
				for i := range obs {
					obs[i] = gen.Intn(m)
				}

				d := newDecoder(t, model, viterbi.WithArithmetic(arithmetic))
				require.NoError(t, d.Reset(gen.Intn(k)))

				got := decodeAll(t, d, obs)
				want := oracle.Decode(d.Tables(), obs)

				require.Equal(t, want, got, "trial %d k=%d obs=%v", trial, k, obs)
				require.Equal(t, want, d.Decoded())
				require.LessOrEqual(t, d.Stats().Nodes, 4*k, "trial %d", trial)
			}
		})
	}
}

func TestDecoder_TenZeros(t *testing.T) {
	t.Parallel()

	obs := make([]int, 10)
	d := newDecoder(t, hmm.Default())

	for i, o := range obs {
		states, err := d.Update(i, o)
		require.NoError(t, err)
		assert.Empty(t, states, "time %d", i)
	}

	_, ok := d.Root()
	assert.False(t, ok)

	tail, err := d.Flush()
	require.NoError(t, err)

	assert.Equal(t, make([]int, 10), tail)
	assert.Equal(t, oracle.Decode(hmm.Default().Tables(hmm.Probability), obs), tail)
	assert.Equal(t, viterbi.Drained, d.Phase())
}

func TestDecoder_ReConvergence(t *testing.T) {
	t.Parallel()

	type event struct {
		root, prev int
		emitted    []int
	}

	tests := []struct {
		name   string
		obs    []int
		events map[int]event
		tail   []int
	}{
		{
			name: "two_events",
			obs:  []int{3, 2, 0, 3, 1, 3, 3, 1, 2, 2},
			events: map[int]event{
				6: {root: 3, prev: -1, emitted: []int{3, 3, 0, 0}},
				9: {root: 6, prev: 3, emitted: []int{0, 0, 0}},
			},
			tail: []int{1, 2, 2},
		},
		{
			name: "three_events",
			obs:  []int{1, 2, 3, 1, 3, 2, 3, 2, 1, 3},
			events: map[int]event{
				3: {root: 0, prev: -1, emitted: []int{2}},
				4: {root: 1, prev: 0, emitted: []int{2}},
				7: {root: 3, prev: 1, emitted: []int{2, 2}},
			},
			tail: []int{2, 2, 2, 2, 2, 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := newDecoder(t, hmm.Default())
			lastRoot := -1

			for i, o := range tt.obs {
				states, err := d.Update(i, o)
				require.NoError(t, err)

				ev, ok := tt.events[i]
				if !ok {
					assert.Empty(t, states, "time %d", i)

					continue
				}

				assert.Equal(t, ev.emitted, states, "time %d", i)

				root, hasRoot := d.Root()
				require.True(t, hasRoot)
				assert.Equal(t, ev.root, root.Time)
				assert.Equal(t, root.Time-lastRoot, len(states))

				prev, hasPrev := d.PrevRoot()
				if ev.prev < 0 {
					assert.False(t, hasPrev)
				} else {
					require.True(t, hasPrev)
					assert.Equal(t, ev.prev, prev.Time)
					assert.Equal(t, lastRoot, prev.Time)
				}

				assert.Equal(t, states[len(states)-1], root.State)

				lastRoot = root.Time
			}

			tail, err := d.Flush()
			require.NoError(t, err)
			assert.Equal(t, tt.tail, tail)
			assert.Equal(t, oracle.Decode(d.Tables(), tt.obs), d.Decoded())
		})
	}
}

func TestDecoder_TieBreakPicksLowestState(t *testing.T) {
	t.Parallel()

	d := newDecoder(t, uniform())
	obs := []int{1, 0, 1, 1, 0}

	for i, o := range obs[:3] {
		_, err := d.Update(i, o)
		require.NoError(t, err)
	}

	snap, err := d.Snapshot()
	require.NoError(t, err)

	for _, col := range snap.Columns {
		if col.Time < 0 {
			continue
		}

		assert.Equal(t, []int{0, 0}, col.Preds, "column %d", col.Time)
	}

	for i, o := range obs[3:] {
		_, err := d.Update(i+3, o)
		require.NoError(t, err)
	}

	_, err = d.Flush()
	require.NoError(t, err)

	assert.Equal(t, []int{0, 0, 0, 0, 0}, d.Decoded())
}

func TestDecoder_BoundedOnMergingModel(t *testing.T) {
	t.Parallel()

	m := identicalRows()
	k := m.States()
	gen := rand.New(rand.NewSource(9))
	d := newDecoder(t, m, viterbi.WithoutHistory())

	for i := range 10000 {
		states, err := d.Update(i, gen.Intn(m.Symbols()))
		require.NoError(t, err)

		if i > 0 {
			require.Len(t, states, 1, "time %d", i)
		}

		stats := d.Stats()
		require.LessOrEqual(t, stats.Nodes, 2*k, "time %d", i)
		require.LessOrEqual(t, stats.Columns, 2, "time %d", i)
	}

	stats := d.Stats()
	assert.Equal(t, 9999, stats.Decoded)
	assert.Equal(t, 9999, stats.Convergences)
	assert.Equal(t, 1, stats.Pending)
	assert.Empty(t, d.Decoded())
}

func TestDecoder_NeverConvergingModel(t *testing.T) {
	t.Parallel()

	// Raw products would underflow long before 2000 steps and merge every
	// path through state 0.
	m := identity()
	k := m.States()
	gen := rand.New(rand.NewSource(4))
	d := newDecoder(t, m, viterbi.WithArithmetic(hmm.LogProbability))
	obs := make([]int, 2000)

	for i := range obs {
		obs[i] = gen.Intn(m.Symbols())

		states, err := d.Update(i, obs[i])
		require.NoError(t, err)
		require.Empty(t, states)

		stats := d.Stats()
		require.LessOrEqual(t, stats.Nodes, 2*k, "time %d", i)
		require.Equal(t, i+2, stats.Columns)
	}

	tail, err := d.Flush()
	require.NoError(t, err)
	assert.Equal(t, oracle.Decode(d.Tables(), obs), tail)
}

func TestDecoder_FlushWithoutObservations(t *testing.T) {
	t.Parallel()

	d := newDecoder(t, hmm.Default())

	out, err := d.Flush()
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, viterbi.Drained, d.Phase())

	_, err = d.Flush()
	require.ErrorIs(t, err, viterbi.ErrNotStreaming)

	_, err = d.Update(0, 0)
	require.ErrorIs(t, err, viterbi.ErrNotStreaming)

	require.NoError(t, d.Reset(1))
	assert.Equal(t, viterbi.Streaming, d.Phase())
}

func TestDecoder_Preconditions(t *testing.T) {
	t.Parallel()

	_, err := viterbi.New(nil)
	require.ErrorIs(t, err, viterbi.ErrModel)

	_, err = viterbi.New(hmm.Default(), viterbi.WithArithmetic(hmm.Arithmetic(7)))
	require.ErrorIs(t, err, viterbi.ErrModel)

	d, err := viterbi.New(hmm.Default())
	require.NoError(t, err)
	assert.Equal(t, viterbi.Empty, d.Phase())

	_, err = d.Update(0, 0)
	require.ErrorIs(t, err, viterbi.ErrNotStreaming)

	_, err = d.Flush()
	require.ErrorIs(t, err, viterbi.ErrNotStreaming)

	require.ErrorIs(t, d.Reset(-1), viterbi.ErrStartState)
	require.ErrorIs(t, d.Reset(4), viterbi.ErrStartState)
	require.NoError(t, d.Reset(3))

	tests := []struct {
		name string
		t    int
		obs  int
		want error
	}{
		{name: "skipped_time", t: 1, obs: 0, want: viterbi.ErrTimeOrder},
		{name: "negative_time", t: -1, obs: 0, want: viterbi.ErrTimeOrder},
		{name: "symbol_too_large", t: 0, obs: 4, want: viterbi.ErrObservation},
		{name: "negative_symbol", t: 0, obs: -1, want: viterbi.ErrObservation},
	}

	for _, tt := range tests {
		_, err := d.Update(tt.t, tt.obs)
		require.ErrorIs(t, err, tt.want, tt.name)
		assert.Equal(t, 0, d.Next(), tt.name)
		assert.Equal(t, 1, d.Stats().Columns, tt.name)
	}

	_, err = d.Update(0, 2)
	require.NoError(t, err)

	_, err = d.Update(0, 2)
	require.ErrorIs(t, err, viterbi.ErrTimeOrder)
	assert.Equal(t, 1, d.Next())
}

func TestDecoder_OutputNeverRetracts(t *testing.T) {
	t.Parallel()

	gen := rand.New(rand.NewSource(17))
	m := hmm.Random(gen, 4, 3)

	var seen []int

	sink := viterbi.SinkFunc(func(states []int) error {
		seen = append(seen, states...)

		return nil
	})

	d := newDecoder(t, m, viterbi.WithSink(sink))

	var before []int

	for i := range 500 {
		_, err := d.Update(i, gen.Intn(3))
		require.NoError(t, err)

		after := d.Decoded()
		require.GreaterOrEqual(t, len(after), len(before))
		require.True(t, slices.Equal(before, after[:len(before)]), "time %d", i)
		require.Equal(t, seen, after)

		before = after
	}
}

func TestDecoder_SinkErrorIsReturned(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	d := newDecoder(t, identicalRows(), viterbi.WithSink(viterbi.SinkFunc(func([]int) error {
		return boom
	})))

	_, err := d.Update(0, 0)
	require.NoError(t, err)

	states, err := d.Update(1, 1)
	require.ErrorIs(t, err, boom)
	assert.Len(t, states, 1)
	assert.Equal(t, 2, d.Next())
}

func TestDecoder_SliceAndWriterSinks(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	m := identicalRows().WithNames([]string{"a", "b", "c"}, nil)
	collected := &viterbi.SliceSink{}
	d := newDecoder(t, m, viterbi.WithSink(viterbi.SinkFunc(func(states []int) error {
		require.NoError(t, collected.Emit(states))

		return viterbi.NewWriterSink(&buf, m.StateName).Emit(states)
	})))

	got := decodeAll(t, d, []int{0, 1, 1, 0})

	assert.Equal(t, got, collected.States)
	assert.Equal(t, 4, collected.Runs)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	assert.Len(t, lines, 4)

	var plain bytes.Buffer
	require.NoError(t, viterbi.NewWriterSink(&plain, nil).Emit([]int{2, 0, 1}))
	assert.Equal(t, "2 0 1\n", plain.String())
}

func TestDecoder_ResetClearsState(t *testing.T) {
	t.Parallel()

	d := newDecoder(t, hmm.Default())
	decodeAll(t, d, []int{3, 2, 0, 3, 1, 3, 3, 1})

	require.NoError(t, d.Reset(2))

	stats := d.Stats()
	assert.Equal(t, viterbi.Stats{Time: -1, Columns: 1}, stats)
	assert.Empty(t, d.Decoded())

	_, ok := d.Root()
	assert.False(t, ok)

	_, ok = d.PrevRoot()
	assert.False(t, ok)
}

func TestDecoder_Underflow(t *testing.T) {
	t.Parallel()

	m := hmm.MustNew(
		[]float64{0.5, 0.5},
		[][]float64{{0.5, 0.5}, {0.5, 0.5}},
		[][]float64{{1, 0}, {1, 0}},
	)

	for _, a := range []hmm.Arithmetic{hmm.Probability, hmm.LogProbability} {
		d := newDecoder(t, m, viterbi.WithArithmetic(a))

		_, err := d.Update(0, 0)
		require.NoError(t, err)
		assert.False(t, d.Stats().Underflow, a.String())

		_, err = d.Update(1, 1)
		require.NoError(t, err)
		assert.True(t, d.Stats().Underflow, a.String())
	}
}

func TestDecoder_LogsConvergence(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	d := newDecoder(t, hmm.Default(), viterbi.WithLogger(logger))

	decodeAll(t, d, []int{3, 2, 0, 3, 1, 3, 3, 1, 2, 2})

	assert.Contains(t, buf.String(), "decoder converged")
	assert.Contains(t, buf.String(), "root_time=6")
	assert.Contains(t, buf.String(), "prev_root_time=3")
	assert.Contains(t, buf.String(), "decoder flushed")
}

func TestPhase_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "empty", viterbi.Empty.String())
	assert.Equal(t, "streaming", viterbi.Streaming.String())
	assert.Equal(t, "drained", viterbi.Drained.String())
	assert.Equal(t, "phase(9)", viterbi.Phase(9).String())
}

func BenchmarkDecoder_Update(b *testing.B) {
	m := hmm.Default()
	gen := rand.New(rand.NewSource(1))
	_, obs := m.Sample(gen, 4096)
	d := newDecoder(b, m, viterbi.WithoutHistory())

	b.ReportAllocs()
	b.ResetTimer()

	for i := range b.N {
		if i%len(obs) == 0 && i > 0 {
			_, _ = d.Flush()
			_ = d.Reset(0)
		}

		_, _ = d.Update(i%len(obs), obs[i%len(obs)])
	}
}

func BenchmarkOracle_Decode(b *testing.B) {
	m := hmm.Default()
	gen := rand.New(rand.NewSource(1))
	_, obs := m.Sample(gen, 4096)
	tables := m.Tables(hmm.Probability)

	b.ReportAllocs()
	b.ResetTimer()

	for range b.N {
		oracle.Decode(tables, obs)
	}
}
