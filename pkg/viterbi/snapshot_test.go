package viterbi_test

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/streamvit/pkg/hmm"
	"github.com/Sumatoshi-tech/streamvit/pkg/oracle"
	"github.com/Sumatoshi-tech/streamvit/pkg/viterbi"
)

func TestSnapshot_RestoreContinuesDecoding(t *testing.T) {
	t.Parallel()

	gen := rand.New(rand.NewSource(23))

	for trial := range 40 {
		m := hmm.Random(gen, 2+gen.Intn(4), 1+gen.Intn(3))
		_, obs := m.Sample(gen, 20+gen.Intn(40))
		cut := gen.Intn(len(obs))

		d := newDecoder(t, m)

		for i := range cut {
			_, err := d.Update(i, obs[i])
			require.NoError(t, err)
		}

		snap, err := d.Snapshot()
		require.NoError(t, err)

		data, err := json.Marshal(snap)
		require.NoError(t, err)

		var decoded viterbi.Snapshot
		require.NoError(t, json.Unmarshal(data, &decoded))

		resumed, err := viterbi.New(m)
		require.NoError(t, err)
		require.NoError(t, resumed.Restore(&decoded))

		assert.Equal(t, d.Stats(), resumed.Stats(), "trial %d", trial)
		assert.Equal(t, cut, resumed.Next())

		for i := cut; i < len(obs); i++ {
			want, err := d.Update(i, obs[i])
			require.NoError(t, err)

			got, err := resumed.Update(i, obs[i])
			require.NoError(t, err)
			require.Equal(t, want, got, "trial %d time %d", trial, i)
		}

		_, err = resumed.Flush()
		require.NoError(t, err)

		assert.Equal(t, oracle.Decode(resumed.Tables(), obs), resumed.Decoded(), "trial %d", trial)
	}
}

func TestSnapshot_KeepsFreedAnchors(t *testing.T) {
	t.Parallel()

	d := newDecoder(t, hmm.Default())
	obs := []int{3, 2, 0, 3, 1, 3, 3, 1, 2, 2}

	for i, o := range obs[:9] {
		_, err := d.Update(i, o)
		require.NoError(t, err)
	}

	snap, err := d.Snapshot()
	require.NoError(t, err)
	require.NotNil(t, snap.Root)
	assert.Equal(t, 3, snap.Root.Time)

	resumed, err := viterbi.New(hmm.Default())
	require.NoError(t, err)
	require.NoError(t, resumed.Restore(snap))

	states, err := resumed.Update(9, obs[9])
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0}, states)

	prev, ok := resumed.PrevRoot()
	require.True(t, ok)
	assert.Equal(t, 3, prev.Time)
}

func TestSnapshot_Rejects(t *testing.T) {
	t.Parallel()

	d := newDecoder(t, hmm.Default())

	for i, o := range []int{1, 2, 3} {
		_, err := d.Update(i, o)
		require.NoError(t, err)
	}

	valid, err := d.Snapshot()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(s *viterbi.Snapshot)
	}{
		{name: "shape", mutate: func(s *viterbi.Snapshot) { s.States = 3 }},
		{name: "arithmetic", mutate: func(s *viterbi.Snapshot) { s.Arithmetic = "log" }},
		{name: "start", mutate: func(s *viterbi.Snapshot) { s.Start = 9 }},
		{name: "frontier_length", mutate: func(s *viterbi.Snapshot) { s.Frontier = s.Frontier[:2] }},
		{name: "frontier_swapped", mutate: func(s *viterbi.Snapshot) {
			s.Frontier[0], s.Frontier[1] = s.Frontier[1], s.Frontier[0]
		}},
		{name: "frontier_dangling", mutate: func(s *viterbi.Snapshot) { s.Frontier[0] = 99 }},
		{name: "stale_time", mutate: func(s *viterbi.Snapshot) { s.Next = 7 }},
		{name: "column_width", mutate: func(s *viterbi.Snapshot) { s.Columns[0].Preds = []int{0} }},
		{name: "pred_too_large", mutate: func(s *viterbi.Snapshot) { s.Columns[len(s.Columns)-1].Preds[2] = 4 }},
		{name: "pred_negative", mutate: func(s *viterbi.Snapshot) { s.Columns[0].Preds[0] = -1 }},
		{name: "corrupt_nodes", mutate: func(s *viterbi.Snapshot) { s.Nodes[0].Children = 17 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			snap := cloneSnapshot(t, valid)
			tt.mutate(snap)

			target, err := viterbi.New(hmm.Default())
			require.NoError(t, err)

			err = target.Restore(snap)
			require.ErrorIs(t, err, viterbi.ErrSnapshot)
			assert.Equal(t, viterbi.Empty, target.Phase())
		})
	}

	require.ErrorIs(t, d.Restore(nil), viterbi.ErrSnapshot)
}

func TestSnapshot_RejectsMisplacedAnchors(t *testing.T) {
	t.Parallel()

	d := newDecoder(t, hmm.Default())

	for i, o := range []int{3, 2, 0, 3, 1, 3, 3, 1, 2} {
		_, err := d.Update(i, o)
		require.NoError(t, err)
	}

	valid, err := d.Snapshot()
	require.NoError(t, err)
	require.NotNil(t, valid.Root)

	tests := []struct {
		name   string
		mutate func(s *viterbi.Snapshot)
	}{
		{name: "root_at_next", mutate: func(s *viterbi.Snapshot) { s.Root.Time = s.Next }},
		{name: "prev_root_after_root", mutate: func(s *viterbi.Snapshot) {
			s.PrevRoot = &viterbi.AnchorRecord{State: 0, Time: s.Root.Time + 1}
		}},
		{name: "prev_root_equal_root", mutate: func(s *viterbi.Snapshot) {
			s.PrevRoot = &viterbi.AnchorRecord{State: 0, Time: s.Root.Time}
		}},
		{name: "prev_root_without_root", mutate: func(s *viterbi.Snapshot) {
			s.PrevRoot = s.Root
			s.Root = nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			snap := cloneSnapshot(t, valid)
			tt.mutate(snap)

			target, err := viterbi.New(hmm.Default())
			require.NoError(t, err)

			err = target.Restore(snap)
			require.ErrorIs(t, err, viterbi.ErrSnapshot)
			assert.Equal(t, viterbi.Empty, target.Phase())

			_, err = target.Flush()
			require.ErrorIs(t, err, viterbi.ErrNotStreaming)
		})
	}
}

func TestSnapshot_RequiresStreaming(t *testing.T) {
	t.Parallel()

	d, err := viterbi.New(hmm.Default())
	require.NoError(t, err)

	_, err = d.Snapshot()
	require.ErrorIs(t, err, viterbi.ErrNotStreaming)

	require.NoError(t, d.Reset(0))

	snap, err := d.Snapshot()
	require.NoError(t, err)
	assert.Zero(t, snap.Next)
	assert.Empty(t, snap.Frontier)
	require.Len(t, snap.Columns, 1)

	restored, err := viterbi.New(hmm.Default())
	require.NoError(t, err)
	require.NoError(t, restored.Restore(snap))
	assert.Equal(t, viterbi.Streaming, restored.Phase())

	_, err = d.Flush()
	require.NoError(t, err)

	_, err = d.Snapshot()
	require.ErrorIs(t, err, viterbi.ErrNotStreaming)
}

func cloneSnapshot(t *testing.T, s *viterbi.Snapshot) *viterbi.Snapshot {
	t.Helper()

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var out viterbi.Snapshot
	require.NoError(t, json.Unmarshal(data, &out))

	return &out
}
