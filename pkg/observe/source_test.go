package observe_test

import (
	"context"
	"io"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/streamvit/pkg/hmm"
	"github.com/Sumatoshi-tech/streamvit/pkg/observe"
)

func TestSlice(t *testing.T) {
	t.Parallel()

	src := observe.NewSlice([]int{2, 0, 1})

	got, err := observe.Collect(context.Background(), src, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0, 1}, got)

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestRandomWalk_StepsByZeroOrOne(t *testing.T) {
	t.Parallel()

	src := observe.NewRandomWalk(rand.New(rand.NewSource(5)), 4)

	got, err := observe.Collect(context.Background(), src, 500)
	require.NoError(t, err)
	require.Len(t, got, 500)
	assert.Equal(t, 0, got[0])

	moved := 0

	for i := 1; i < len(got); i++ {
		step := (got[i] - got[i-1] + 4) % 4
		assert.Contains(t, []int{0, 1}, step)

		moved += step
	}

	assert.Greater(t, moved, 150)
	assert.Less(t, moved, 350)
}

func TestSampler_KeepsHiddenStates(t *testing.T) {
	t.Parallel()

	m := hmm.Default()
	src := observe.NewSampler(rand.New(rand.NewSource(8)), m, true)

	obs, err := observe.Collect(context.Background(), src, 100)
	require.NoError(t, err)

	hidden := src.Hidden()
	require.Len(t, hidden, 100)

	for i := range obs {
		assert.Positive(t, m.Emission(hidden[i], obs[i]))
	}
}

func TestScanner(t *testing.T) {
	t.Parallel()

	src := observe.NewScanner(strings.NewReader("0 1\n 3\t2\n\n1"), 4)

	got, err := observe.Collect(context.Background(), src, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 3, 2, 1}, got)
}

func TestScanner_RejectsBadTokens(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"0 x", "0 4", "-1"} {
		src := observe.NewScanner(strings.NewReader(input), 4)

		_, err := observe.Collect(context.Background(), src, 0)
		assert.ErrorIs(t, err, observe.ErrSymbol, input)
	}
}

func TestPaced(t *testing.T) {
	t.Parallel()

	inner := observe.NewSlice([]int{1, 2, 3})
	assert.Same(t, inner, observe.NewPaced(inner, 0))

	src := observe.NewPaced(observe.NewSlice([]int{1, 2, 3}), 1000)

	got, err := observe.Collect(context.Background(), src, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, got)

	slow := observe.NewPaced(observe.NewSlice([]int{1, 2, 3}), 0.01)

	_, err = slow.Next(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = slow.Next(ctx)
	assert.Error(t, err)
}

func TestSkip(t *testing.T) {
	t.Parallel()

	src := observe.NewSlice([]int{4, 5, 6})

	require.NoError(t, observe.Skip(context.Background(), src, 2))

	o, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, o)

	err = observe.Skip(context.Background(), observe.NewSlice([]int{1}), 3)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestSkip_BypassesPacing(t *testing.T) {
	t.Parallel()

	obs := make([]int, 40)
	for i := range obs {
		obs[i] = i % 4
	}

	src := observe.NewPaced(observe.NewSlice(obs), 2)
	require.Implements(t, (*observe.Skipper)(nil), src)

	begin := time.Now()

	require.NoError(t, observe.Skip(context.Background(), src, 30))

	o, err := src.Next(context.Background())
	require.NoError(t, err)

	assert.Equal(t, obs[30], o)
	assert.Less(t, time.Since(begin), time.Second)

	err = observe.Skip(context.Background(), src, 20)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestSources_HonourCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sources := map[string]observe.Source{
		"slice":   observe.NewSlice([]int{1}),
		"walk":    observe.NewRandomWalk(rand.New(rand.NewSource(1)), 2),
		"sampler": observe.NewSampler(rand.New(rand.NewSource(1)), hmm.Default(), false),
		"scanner": observe.NewScanner(strings.NewReader("1"), 2),
	}

	for name, src := range sources {
		_, err := src.Next(ctx)
		assert.ErrorIs(t, err, context.Canceled, name)
	}
}
