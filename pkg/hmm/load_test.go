package hmm_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/streamvit/pkg/hmm"
)

const weatherYAML = `
name: weather
states: [rainy, sunny]
symbols: [walk, shop, clean]
initial: [0.6, 0.4]
transition:
  - [0.7, 0.3]
  - [0.4, 0.6]
emission:
  - [0.1, 0.4, 0.5]
  - [0.6, 0.3, 0.1]
`

const weatherJSON = `{
  "initial": [0.6, 0.4],
  "transition": [[0.7, 0.3], [0.4, 0.6]],
  "emission": [[0.1, 0.4, 0.5], [0.6, 0.3, 0.1]]
}`

func TestParse_YAML(t *testing.T) {
	t.Parallel()

	m, err := hmm.Parse([]byte(weatherYAML))
	require.NoError(t, err)

	assert.Equal(t, 2, m.States())
	assert.Equal(t, 3, m.Symbols())
	assert.Equal(t, "sunny", m.StateName(1))
	assert.Equal(t, "clean", m.SymbolName(2))
	assert.InDelta(t, 0.4, m.Transition(1, 0), 0)
}

func TestParse_JSON(t *testing.T) {
	t.Parallel()

	m, err := hmm.Parse([]byte(weatherJSON))
	require.NoError(t, err)

	assert.InDelta(t, 0.5, m.Emission(0, 2), 0)
	assert.Equal(t, "0", m.StateName(0))
}

func TestParse_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
		want error
	}{
		{
			name: "missing_emission",
			doc:  "initial: [1]\ntransition: [[1]]\n",
			want: hmm.ErrSchema,
		},
		{
			name: "unknown_field",
			doc:  "initial: [1]\ntransition: [[1]]\nemission: [[1]]\nweights: [1]\n",
			want: hmm.ErrSchema,
		},
		{
			name: "probability_above_one",
			doc:  "initial: [1]\ntransition: [[2]]\nemission: [[1]]\n",
			want: hmm.ErrSchema,
		},
		{
			name: "not_a_mapping",
			doc:  "- 1\n- 2\n",
			want: hmm.ErrSchema,
		},
		{
			name: "ragged_transition",
			doc:  "initial: [0.5, 0.5]\ntransition: [[1], [0.5, 0.5]]\nemission: [[1], [1]]\n",
			want: hmm.ErrShape,
		},
		{
			name: "row_not_stochastic",
			doc:  "initial: [0.5, 0.5]\ntransition: [[0.5, 0.4], [0.5, 0.5]]\nemission: [[1], [1]]\n",
			want: hmm.ErrNotStochastic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := hmm.Parse([]byte(tt.doc))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoad_RoundTripsMarshal(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "default.yaml")

	data, err := hmm.Marshal(hmm.Default())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	m, err := hmm.Load(path)
	require.NoError(t, err)

	want := hmm.Default()
	for i := range want.States() {
		for j := range want.States() {
			assert.InDelta(t, want.Transition(i, j), m.Transition(i, j), 0)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := hmm.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
