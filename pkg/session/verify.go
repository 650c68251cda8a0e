package session

import (
	"context"
	"fmt"
	"math/rand"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Sumatoshi-tech/streamvit/pkg/hmm"
	"github.com/Sumatoshi-tech/streamvit/pkg/oracle"
	"github.com/Sumatoshi-tech/streamvit/pkg/viterbi"
)

// VerifyConfig controls a randomized equivalence check.
type VerifyConfig struct {
	Models     int
	Windows    int
	MaxStates  int
	MaxSymbols int
	MaxWindow  int
	Seed       int64
	Workers    int
	Arithmetic hmm.Arithmetic
}

// VerifyFailure is one window where the online and batch paths differ.
type VerifyFailure struct {
	Model        int       `json:"model" yaml:"model"`
	Window       int       `json:"window" yaml:"window"`
	States       int       `json:"states" yaml:"states"`
	Symbols      int       `json:"symbols" yaml:"symbols"`
	Start        int       `json:"start" yaml:"start"`
	Observations []int     `json:"observations" yaml:"observations"`
	Oracle       []int     `json:"oracle" yaml:"oracle"`
	Online       []int     `json:"online" yaml:"online"`
	Diff         []Segment `json:"diff" yaml:"diff"`
}

// VerifyResult summarizes a verification run.
type VerifyResult struct {
	Models       int             `json:"models" yaml:"models"`
	Windows      int             `json:"windows" yaml:"windows"`
	Observations int             `json:"observations" yaml:"observations"`
	Convergences int             `json:"convergences" yaml:"convergences"`
	MaxNodes     int             `json:"max_nodes" yaml:"max_nodes"`
	Failures     []VerifyFailure `json:"failures,omitempty" yaml:"failures,omitempty"`
	Duration     time.Duration   `json:"duration_ns" yaml:"duration_ns"`
}

// OK reports whether no window failed.
func (v *VerifyResult) OK() bool {
	return len(v.Failures) == 0
}

type modelResult struct {
	windows      int
	observations int
	convergences int
	maxNodes     int
	failures     []VerifyFailure
}

// Verify decodes random windows of random models with both the streaming
// decoder and the batch oracle and reports every difference. Models are
// checked concurrently; each uses its own generator seeded from Seed, so
// results do not depend on scheduling.
func Verify(ctx context.Context, cfg VerifyConfig) (*VerifyResult, error) {
	if cfg.Models <= 0 || cfg.Windows <= 0 || cfg.MaxStates <= 0 || cfg.MaxSymbols <= 0 || cfg.MaxWindow <= 0 {
		return nil, fmt.Errorf("%w: verify sizes must be positive", ErrConfig)
	}

	begin := time.Now()
	results := make([]modelResult, cfg.Models)

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Workers > 0 {
		g.SetLimit(cfg.Workers)
	}

	for i := range cfg.Models {
		g.Go(func() error {
			res, err := verifyModel(ctx, cfg, i)
			if err != nil {
				return fmt.Errorf("model %d: %w", i, err)
			}

			results[i] = res

			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		return nil, err
	}

	out := &VerifyResult{Models: cfg.Models}

	for _, r := range results {
		out.Windows += r.windows
		out.Observations += r.observations
		out.Convergences += r.convergences
		out.MaxNodes = max(out.MaxNodes, r.maxNodes)
		out.Failures = append(out.Failures, r.failures...)
	}

	out.Duration = time.Since(begin)

	return out, nil
}

func verifyModel(ctx context.Context, cfg VerifyConfig, index int) (modelResult, error) {
	gen := rand.New(rand.NewSource(cfg.Seed + int64(index)))
	k := 1 + gen.Intn(cfg.MaxStates)
	m := 1 + gen.Intn(cfg.MaxSymbols)
	model := hmm.Random(gen, k, m)

	var online []int

	d, err := viterbi.New(model, viterbi.WithArithmetic(cfg.Arithmetic), viterbi.WithSink(viterbi.SinkFunc(
		func(states []int) error {
			online = append(online, states...)

			return nil
		})))
	if err != nil {
		return modelResult{}, err
	}

	var res modelResult

	for w := range cfg.Windows {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		_, obs := model.Sample(gen, 1+gen.Intn(cfg.MaxWindow))
		start := gen.Intn(k)
		online = online[:0]

		err = d.Reset(start)
		if err != nil {
			return res, err
		}

		for t, o := range obs {
			_, err = d.Update(t, o)
			if err != nil {
				return res, err
			}

			res.maxNodes = max(res.maxNodes, d.Stats().Nodes)
		}

		res.convergences += d.Stats().Convergences

		_, err = d.Flush()
		if err != nil {
			return res, err
		}

		res.windows++
		res.observations += len(obs)

		batch := oracle.Decode(d.Tables(), obs)
		if slices.Equal(batch, online) {
			continue
		}

		res.failures = append(res.failures, VerifyFailure{
			Model:        index,
			Window:       w,
			States:       k,
			Symbols:      m,
			Start:        start,
			Observations: obs,
			Oracle:       batch,
			Online:       slices.Clone(online),
			Diff:         Diff(batch, online),
		})
	}

	return res, nil
}
