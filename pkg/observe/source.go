// Package observe provides observation streams for the decoders.
//
// A Source yields one symbol per call and returns io.EOF once the stream is
// exhausted. Sources honour context cancellation between observations.
package observe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/Sumatoshi-tech/streamvit/pkg/hmm"
)

// ErrSymbol is returned when an input token is not a valid symbol.
var ErrSymbol = errors.New("observe: invalid symbol")

// Source yields observation symbols.
type Source interface {
	Next(ctx context.Context) (int, error)
}

// Slice replays a fixed sequence.
type Slice struct {
	obs []int
	pos int
}

// NewSlice creates a source over obs.
func NewSlice(obs []int) *Slice {
	return &Slice{obs: obs}
}

// Next returns the next symbol or io.EOF.
func (s *Slice) Next(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if s.pos >= len(s.obs) {
		return 0, io.EOF
	}

	o := s.obs[s.pos]
	s.pos++

	return o, nil
}

// RandomWalk emits an endless walk over the symbols: every step either
// repeats the previous symbol or moves to the next one (mod M) with equal
// probability. The first symbol is 0.
type RandomWalk struct {
	gen     *rand.Rand
	symbols int
	prev    int
	started bool
}

// NewRandomWalk creates a walk over symbols symbols.
func NewRandomWalk(gen *rand.Rand, symbols int) *RandomWalk {
	return &RandomWalk{gen: gen, symbols: symbols}
}

// Next returns the next symbol of the walk.
func (w *RandomWalk) Next(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if !w.started {
		w.started = true

		return w.prev, nil
	}

	w.prev = (w.prev + w.gen.Intn(2)) % w.symbols

	return w.prev, nil
}

// Sampler draws observations from a model's own hidden chain.
type Sampler struct {
	model   *hmm.Model
	gen     *rand.Rand
	state   int
	started bool
	hidden  []int
	keep    bool
}

// NewSampler creates a sampler for model. When keepHidden is set the drawn
// hidden states are retained and available through Hidden.
func NewSampler(gen *rand.Rand, model *hmm.Model, keepHidden bool) *Sampler {
	return &Sampler{model: model, gen: gen, keep: keepHidden}
}

// Next draws the next hidden state and returns its emission.
func (s *Sampler) Next(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if s.started {
		s.state = s.model.SampleNext(s.gen, s.state)
	} else {
		s.state = s.model.SampleStart(s.gen)
		s.started = true
	}

	if s.keep {
		s.hidden = append(s.hidden, s.state)
	}

	return s.model.SampleSymbol(s.gen, s.state), nil
}

// Hidden returns the hidden states drawn so far.
func (s *Sampler) Hidden() []int {
	return s.hidden
}

// Scanner reads whitespace-separated symbols from a reader.
type Scanner struct {
	scan    *bufio.Scanner
	symbols int
	line    int
}

// NewScanner creates a scanner over r accepting symbols in [0, symbols).
func NewScanner(r io.Reader, symbols int) *Scanner {
	scan := bufio.NewScanner(r)
	scan.Split(bufio.ScanWords)

	return &Scanner{scan: scan, symbols: symbols}
}

// Next parses the next token.
func (s *Scanner) Next(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if !s.scan.Scan() {
		if err := s.scan.Err(); err != nil {
			return 0, fmt.Errorf("read observations: %w", err)
		}

		return 0, io.EOF
	}

	s.line++
	tok := s.scan.Text()

	o, err := strconv.Atoi(tok)
	if err != nil || o < 0 || o >= s.symbols {
		return 0, fmt.Errorf("%w: token %d %q, want [0, %d)", ErrSymbol, s.line, tok, s.symbols)
	}

	return o, nil
}

// Paced rate-limits another source.
type Paced struct {
	src     Source
	limiter *rate.Limiter
}

// NewPaced lets at most perSecond observations through per second. A
// non-positive rate disables pacing.
func NewPaced(src Source, perSecond float64) Source {
	if perSecond <= 0 {
		return src
	}

	return &Paced{src: src, limiter: rate.NewLimiter(rate.Limit(perSecond), 1)}
}

// Next waits for the limiter and then reads from the wrapped source.
func (p *Paced) Next(ctx context.Context) (int, error) {
	err := p.limiter.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("pace observations: %w", err)
	}

	return p.src.Next(ctx)
}

// Skip discards n observations from the wrapped source without waiting
// for the limiter.
func (p *Paced) Skip(ctx context.Context, n int) error {
	return Skip(ctx, p.src, n)
}

// Skipper is a Source that can discard observations faster than Next.
type Skipper interface {
	Skip(ctx context.Context, n int) error
}

// Skip discards n observations from src. It returns io.ErrUnexpectedEOF when
// the stream ends first.
func Skip(ctx context.Context, src Source, n int) error {
	if sk, ok := src.(Skipper); ok {
		return sk.Skip(ctx, n)
	}

	for i := range n {
		_, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("skip %d observations: ended after %d: %w", n, i, io.ErrUnexpectedEOF)
		}

		if err != nil {
			return fmt.Errorf("skip observations: %w", err)
		}
	}

	return nil
}

// Collect reads up to n observations (all of them when n <= 0).
func Collect(ctx context.Context, src Source, n int) ([]int, error) {
	var out []int

	for n <= 0 || len(out) < n {
		o, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}

		if err != nil {
			return out, err
		}

		out = append(out, o)
	}

	return out, nil
}
