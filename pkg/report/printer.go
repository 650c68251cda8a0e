package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Sumatoshi-tech/streamvit/pkg/session"
)

// Printer writes human-readable reports.
type Printer struct {
	w     io.Writer
	name  func(int) string
	good  *color.Color
	bad   *color.Color
	muted *color.Color
}

// NewPrinter creates a printer. name renders a state; nil prints indices.
func NewPrinter(w io.Writer, name func(int) string, noColor bool) *Printer {
	if name == nil {
		name = strconv.Itoa
	}

	p := &Printer{
		w:     w,
		name:  name,
		good:  color.New(color.FgGreen, color.Bold),
		bad:   color.New(color.FgRed, color.Bold),
		muted: color.New(color.FgCyan),
	}

	if noColor {
		p.good.DisableColor()
		p.bad.DisableColor()
		p.muted.DisableColor()
	}

	return p
}

func (p *Printer) states(states []int) string {
	parts := make([]string, len(states))
	for i, s := range states {
		parts[i] = p.name(s)
	}

	return strings.Join(parts, " ")
}

func symbols(obs []int) string {
	parts := make([]string, len(obs))
	for i, o := range obs {
		parts[i] = strconv.Itoa(o)
	}

	return strings.Join(parts, " ")
}

// WriteWindow prints one window the way the reference driver does: the
// observations, the batch path and the online path, followed by a verdict.
func (p *Printer) WriteWindow(w *session.WindowReport) error {
	verdict := p.good.Sprint("MATCH")
	if !w.Match {
		verdict = p.bad.Sprintf("MISMATCH (%d)", w.Mismatches)
	}

	_, err := fmt.Fprintf(p.w, "window %d @%s  %s\n"+
		"observations:          %s\n"+
		"Std Viterbi window:    %s\n"+
		"Online Viterbi window: %s\n",
		w.Index, humanize.Comma(int64(w.Offset)), verdict,
		symbols(w.Observations), p.states(w.Oracle), p.states(w.Online))
	if err != nil {
		return fmt.Errorf("write window: %w", err)
	}

	if len(w.Diff) > 0 {
		_, err = fmt.Fprintf(p.w, "diff:                  %s\n", p.diff(w.Diff))
		if err != nil {
			return fmt.Errorf("write window: %w", err)
		}
	}

	_, err = fmt.Fprintln(p.w)
	if err != nil {
		return fmt.Errorf("write window: %w", err)
	}

	return nil
}

func (p *Printer) diff(segments []session.Segment) string {
	parts := make([]string, 0, len(segments))

	for _, seg := range segments {
		text := p.states(seg.States)

		switch seg.Op {
		case session.OpOracle:
			parts = append(parts, p.bad.Sprintf("-[%s]", text))
		case session.OpOnline:
			parts = append(parts, p.good.Sprintf("+[%s]", text))
		default:
			parts = append(parts, p.muted.Sprint(text))
		}
	}

	return strings.Join(parts, " ")
}

// WriteWindows prints one table row per window.
func (p *Printer) WriteWindows(reports []*session.WindowReport) error {
	tbl := newTable()
	tbl.AppendHeader(table.Row{"#", "Offset", "Len", "Conv", "Nodes", "Cols", "Lag p95", "Result"})

	for _, w := range reports {
		result := p.good.Sprint("ok")
		if !w.Match {
			result = p.bad.Sprintf("%d differ", w.Mismatches)
		}

		tbl.AppendRow(table.Row{
			w.Index, humanize.Comma(int64(w.Offset)), len(w.Observations), w.Convergences,
			w.MaxNodes, w.MaxColumns, fmt.Sprintf("%.1f", w.Lag.P95), result,
		})
	}

	tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d windows", len(reports))})

	return p.render(tbl)
}

// WriteSummary prints the run totals.
func (p *Printer) WriteSummary(s *session.Summary) error {
	tbl := newTable()
	tbl.SetTitle("streamvit %s run", s.Mode)

	rows := []table.Row{
		{"Observations", humanize.Comma(int64(s.Observations))},
		{"States emitted", humanize.Comma(int64(s.Emitted))},
		{"Convergences", humanize.Comma(int64(s.Convergences))},
		{"Peak forest nodes", s.MaxNodes},
		{"Peak trellis columns", s.MaxColumns},
		{"Pending steps mean / p95 / max", fmt.Sprintf("%.2f / %.1f / %d", s.Lag.Mean, s.Lag.P95, s.Lag.Max)},
		{"Duration", s.Duration.Round(time.Millisecond).String()},
	}

	if s.Resumed > 0 {
		rows = append(rows, table.Row{"Resumed after", humanize.Comma(int64(s.Resumed))})
	}

	if s.Mode == session.ModeWindow {
		verdict := p.good.Sprintf("%s / %s", humanize.Comma(int64(s.Matched)), humanize.Comma(int64(s.Windows)))
		if !s.OK() {
			verdict = p.bad.Sprintf("%s / %s", humanize.Comma(int64(s.Matched)), humanize.Comma(int64(s.Windows)))
		}

		rows = append(rows, table.Row{"Windows matching", verdict})
	}

	if s.Underflow {
		rows = append(rows, table.Row{"Warning", p.bad.Sprint("scores underflowed; try --arithmetic log")})
	}

	if s.Interrupted {
		rows = append(rows, table.Row{"Interrupted", "yes"})
	}

	tbl.AppendRows(rows)

	return p.render(tbl)
}

// WriteVerify prints the result of a randomized equivalence check.
func (p *Printer) WriteVerify(v *session.VerifyResult) error {
	tbl := newTable()
	tbl.SetTitle("streamvit verify")

	verdict := p.good.Sprint("all windows match")
	if !v.OK() {
		verdict = p.bad.Sprintf("%d windows differ", len(v.Failures))
	}

	tbl.AppendRows([]table.Row{
		{"Models", humanize.Comma(int64(v.Models))},
		{"Windows", humanize.Comma(int64(v.Windows))},
		{"Observations", humanize.Comma(int64(v.Observations))},
		{"Convergences", humanize.Comma(int64(v.Convergences))},
		{"Peak forest nodes", v.MaxNodes},
		{"Duration", v.Duration.Round(time.Millisecond).String()},
		{"Result", verdict},
	})

	err := p.render(tbl)
	if err != nil {
		return err
	}

	for _, f := range v.Failures {
		_, err = fmt.Fprintf(p.w, "model %d window %d (K=%d M=%d start=%d)\n  obs:    %s\n  diff:   %s\n",
			f.Model, f.Window, f.States, f.Symbols, f.Start, symbols(f.Observations), p.diff(f.Diff))
		if err != nil {
			return fmt.Errorf("write failure: %w", err)
		}
	}

	return nil
}

func newTable() table.Writer {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.DrawBorder = false

	return tbl
}

func (p *Printer) render(tbl table.Writer) error {
	_, err := fmt.Fprintln(p.w, tbl.Render())
	if err != nil {
		return fmt.Errorf("write table: %w", err)
	}

	return nil
}
