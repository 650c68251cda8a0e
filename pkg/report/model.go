package report

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Sumatoshi-tech/streamvit/pkg/hmm"
)

// WriteModel prints the initial distribution and both matrices of m.
func (p *Printer) WriteModel(m *hmm.Model) error {
	k, sym := m.States(), m.Symbols()

	initial := newTable()
	initial.SetTitle("initial distribution (%d states)", k)
	initial.AppendHeader(stateHeader(m, k))
	initial.AppendRow(probRow("π", m.InitialDistribution()))

	transition := newTable()
	transition.SetTitle("transition A[from][to]")
	transition.AppendHeader(stateHeader(m, k))

	for i := range k {
		row := make([]float64, k)
		for j := range k {
			row[j] = m.Transition(i, j)
		}

		transition.AppendRow(probRow(m.StateName(i), row))
	}

	emission := newTable()
	emission.SetTitle("emission E[state][symbol] (%d symbols)", sym)

	header := table.Row{""}
	for o := range sym {
		header = append(header, m.SymbolName(o))
	}

	emission.AppendHeader(header)

	for j := range k {
		row := make([]float64, sym)
		for o := range sym {
			row[o] = m.Emission(j, o)
		}

		emission.AppendRow(probRow(m.StateName(j), row))
	}

	for _, tbl := range []table.Writer{initial, transition, emission} {
		err := p.render(tbl)
		if err != nil {
			return err
		}
	}

	err := m.Validate()
	if err != nil {
		_, werr := fmt.Fprintln(p.w, p.bad.Sprint(err.Error()))
		if werr != nil {
			return fmt.Errorf("write model: %w", werr)
		}

		return nil
	}

	_, err = fmt.Fprintln(p.w, p.good.Sprint("model is valid"))
	if err != nil {
		return fmt.Errorf("write model: %w", err)
	}

	return nil
}

func stateHeader(m *hmm.Model, k int) table.Row {
	header := table.Row{""}
	for i := range k {
		header = append(header, m.StateName(i))
	}

	return header
}

func probRow(label string, values []float64) table.Row {
	row := table.Row{label}
	for _, v := range values {
		row = append(row, strconv.FormatFloat(v, 'g', 4, 64))
	}

	return row
}
