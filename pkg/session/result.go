package session

import "time"

// Mode names a run mode.
type Mode string

// Run modes.
const (
	ModeWindow     Mode = "window"
	ModeContinuous Mode = "continuous"
)

// StepTrace is the decoder footprint after one update.
type StepTrace struct {
	Time      int  `json:"time" yaml:"time"`
	Nodes     int  `json:"nodes" yaml:"nodes"`
	Columns   int  `json:"columns" yaml:"columns"`
	Pending   int  `json:"pending" yaml:"pending"`
	Converged bool `json:"converged" yaml:"converged"`
}

// WindowReport compares the online and batch paths over one window.
type WindowReport struct {
	Index        int           `json:"index" yaml:"index"`
	Offset       int           `json:"offset" yaml:"offset"`
	Observations []int         `json:"observations" yaml:"observations"`
	Oracle       []int         `json:"oracle" yaml:"oracle"`
	Online       []int         `json:"online" yaml:"online"`
	Match        bool          `json:"match" yaml:"match"`
	Mismatches   int           `json:"mismatches" yaml:"mismatches"`
	Diff         []Segment     `json:"diff,omitempty" yaml:"diff,omitempty"`
	Convergences int           `json:"convergences" yaml:"convergences"`
	MaxNodes     int           `json:"max_nodes" yaml:"max_nodes"`
	MaxColumns   int           `json:"max_columns" yaml:"max_columns"`
	Lag          LagStats      `json:"lag" yaml:"lag"`
	Underflow    bool          `json:"underflow,omitempty" yaml:"underflow,omitempty"`
	Short        bool          `json:"short,omitempty" yaml:"short,omitempty"`
	Trace        []StepTrace   `json:"trace,omitempty" yaml:"trace,omitempty"`
	Duration     time.Duration `json:"duration_ns" yaml:"duration_ns"`
}

// Summary aggregates a run.
type Summary struct {
	Mode         Mode            `json:"mode" yaml:"mode"`
	Observations int             `json:"observations" yaml:"observations"`
	Resumed      int             `json:"resumed,omitempty" yaml:"resumed,omitempty"`
	Windows      int             `json:"windows,omitempty" yaml:"windows,omitempty"`
	Matched      int             `json:"matched,omitempty" yaml:"matched,omitempty"`
	Mismatched   int             `json:"mismatched,omitempty" yaml:"mismatched,omitempty"`
	Convergences int             `json:"convergences" yaml:"convergences"`
	Emitted      int             `json:"emitted" yaml:"emitted"`
	MaxNodes     int             `json:"max_nodes" yaml:"max_nodes"`
	MaxColumns   int             `json:"max_columns" yaml:"max_columns"`
	Lag          LagStats        `json:"lag" yaml:"lag"`
	Underflow    bool            `json:"underflow,omitempty" yaml:"underflow,omitempty"`
	Interrupted  bool            `json:"interrupted,omitempty" yaml:"interrupted,omitempty"`
	Duration     time.Duration   `json:"duration_ns" yaml:"duration_ns"`
	Decoded      []int           `json:"decoded,omitempty" yaml:"decoded,omitempty"`
	Reports      []*WindowReport `json:"windows_detail,omitempty" yaml:"windows_detail,omitempty"`
	Trace        []StepTrace     `json:"trace,omitempty" yaml:"trace,omitempty"`
}

// OK reports whether every window matched.
func (s *Summary) OK() bool {
	return s.Mismatched == 0
}

func (s *Summary) add(w *WindowReport) {
	s.Windows++
	s.Observations += len(w.Observations)
	s.Convergences += w.Convergences
	s.Emitted += len(w.Online)
	s.MaxNodes = max(s.MaxNodes, w.MaxNodes)
	s.MaxColumns = max(s.MaxColumns, w.MaxColumns)
	s.Underflow = s.Underflow || w.Underflow

	if w.Match {
		s.Matched++
	} else {
		s.Mismatched++
	}

	s.Reports = append(s.Reports, w)
}
