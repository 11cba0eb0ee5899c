package output

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// SimulationStep is one simulated check.
type SimulationStep struct {
	Index        int   `json:"index" yaml:"index"`
	OffsetMs     int64 `json:"offset_ms" yaml:"offset_ms"`
	Allowed      bool  `json:"allowed" yaml:"allowed"`
	Remaining    int   `json:"remaining" yaml:"remaining"`
	RetryAfterMs int64 `json:"retry_after_ms" yaml:"retry_after_ms"`
}

// Simulation is the result of replaying checks against a bucket.
type Simulation struct {
	Bucket   string           `json:"bucket" yaml:"bucket"`
	Key      string           `json:"key" yaml:"key"`
	Limit    int              `json:"limit" yaml:"limit"`
	WindowMs int64            `json:"window_ms" yaml:"window_ms"`
	Steps    []SimulationStep `json:"steps" yaml:"steps"`
}

// Allowed counts admitted steps.
func (s *Simulation) Allowed() int {
	n := 0
	for _, step := range s.Steps {
		if step.Allowed {
			n++
		}
	}
	return n
}

func (s *Simulation) Title() string {
	return fmt.Sprintf("%s: %d per %s for %q", s.Bucket, s.Limit, time.Duration(s.WindowMs)*time.Millisecond, s.Key)
}

func (s *Simulation) Header() table.Row {
	return table.Row{"#", "At", "Decision", "Remaining", "Retry After"}
}

func (s *Simulation) Rows() []table.Row {
	rows := make([]table.Row, 0, len(s.Steps))
	for _, step := range s.Steps {
		decision, retry := "allowed", "-"
		if !step.Allowed {
			decision = "denied"
			retry = strconv.FormatInt(step.RetryAfterMs, 10) + "ms"
		}
		rows = append(rows, table.Row{
			step.Index,
			"+" + (time.Duration(step.OffsetMs) * time.Millisecond).String(),
			decision,
			step.Remaining,
			retry,
		})
	}
	return rows
}

func (s *Simulation) Footer() table.Row {
	return table.Row{"", "", fmt.Sprintf("%d/%d allowed", s.Allowed(), len(s.Steps)), "", ""}
}

func (s *Simulation) Data() any { return s }
