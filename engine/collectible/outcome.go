package collectible

import (
	"time"

	"github.com/tom-jm69/cs-medal-parser/pkg/fn"
)

// Outcome is the result of materializing one classified item.
type Outcome struct {
	ItemID      string        `json:"item_id"`
	FileName    string        `json:"file_name"`
	Succeeded   bool          `json:"succeeded"`
	Skipped     bool          `json:"skipped,omitempty"` // existing file already satisfied the target
	ErrorDetail string        `json:"error,omitempty"`
	OutputPath  string        `json:"output_path,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
	Err         error         `json:"-"`
}

// Succeed builds a success outcome for item written (or found) at path.
func Succeed(item Item, path string, skipped bool) Outcome {
	return Outcome{
		ItemID:     item.ID,
		FileName:   item.FileName(),
		Succeeded:  true,
		Skipped:    skipped,
		OutputPath: path,
	}
}

// Fail builds a failure outcome carrying err.
func Fail(item Item, err error) Outcome {
	return Outcome{
		ItemID:      item.ID,
		FileName:    item.FileName(),
		ErrorDetail: err.Error(),
		Err:         err,
	}
}

// RunSummary aggregates every outcome of one pipeline run.
type RunSummary struct {
	RunID        string    `json:"run_id"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	CatalogItems int       `json:"catalog_items"`
	Classified   int       `json:"classified"`
	Succeeded    int       `json:"succeeded"`
	Skipped      int       `json:"skipped"`
	Failed       int       `json:"failed"`
	Failures     []Outcome `json:"failures,omitempty"`
}

// Add folds one outcome into the summary.
func (s *RunSummary) Add(o Outcome) {
	if o.Succeeded {
		s.Succeeded++
		if o.Skipped {
			s.Skipped++
		}
		return
	}
	s.Failed++
	s.Failures = append(s.Failures, o)
}

// Fetched is the number of assets written during this run.
func (s RunSummary) Fetched() int { return s.Succeeded - s.Skipped }

// Elapsed is the wall time of the run.
func (s RunSummary) Elapsed() time.Duration { return s.FinishedAt.Sub(s.StartedAt) }

// Sample returns at most n failures for reporting.
func (s RunSummary) Sample(n int) []Outcome { return fn.Take(s.Failures, n) }
