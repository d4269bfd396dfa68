package review

import "github.com/sprite-ai/crev/internal/model"

// Event types sent to an Observer.
const (
	EventRunStarted   = "run_started"
	EventFileAnalyzed = "file_analyzed"
	EventFileSkipped  = "file_skipped"
	EventRunFinished  = "run_finished"
)

// Event reports progress of one run.
type Event struct {
	Type          string          `json:"type"`
	RunID         int64           `json:"run_id"`
	CorrelationID string          `json:"correlation_id"`
	Path          string          `json:"path,omitempty"`
	Index         int             `json:"index,omitempty"` // 1-based position in the diff
	Total         int             `json:"total,omitempty"`
	Findings      int             `json:"findings,omitempty"`
	Status        model.RunStatus `json:"status,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// Observer receives progress events synchronously from the analyzing
// goroutine.
type Observer func(Event)

func (o Observer) emit(e Event) {
	if o != nil {
		o(e)
	}
}
