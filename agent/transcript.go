package agent

import (
	"encoding/json"
	"time"

	"github.com/hupe1980/evalmesh/core"
	"github.com/hupe1980/evalmesh/model"
)

// Status describes why a loop run terminated.
type Status string

const (
	// StatusCompleted means the model called end_task or the guidance ran out.
	StatusCompleted Status = "completed"
	// StatusExhausted means no pending request was left.
	StatusExhausted Status = "exhausted"
	// StatusMaxSteps means the step ceiling was reached.
	StatusMaxSteps Status = "max_steps"
	// StatusError means a terminal dispatch or configuration error.
	StatusError Status = "error"
	// StatusCanceled means the context was canceled.
	StatusCanceled Status = "canceled"
)

// Transcript is the record of one loop run. It is serialized once, on
// termination, as message_log.json.
type Transcript struct {
	RunID       string           `json:"run_id"`
	Model       string           `json:"model"`
	Messages    []core.Message   `json:"messages"`
	Time        int64            `json:"time"`
	TotalTokens model.TokenUsage `json:"total_tokens"`
	Steps       int              `json:"steps"`
	Status      Status           `json:"status"`
	Error       string           `json:"error,omitempty"`

	Duration time.Duration `json:"-"`
}

// JSON renders the transcript with four space indentation.
func (t *Transcript) JSON() ([]byte, error) {
	return json.MarshalIndent(t, "", "    ")
}
