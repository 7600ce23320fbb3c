package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGrantReport renders the grant report for every subject.
	TaskGrantReport = "rbac:grant_report"
)

// GrantReportPayload describes one grant report request. RequestedBy is zero
// for scheduled runs.
type GrantReportPayload struct {
	RequestedBy int64     `json:"requested_by,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewGrantReportTask constructs an Asynq task carrying its retry budget.
func NewGrantReportTask(payload GrantReportPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGrantReport, data, asynq.MaxRetry(3), asynq.Timeout(5*time.Minute)), nil
}
