// internal/storage/models.go
package storage

import "errors"

// Learning statuses for agent performance rows.
const (
	StatusActive = "active"
	StatusPaused = "paused"
	StatusError  = "error"
)

// ErrSelfDelivery is returned when a queue entry would deliver an insight
// back to the agent that produced it.
var ErrSelfDelivery = errors.New("source and target agent are the same")

// SystemLog is one append-only audit line.
type SystemLog struct {
	ID        int64  `json:"id"`
	LogType   string `json:"log_type"`
	Message   string `json:"message"`
	CreatedAt int64  `json:"created_at"`
}

// QueueEntry is one directed insight delivery. The row doubles as the
// delivery receipt: Processed flips to true once the target accepted it.
type QueueEntry struct {
	ID          int64  `json:"id"`
	SourceAgent string `json:"source_agent"`
	TargetAgent string `json:"target_agent"`
	InsightType string `json:"insight_type"`
	InsightData string `json:"insight_data"`
	CreatedAt   int64  `json:"created_at"`
	Processed   bool   `json:"processed"`
}

// AgentPerformance holds the cumulative training counters of one agent.
type AgentPerformance struct {
	AgentID           string `json:"agent_id"`
	ExamplesProcessed int64  `json:"examples_processed"`
	InsightsGenerated int64  `json:"insights_generated"`
	LastTraining      *int64 `json:"last_training,omitempty"`
	LearningStatus    string `json:"learning_status"`
	CreatedAt         int64  `json:"created_at"`
	UpdatedAt         int64  `json:"updated_at"`
}

// LogFilter narrows ListSystemLogs. Zero values mean "no constraint".
type LogFilter struct {
	LogType string
	AfterID int64
	Limit   int
}

// QueueFilter narrows ListQueueEntries and CountQueueEntries.
type QueueFilter struct {
	SourceAgent string
	TargetAgent string
	InsightType string
	Processed   *bool
	Limit       int
}

// QueueCursor is a position in the oldest-first order of pending entries.
// The zero cursor is the start of the queue.
type QueueCursor struct {
	CreatedAt int64
	ID        int64
}

// CursorOf returns the position of e.
func CursorOf(e QueueEntry) QueueCursor {
	return QueueCursor{CreatedAt: e.CreatedAt, ID: e.ID}
}

func validStatus(s string) bool {
	switch s {
	case StatusActive, StatusPaused, StatusError:
		return true
	}
	return false
}
