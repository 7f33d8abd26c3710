package notify

import (
	"time"

	"github.com/google/uuid"

	"azflow/internal/connector"
)

const (
	// EventSource is the CloudEvents source of every lifecycle notification.
	EventSource     = "azflow"
	eventTypePrefix = "azflow.connector."
)

// CloudEvent is a CloudEvents 1.0 structured-mode lifecycle notification.
type CloudEvent struct {
	SpecVersion     string         `json:"specversion"`
	Type            string         `json:"type"`
	Source          string         `json:"source"`
	Subject         string         `json:"subject"`
	ID              string         `json:"id"`
	Time            time.Time      `json:"time"`
	DataContentType string         `json:"datacontenttype"`
	Data            CheckpointData `json:"data"`
}

// CheckpointData is the payload of a checkpoint notification. Error is set
// only when the step failed.
type CheckpointData struct {
	Deployment string `json:"deployment"`
	Kind       string `json:"kind"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

// EventType returns the CloudEvents type for a checkpoint,
// e.g. azflow.connector.setup-done.
func EventType(cp connector.Checkpoint) string {
	return eventTypePrefix + string(cp)
}

// NewEvent builds the notification for a connector checkpoint. The subject
// is the deployment name and every event gets a fresh id.
func NewEvent(ev connector.Event) *CloudEvent {
	data := CheckpointData{
		Deployment: ev.Name,
		Kind:       ev.Kind,
		DurationMs: ev.Duration.Milliseconds(),
	}
	if ev.Err != nil {
		data.Error = ev.Err.Error()
	}
	return &CloudEvent{
		SpecVersion:     "1.0",
		Type:            EventType(ev.Checkpoint),
		Source:          EventSource,
		Subject:         ev.Name,
		ID:              uuid.NewString(),
		Time:            time.Now().UTC(),
		DataContentType: "application/json",
		Data:            data,
	}
}
