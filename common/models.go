package common

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope wrapper around every successful backend response body
type Envelope struct {
	Response json.RawMessage `json:"response,omitempty"`
}

// Namespace tenant scoping container
type Namespace struct {
	Name string `json:"name" validate:"required"`
}

// Queue a FIFO of opaque string messages within a namespace
type Queue struct {
	Name string `json:"queue" validate:"required"`
}

// FeatureFlag a boolean flag within a namespace
type FeatureFlag struct {
	Name  string `json:"name" validate:"required"`
	Value bool   `json:"value"`
}

// LogEntry one append-only log record within a namespace
type LogEntry struct {
	Source    string    `json:"source"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// isoTimestampLayouts are tried in order when parsing a log entry timestamp.
// Layouts without a zone are read as UTC.
var isoTimestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseISOTimestamp parse an ISO-8601 timestamp string
func ParseISOTimestamp(raw string) (time.Time, error) {
	for _, layout := range isoTimestampLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("'%s' is not an ISO-8601 timestamp", raw)
}

// UnmarshalJSON parse a log entry, accepting any ISO-8601 timestamp
func (e *LogEntry) UnmarshalJSON(data []byte) error {
	var raw struct {
		Source    string `json:"source"`
		Level     string `json:"level"`
		Message   string `json:"message"`
		CreatedAt string `json:"created_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Source = raw.Source
	e.Level = raw.Level
	e.Message = raw.Message
	e.CreatedAt = time.Time{}
	if raw.CreatedAt != "" {
		ts, err := ParseISOTimestamp(raw.CreatedAt)
		if err != nil {
			return err
		}
		e.CreatedAt = ts
	}
	return nil
}

// ==============================================================================
// Request bodies

// NamespaceCreateRequest body of POST /namespaces
type NamespaceCreateRequest struct {
	Name string `json:"name" validate:"required"`
}

// QueueCreateRequest body of POST /queues/{ns}
type QueueCreateRequest struct {
	Queue string `json:"queue" validate:"required"`
}

// MessageRequest body of queue push and channel publish
type MessageRequest struct {
	Message string `json:"message"`
}

// FlagSetRequest body of POST /flags/{ns}/{flag}
type FlagSetRequest struct {
	Value *bool `json:"value" validate:"required"`
}

// LogAddRequest body of POST /logs/{ns}
type LogAddRequest struct {
	Source  string `json:"source" validate:"required"`
	Level   string `json:"level" validate:"required"`
	Message string `json:"message"`
}
