package domain

import "time"

// Reading is what the persistence layer receives for every inbound message.
// Fields is empty when the payload did not normalize; Payload always carries the raw bytes.
type Reading struct {
	SessionID  string    `json:"session_id"`
	Topic      string    `json:"topic"`
	SourceID   string    `json:"source_id"`
	Fields     []Field   `json:"fields,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
	Payload    []byte    `json:"payload"`
}

// Sample returns the normalized part of the reading.
func (r Reading) Sample() Sample {
	return Sample{
		SourceID:   r.SourceID,
		CapturedAt: r.CapturedAt,
		Fields:     CopyFields(r.Fields),
	}
}

// ReadingQuery selects stored readings. Zero values mean unbounded.
type ReadingQuery struct {
	SourceID string
	From     time.Time
	To       time.Time
	Limit    int
}

// Matches reports whether a sample from sourceID captured at ts falls in the query range.
func (q ReadingQuery) Matches(sourceID string, ts time.Time) bool {
	if q.SourceID != "" && q.SourceID != sourceID {
		return false
	}
	if !q.From.IsZero() && ts.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && ts.After(q.To) {
		return false
	}
	return true
}
