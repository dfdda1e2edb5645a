package model

import "time"

// PingOutcome classifies the result of a probe.
type PingOutcome string

const (
	PingSuccess PingOutcome = "success"
	PingFailure PingOutcome = "failure"
	PingTimeout PingOutcome = "timeout"
	PingError   PingOutcome = "error"
)

// PingRecord is one completed probe of a link. Records are append-only and
// outlive the link they describe until pruned.
type PingRecord struct {
	ID           string        `json:"id"`
	LinkID       string        `json:"link_id"`
	URL          string        `json:"url"`
	OwnerEmail   string        `json:"owner_email"`
	StatusCode   int           `json:"status_code"`
	Outcome      PingOutcome   `json:"outcome"`
	ResponseTime time.Duration `json:"-"`
	Error        string        `json:"error,omitempty"`
	PingedAt     time.Time     `json:"pinged_at"`
}

// ResponseTimeMillis returns the probe latency in whole milliseconds.
func (p *PingRecord) ResponseTimeMillis() int64 {
	return p.ResponseTime.Milliseconds()
}

// PingCompletion is the unit of work committed after a probe: the record,
// the link's next due time, and the credit to debit from the owner.
type PingCompletion struct {
	Record    *PingRecord
	NextDueAt time.Time
	Cost      int64
}
