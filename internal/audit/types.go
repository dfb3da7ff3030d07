// Package audit defines core types shared across subsystems.
package audit

import "time"

// SentinelAll is the identity that routes a trigger to fan-out instead of a
// single audit.
const SentinelAll = "all"

// Mode controls how third-party resources are treated during an audit.
type Mode string

// Audit modes carried on dispatch messages.
const (
	ModeIncluded Mode = "included"
	ModeBlocked  Mode = "blocked"
)

// Device is the emulated form factor for an audit.
type Device string

// Device classes carried on dispatch messages. The zero value means the
// message did not specify one; the runner substitutes the configured default.
const (
	DeviceUnspecified Device = ""
	DeviceMobile      Device = "mobile"
	DeviceDesktop     Device = "desktop"
)

// Job is one decoded dispatch message: a single audit to perform.
type Job struct {
	Identity string
	Mode     Mode
	Device   Device
	BatchID  string
}

// Target pairs an identity with the URL it audits.
type Target struct {
	Identity string `json:"identity" mapstructure:"identity"`
	URL      string `json:"url" mapstructure:"url"`
}

// EventStateEntry records when an identity was last admitted.
type EventStateEntry struct {
	CreatedAtMillis int64 `json:"createdAt"`
}

// EventStateTable maps identities to their last-admission entries. The table
// is loaded and persisted wholesale on every gate check.
type EventStateTable map[string]EventStateEntry

// Report is the structured result of one page audit.
type Report struct {
	URL        string        `json:"url"`
	StatusCode int           `json:"status_code"`
	Metrics    PageMetrics   `json:"metrics"`
	Duration   time.Duration `json:"-"`
	RawJSON    []byte        `json:"-"`
}

// PageMetrics captures navigation timing and resource counters for a page.
type PageMetrics struct {
	TTFBMillis             int64 `json:"ttfb_ms"`
	DOMContentLoadedMillis int64 `json:"dom_content_loaded_ms"`
	LoadEventMillis        int64 `json:"load_event_ms"`
	RequestCount           int   `json:"request_count"`
	ThirdPartyRequests     int   `json:"third_party_requests"`
	TransferBytes          int64 `json:"transfer_bytes"`
	Score                  int   `json:"score"`
}

// RunRecord is persisted in the analytical store for each completed,
// admitted run.
type RunRecord struct {
	RunID     string
	BatchID   string
	Identity  string
	URL       string
	Mode      Mode
	Device    Device
	Status    int
	Metrics   PageMetrics
	ReportURI string
	AuditedAt time.Time
}

// Request carries everything the auditor needs for one page audit.
type Request struct {
	URL             string
	Device          Device
	BlockedPatterns []string
}
