// Package audit implements the Audit Log (spec component C6): a
// bounded, append-only, queryable event ring with JSON/CSV export.
//
// Grounded on commbus.InMemoryCommBus's single-writer-mutex discipline
// and coreengine/config's JSON struct-tag conventions; the ring-buffer
// eviction policy is new but follows the same "one mutex per shared
// table" rule as the rest of the teacher's concurrency model.
package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"sync"
	"time"
)

// Kind is the audit event category.
type Kind string

const (
	KindLogin           Kind = "login"
	KindTokenIssue      Kind = "token_issue"
	KindAccessGranted   Kind = "access_granted"
	KindAccessDenied    Kind = "access_denied"
	KindPolicyChange    Kind = "policy_change"
	KindPolicyUpdate    Kind = "policy_update"
	KindCustom          Kind = "custom"
)

// Event is one audit record, field order chosen to match the
// canonical export order mandated by spec section 6: type, timestamp,
// identity_id, resource, action, success, error_message, source_ip,
// user_agent, details.
type Event struct {
	Type         Kind           `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	IdentityID   string         `json:"identity_id,omitempty"`
	Resource     string         `json:"resource,omitempty"`
	Action       string         `json:"action,omitempty"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"error_message,omitempty"`
	SourceIP     string         `json:"source_ip,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// Filter narrows Query results. Zero-valued fields are not applied.
type Filter struct {
	Since      time.Time
	Until      time.Time
	Kind       Kind
	IdentityID string
	Action     string
	// SuccessSet, when true, makes Success significant; otherwise
	// both successful and failed events match.
	SuccessSet bool
	Success    bool
}

func (f Filter) matches(e Event) bool {
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	if f.Kind != "" && e.Type != f.Kind {
		return false
	}
	if f.IdentityID != "" && e.IdentityID != f.IdentityID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.SuccessSet && e.Success != f.Success {
		return false
	}
	return true
}

// Log is a bounded FIFO of Events guarded by a single writer lock, as
// mandated by spec 4.6 and 5: "query never observes a half-written
// entry; export is a consistent snapshot taken under the lock."
type Log struct {
	mu       sync.Mutex
	capacity int
	entries  []Event
	head     int // index of oldest entry when full
	size     int
}

// New creates a Log that holds at most capacity entries, evicting the
// oldest on overflow.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = 1
	}
	return &Log{capacity: capacity, entries: make([]Event, capacity)}
}

// Append adds an event, evicting the oldest entry if the log is full.
func (l *Log) Append(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.size < l.capacity {
		idx := (l.head + l.size) % l.capacity
		l.entries[idx] = e
		l.size++
		return
	}
	l.entries[l.head] = e
	l.head = (l.head + 1) % l.capacity
}

// snapshot returns entries in append order under the lock; callers
// format the result lock-free, matching "export is a consistent
// snapshot taken under the lock, then formatted without it."
func (l *Log) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, l.size)
	for i := 0; i < l.size; i++ {
		out[i] = l.entries[(l.head+i)%l.capacity]
	}
	return out
}

// Query returns events matching filter, oldest first.
func (l *Log) Query(filter Filter) []Event {
	all := l.snapshot()
	out := make([]Event, 0, len(all))
	for _, e := range all {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the current number of retained events.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// ExportJSON renders all retained events as a canonical JSON array
// matching spec section 6's field order.
func (l *Log) ExportJSON() ([]byte, error) {
	return json.Marshal(l.snapshot())
}

// ExportCSV renders all retained events as RFC-4180 CSV with the same
// columns as ExportJSON, quoted fields, and doubled embedded quotes
// (delegated to encoding/csv, which implements that quoting rule).
func (l *Log) ExportCSV() ([]byte, error) {
	events := l.snapshot()
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"type", "timestamp", "identity_id", "resource", "action", "success", "error_message", "source_ip", "user_agent", "details"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, e := range events {
		details := ""
		if len(e.Details) > 0 {
			b, err := json.Marshal(e.Details)
			if err != nil {
				return nil, err
			}
			details = string(b)
		}
		row := []string{
			string(e.Type),
			e.Timestamp.Format(time.RFC3339Nano),
			e.IdentityID,
			e.Resource,
			e.Action,
			boolStr(e.Success),
			e.ErrorMessage,
			e.SourceIP,
			e.UserAgent,
			details,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
