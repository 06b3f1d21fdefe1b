package chat

import (
	"strings"
	"time"
)

// Status is the delivery state of a message as reported by the provider.
// Known values are totally ordered by Rank; any other label is carried verbatim.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"

	// StatusReceived marks inbound client messages. It sits outside the
	// sent/delivered/read order.
	StatusReceived Status = "received"
)

// ParseStatus normalizes a provider label. Unknown labels are kept as-is.
func ParseStatus(label string) Status {
	return Status(strings.ToLower(strings.TrimSpace(label)))
}

// Rank orders known statuses: sent < delivered < read. Unknown labels rank 0.
func (s Status) Rank() int16 {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// Known reports whether s takes part in the monotonic order.
func (s Status) Known() bool {
	return s.Rank() > 0
}

// ApplyStatus advances m to next when allowed and reports whether m changed.
//
// A known status applies only when it ranks above the stored rank. An unknown
// label applies when it differs from the stored label and never lowers the
// stored rank. DeliveredAt and ReadAt are written on the first transition into
// that state and never overwritten.
func (m *Message) ApplyStatus(next Status, at time.Time) bool {
	if next == "" {
		return false
	}
	if !next.Known() {
		if m.Status == next {
			return false
		}
		m.Status = next
		return true
	}
	if next.Rank() <= m.StatusRank {
		return false
	}
	m.Status = next
	m.StatusRank = next.Rank()
	at = at.UTC()
	switch next {
	case StatusDelivered:
		if m.DeliveredAt == nil {
			m.DeliveredAt = &at
		}
	case StatusRead:
		if m.ReadAt == nil {
			m.ReadAt = &at
		}
	}
	return true
}
