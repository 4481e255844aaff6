package safety

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// auditCapacity bounds the in-memory audit ring.
const auditCapacity = 512

// AuditEntry records one safety-relevant action: a breaker trip, an
// emergency stop transition, or an administrative reset.
type AuditEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail"`
}

// AuditLog is a bounded in-memory record of safety actions, newest last.
// Every breaker and emergency stop transition passes through here so
// operators can reconstruct why trading halted.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// NewAuditLog creates an empty audit log.
func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

// Append records an action.
func (l *AuditLog) Append(actor, action, detail string) AuditEntry {
	entry := AuditEntry{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Actor:     actor,
		Action:    action,
		Detail:    detail,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > auditCapacity {
		l.entries = l.entries[len(l.entries)-auditCapacity:]
	}
	return entry
}

// Entries returns a copy of the recorded entries, oldest first.
func (l *AuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
