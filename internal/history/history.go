// ABOUTME: Append-only, newest-first, capped ledger of variable mutations
// ABOUTME: Persisted as its own JSON document through store.DocumentStore

package history

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/2389/valueapi/internal/store"
)

// DocumentName is the backend name of the history document
const DocumentName = "history"

// DefaultLimit is the ledger cap used when none is configured
const DefaultLimit = 1000

// Action is the kind of mutation an entry records
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Entry is one immutable ledger record. OldValue is nil for creates and
// NewValue is nil for deletes.
type Entry struct {
	Name      string  `json:"name"`
	OldValue  *string `json:"oldValue"`
	NewValue  *string `json:"newValue"`
	Action    Action  `json:"action"`
	IP        string  `json:"ip"`
	Timestamp int64   `json:"timestamp"` // epoch milliseconds
}

// Value returns a pointer to s, for filling OldValue/NewValue
func Value(s string) *string {
	return &s
}

func cloneEntries(in []Entry) []Entry {
	out := make([]Entry, len(in))
	for i, e := range in {
		out[i] = e
		if e.OldValue != nil {
			out[i].OldValue = Value(*e.OldValue)
		}
		if e.NewValue != nil {
			out[i].NewValue = Value(*e.NewValue)
		}
	}
	return out
}

// Ledger records variable mutations newest first and drops the oldest
// entries once the cap is exceeded. Entries are never edited or removed
// individually.
type Ledger struct {
	docs  *store.DocumentStore[[]Entry]
	limit atomic.Int64
	now   func() time.Time
}

// New creates a ledger persisted on backend. A limit below 1 selects
// DefaultLimit.
func New(backend store.Backend, limit int) *Ledger {
	l := &Ledger{
		docs: store.NewDocumentStore(backend, store.Options[[]Entry]{
			Name:  DocumentName,
			Fresh: func() []Entry { return []Entry{} },
			Normalize: func(entries *[]Entry) {
				if *entries == nil {
					*entries = []Entry{}
				}
			},
			Clone: cloneEntries,
		}),
		now: time.Now,
	}
	l.SetLimit(limit)
	return l
}

// SetLimit changes the cap. Reads honor it at once; the stored document is
// truncated on the next Append.
func (l *Ledger) SetLimit(n int) {
	if n < 1 {
		n = DefaultLimit
	}
	l.limit.Store(int64(n))
}

// Limit returns the current cap
func (l *Ledger) Limit() int {
	return int(l.limit.Load())
}

// Append inserts e at the head of the ledger. A zero Timestamp is filled
// with the current time.
func (l *Ledger) Append(ctx context.Context, e Entry) error {
	if e.Timestamp == 0 {
		e.Timestamp = l.now().UnixMilli()
	}
	limit := l.Limit()

	return l.docs.Update(ctx, func(entries *[]Entry) error {
		next := make([]Entry, 0, min(len(*entries)+1, limit))
		next = append(next, e)
		for _, old := range *entries {
			if len(next) >= limit {
				break
			}
			next = append(next, old)
		}
		*entries = next
		return nil
	})
}

// All returns every entry within the cap, newest first
func (l *Ledger) All(ctx context.Context) []Entry {
	entries := l.docs.Load(ctx)
	if limit := l.Limit(); len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// ForName returns the entries for one variable, newest first
func (l *Ledger) ForName(ctx context.Context, name string) []Entry {
	all := l.All(ctx)
	out := make([]Entry, 0)
	for _, e := range all {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
