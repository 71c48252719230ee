package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// AuditStore keeps the audit log in memory.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

// NewAuditStore creates an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

// Log appends an entry.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    maps.Clone(detail),
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.AuditEntry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	return page(out, opts), nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
