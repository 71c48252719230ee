// Package local provides single-process stand-ins for the Redis-backed
// cache services, used when the node runs without Redis.
package local

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// Bus implements domain.SignalBus in memory. Subscribers that fall behind
// lose messages rather than block publishers.
type Bus struct {
	mu      sync.Mutex
	subs    map[string][]chan []byte
	streams map[string][]domain.StreamMessage
	seq     uint64
	maxLen  int
}

// NewBus creates a Bus keeping at most maxLen entries per stream.
func NewBus(maxLen int) *Bus {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &Bus{
		subs:    make(map[string][]chan []byte),
		streams: make(map[string][]domain.StreamMessage),
		maxLen:  maxLen,
	}
}

func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for pattern, subs := range b.subs {
		if !matches(pattern, channel) {
			continue
		}
		for _, ch := range subs {
			select {
			case ch <- payload:
			default:
			}
		}
	}
	return nil
}

// matches supports exact names and a trailing "*" wildcard.
func matches(pattern, channel string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(channel, prefix)
	}
	return pattern == channel
}

func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[channel]
		for i, c := range subs {
			if c == ch {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (b *Bus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	msgs := append(b.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatUint(b.seq, 10) + "-0",
		Payload: payload,
	})
	if len(msgs) > b.maxLen {
		msgs = msgs[len(msgs)-b.maxLen:]
	}
	b.streams[stream] = msgs
	return nil
}

// StreamRead returns up to count entries after lastID ("0" reads from the
// start, "$" returns nothing).
func (b *Bus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	if lastID == "$" {
		return nil, nil
	}
	after := streamSeq(lastID)
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		if streamSeq(m.ID) <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

func streamSeq(id string) uint64 {
	head, _, _ := strings.Cut(id, "-")
	n, _ := strconv.ParseUint(head, 10, 64)
	return n
}

// expiring is a set of keys with deadlines, swept lazily.
type expiring struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

func newExpiring() *expiring {
	return &expiring{keys: make(map[string]time.Time), now: time.Now}
}

// add inserts key unless a live copy exists.
func (e *expiring) add(key string, ttl time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	for k, deadline := range e.keys {
		if !deadline.After(now) {
			delete(e.keys, k)
		}
	}
	if _, ok := e.keys[key]; ok {
		return false
	}
	e.keys[key] = now.Add(ttl)
	return true
}

func (e *expiring) remove(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.keys, key)
}

// NonceGuard implements domain.NonceGuard in memory.
type NonceGuard struct {
	seen *expiring
}

func NewNonceGuard() *NonceGuard {
	return &NonceGuard{seen: newExpiring()}
}

func (g *NonceGuard) Use(_ context.Context, signer, nonce string, ttl time.Duration) error {
	if !g.seen.add(signer+":"+nonce, ttl) {
		return domain.ErrNonceReplayed
	}
	return nil
}

// LockManager implements domain.LockManager in memory.
type LockManager struct {
	held *expiring
}

func NewLockManager() *LockManager {
	return &LockManager{held: newExpiring()}
}

func (l *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	if !l.held.add(key, ttl) {
		return nil, domain.ErrLockHeld
	}
	var once sync.Once
	return func() { once.Do(func() { l.held.remove(key) }) }, nil
}

// RateLimiter implements domain.RateLimiter with a per-key sliding window.
type RateLimiter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{hits: make(map[string][]time.Time), now: time.Now}
}

func (r *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	cutoff := now.Add(-window)
	hits := r.hits[key]
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	hits = hits[i:]
	if len(hits) >= limit {
		r.hits[key] = hits
		return false, nil
	}
	r.hits[key] = append(hits, now)
	return true, nil
}

var (
	_ domain.SignalBus   = (*Bus)(nil)
	_ domain.NonceGuard  = (*NonceGuard)(nil)
	_ domain.LockManager = (*LockManager)(nil)
	_ domain.RateLimiter = (*RateLimiter)(nil)
)
