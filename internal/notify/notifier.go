// Package notify fans round results and operator alerts out to chat
// channels (Telegram, Discord). Operators pick which event types reach them.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// sendTimeout bounds one delivery.
const sendTimeout = 10 * time.Second

// Sender delivers one message to a chat channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string // e.g. "telegram"
}

// Notifier delivers event notifications to every sender, filtered by event
// type.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list lets every event
// type through.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether Notify would deliver event.
func (n *Notifier) Enabled(event string) bool {
	return len(n.senders) > 0 && (len(n.events) == 0 || n.events[event])
}

// Notify delivers to all senders in parallel when event is enabled. It
// returns the joined sender errors; one failing sender does not stop the
// others.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled(event) {
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	for _, s := range n.senders {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, sendTimeout)
			defer cancel()
			if err := s.Send(sctx, title, message); err != nil {
				n.logger.WarnContext(ctx, "sender failed",
					slog.String("sender", s.Name()),
					slog.String("event", event),
					slog.String("error", err.Error()),
				)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
