// Package service fans committed engine events out to the signal bus, the
// audit log, chat notifications and the receipt archive.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

const (
	// EventChannel is the pub/sub channel every event is published on.
	EventChannel = "events"
	// EventStream is the durable stream every event is appended to.
	EventStream = "events"

	defaultQueueSize = 1024
	drainTimeout     = 5 * time.Second
)

// SettlementReader loads what a receipt needs. *engine.Engine satisfies it.
type SettlementReader interface {
	Game(ctx context.Context, key string) (domain.Game, error)
	Round(ctx context.Context, gameKey string, n uint64) (domain.Round, error)
	Bets(ctx context.Context, gameKey string, n uint64) ([]domain.Bet, error)
}

// Notifier is the subset of notify.Notifier the dispatcher uses.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
	Enabled(event string) bool
}

// DispatcherDeps are the dispatcher's optional outputs. Nil fields are
// skipped.
type DispatcherDeps struct {
	Bus      domain.SignalBus
	Audit    domain.AuditStore
	Notifier Notifier
	Archive  domain.ReceiptArchive
	Rounds   SettlementReader
}

// Dispatcher implements domain.EventSink. Emit only enqueues; Run does the
// I/O so a slow sink never holds up a committed transition.
type Dispatcher struct {
	deps    DispatcherDeps
	queue   chan domain.Event
	dropped atomic.Uint64
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher with a bounded queue.
func NewDispatcher(deps DispatcherDeps, queueSize int, logger *slog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Dispatcher{
		deps:   deps,
		queue:  make(chan domain.Event, queueSize),
		logger: logger.With(slog.String("component", "dispatcher")),
	}
}

// Emit enqueues ev, dropping it with a warning when the queue is full.
func (d *Dispatcher) Emit(ctx context.Context, ev domain.Event) {
	select {
	case d.queue <- ev:
	default:
		n := d.dropped.Add(1)
		d.logger.WarnContext(ctx, "dispatcher: queue full, event dropped",
			slog.String("type", string(ev.Type)),
			slog.String("game", ev.Game),
			slog.Uint64("dropped_total", n),
		)
	}
}

// Dropped returns how many events were dropped since start.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Run handles queued events until ctx is cancelled, then drains what is
// left for a short while.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started")
	defer d.logger.Info("dispatcher stopped")

	for {
		select {
		case <-ctx.Done():
			d.drain(context.WithoutCancel(ctx))
			return ctx.Err()
		case ev := <-d.queue:
			d.handle(ctx, ev)
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	for {
		select {
		case ev := <-d.queue:
			d.handle(ctx, ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev domain.Event) {
	log := d.logger.With(
		slog.String("type", string(ev.Type)),
		slog.String("game", ev.Game),
		slog.Uint64("round", ev.RoundNumber),
	)

	if d.deps.Bus != nil {
		payload, err := json.Marshal(ev)
		if err != nil {
			log.ErrorContext(ctx, "dispatcher: marshal event", slog.String("error", err.Error()))
			return
		}
		if err := d.deps.Bus.Publish(ctx, EventChannel, payload); err != nil {
			log.WarnContext(ctx, "dispatcher: publish failed", slog.String("error", err.Error()))
		}
		if err := d.deps.Bus.StreamAppend(ctx, EventStream, payload); err != nil {
			log.WarnContext(ctx, "dispatcher: stream append failed", slog.String("error", err.Error()))
		}
	}

	if d.deps.Audit != nil {
		if err := d.deps.Audit.Log(ctx, string(ev.Type), auditDetail(ev)); err != nil {
			log.WarnContext(ctx, "dispatcher: audit failed", slog.String("error", err.Error()))
		}
	}

	if ev.Type != domain.EventRoundEnded {
		return
	}

	if d.deps.Notifier != nil && d.deps.Notifier.Enabled(string(ev.Type)) {
		title, body := roundResultMessage(ev)
		if err := d.deps.Notifier.Notify(ctx, string(ev.Type), title, body); err != nil {
			log.WarnContext(ctx, "dispatcher: notify failed", slog.String("error", err.Error()))
		}
	}

	if d.deps.Archive != nil && d.deps.Rounds != nil {
		if err := d.archive(ctx, ev); err != nil {
			log.WarnContext(ctx, "dispatcher: archive failed", slog.String("error", err.Error()))
		} else {
			log.DebugContext(ctx, "dispatcher: receipt archived")
		}
	}
}

// archive stores the settlement receipt of the round ev ended.
func (d *Dispatcher) archive(ctx context.Context, ev domain.Event) error {
	game, err := d.deps.Rounds.Game(ctx, ev.Game)
	if err != nil {
		return fmt.Errorf("load game: %w", err)
	}
	round, err := d.deps.Rounds.Round(ctx, ev.Game, ev.RoundNumber)
	if err != nil {
		return fmt.Errorf("load round: %w", err)
	}
	bets, err := d.deps.Rounds.Bets(ctx, ev.Game, ev.RoundNumber)
	if err != nil {
		return fmt.Errorf("load bets: %w", err)
	}
	return d.deps.Archive.SaveReceipt(ctx, domain.Receipt{
		ID:        uuid.NewString(),
		Game:      game,
		Round:     round,
		Bets:      bets,
		CreatedAt: time.Now().UTC(),
	})
}

func auditDetail(ev domain.Event) map[string]any {
	detail := map[string]any{
		"actor": ev.Actor,
		"at":    ev.At.UTC().Format(time.RFC3339),
	}
	if ev.Protocol != "" {
		detail["protocol"] = ev.Protocol
	}
	if ev.Game != "" {
		detail["game"] = ev.Game
		detail["round_number"] = ev.RoundNumber
	}
	if ev.Round != "" {
		detail["round"] = ev.Round
	}
	if ev.Amount != 0 {
		// Amounts are strings so JSONB keeps every uint64 exactly.
		detail["amount"] = fmt.Sprintf("%d", ev.Amount)
	}
	if ev.Prediction != "" {
		detail["prediction"] = string(ev.Prediction)
	}
	if ev.Outcome != "" {
		detail["outcome"] = string(ev.Outcome)
	}
	if ev.Price != 0 {
		detail["price"] = ev.Price
	}
	return detail
}

func roundResultMessage(ev domain.Event) (title, body string) {
	outcome := "NO CHANGE"
	switch ev.Outcome {
	case domain.MovementUp:
		outcome = "UP"
	case domain.MovementDown:
		outcome = "DOWN"
	}
	title = fmt.Sprintf("Round %d %s", ev.RoundNumber, outcome)
	body = fmt.Sprintf("game %s\nend price %d\npool %d", ev.Game, ev.Price, ev.Amount)
	return title, body
}

var _ domain.EventSink = (*Dispatcher)(nil)
