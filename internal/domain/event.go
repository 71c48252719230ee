package domain

import (
	"context"
	"time"
)

// EventType names a committed state transition.
type EventType string

const (
	EventProtocolCreated   EventType = "protocol_created"
	EventProtocolWithdrawn EventType = "protocol_fees_withdrawn"
	EventGameCreated       EventType = "game_created"
	EventIntervalUpdated   EventType = "round_interval_updated"
	EventFeedUpdated       EventType = "feed_updated"
	EventGameWithdrawn     EventType = "game_funds_withdrawn"
	EventRoundCreated      EventType = "round_created"
	EventRoundStarted      EventType = "round_started"
	EventBetPlaced         EventType = "bet_placed"
	EventBettingClosed     EventType = "betting_closed"
	EventRoundEnded        EventType = "round_ended"
	EventPrizeClaimed      EventType = "prize_claimed"
	EventRoundSwept        EventType = "round_swept"
)

// Event is published after the transition it describes has committed.
type Event struct {
	Type        EventType `json:"type"`
	Actor       string    `json:"actor"`
	Protocol    string    `json:"protocol,omitempty"`
	Game        string    `json:"game,omitempty"`
	Round       string    `json:"round,omitempty"`
	RoundNumber uint64    `json:"round_number"`
	Amount      uint64    `json:"amount,omitempty"`
	Prediction  Movement  `json:"prediction,omitempty"`
	Outcome     Movement  `json:"outcome,omitempty"`
	Price       int64     `json:"price,omitempty"`
	At          time.Time `json:"at"`
}

// EventSink receives committed events. Emit must not block the caller for
// long and never fails the transition.
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}

// Receipt is the settlement record of an ended round.
type Receipt struct {
	ID        string    `json:"id"`
	Game      Game      `json:"game"`
	Round     Round     `json:"round"`
	Bets      []Bet     `json:"bets"`
	CreatedAt time.Time `json:"created_at"`
}
