package domain

import (
	"strings"
	"time"
)

// Movement is the direction of a price between round start and end. Bets
// predict Up or Down; rounds resolve to Up, Down or NoChange.
type Movement string

const (
	MovementNone     Movement = "none"
	MovementUp       Movement = "up"
	MovementDown     Movement = "down"
	MovementNoChange Movement = "no_change"
)

// ParsePrediction accepts only the two directions a bet may hold.
func ParsePrediction(s string) (Movement, error) {
	switch Movement(strings.ToLower(strings.TrimSpace(s))) {
	case MovementUp:
		return MovementUp, nil
	case MovementDown:
		return MovementDown, nil
	default:
		return MovementNone, ErrInvalidPrediction
	}
}

// RoundState is the round lifecycle: inactive -> active -> ended.
type RoundState string

const (
	RoundInactive RoundState = "inactive"
	RoundActive   RoundState = "active"
	RoundEnded    RoundState = "ended"
)

// BettingState is only meaningful while the round is active.
type BettingState string

const (
	BettingOpen   BettingState = "open"
	BettingClosed BettingState = "closed"
)

// Round is one betting epoch of a game.
type Round struct {
	Key        string       `json:"key"`
	Game       string       `json:"game"`
	Number     uint64       `json:"number"`
	StartTime  int64        `json:"start_time"`
	EndTime    int64        `json:"end_time"`
	StartPrice int64        `json:"start_price"`
	EndPrice   int64        `json:"end_price"`
	PriceExpo  int32        `json:"price_expo"`
	TotalUp    uint64       `json:"total_up"`
	TotalDown  uint64       `json:"total_down"`
	BetCount   uint64       `json:"bet_count"`
	Betting    BettingState `json:"betting"`
	State      RoundState   `json:"state"`
	Outcome    Movement     `json:"outcome"`
	Interval   uint64       `json:"interval"` // captured from the game at start
	Swept      bool         `json:"swept"`
	Vault      string       `json:"vault"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Started reports whether StartRound has run for this round.
func (r Round) Started() bool {
	return r.StartTime != 0
}

// Pool is the sum of both sides. Stake aggregation guarantees it fits.
func (r Round) Pool() uint64 {
	return r.TotalUp + r.TotalDown
}

// WinningTotal returns the stake on the side that matches the outcome.
func (r Round) WinningTotal() uint64 {
	switch r.Outcome {
	case MovementUp:
		return r.TotalUp
	case MovementDown:
		return r.TotalDown
	default:
		return 0
	}
}

// Resolve compares the start and end prices.
func Resolve(startPrice, endPrice int64) Movement {
	switch {
	case startPrice < endPrice:
		return MovementUp
	case startPrice > endPrice:
		return MovementDown
	default:
		return MovementNoChange
	}
}
