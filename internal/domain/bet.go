package domain

import "time"

// Bet is one player's stake in one round. There is at most one per
// (player, round) pair.
type Bet struct {
	Key         string    `json:"key"`
	Player      string    `json:"player"`
	Round       string    `json:"round"`
	Game        string    `json:"game"`
	RoundNumber uint64    `json:"round_number"`
	Prediction  Movement  `json:"prediction"`
	Amount      uint64    `json:"amount"`
	Claimed     bool      `json:"claimed"`
	Payout      uint64    `json:"payout"`
	PlacedAt    time.Time `json:"placed_at"`
}
