package domain

import "time"

// Protocol is the fee-collecting registry an operator creates once.
type Protocol struct {
	Key             string    `json:"key"`
	Authority       string    `json:"authority"`
	GameCreationFee uint64    `json:"game_creation_fee"`
	FeeToken        string    `json:"fee_token"`
	Vault           string    `json:"vault"`
	CreatedAt       time.Time `json:"created_at"`
}

// Game is a long-lived market for one price feed and token pair. RoundCounter
// selects the current round and only advances when that round ends.
type Game struct {
	Key           string    `json:"key"`
	Protocol      string    `json:"protocol"`
	Authority     string    `json:"authority"`
	RoundCounter  uint64    `json:"round_counter"`
	RoundInterval uint64    `json:"round_interval"` // seconds
	FeedID        string    `json:"feed_id"`
	Token         string    `json:"token"`
	Vault         string    `json:"vault"`
	CreatedAt     time.Time `json:"created_at"`
}

// GameParams are the caller-supplied fields of a new game.
type GameParams struct {
	Protocol      string `json:"protocol"`
	Token         string `json:"token"`
	FeedID        string `json:"feed_id"`
	RoundInterval uint64 `json:"round_interval"`
}
