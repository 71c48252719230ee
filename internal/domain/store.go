package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Tx is one unit of work over records and vaults. Reads inside a WithTx
// transaction hold the row until commit, so a read-modify-write cannot lose
// a concurrent update.
type Tx interface {
	Ledger

	GetProtocol(ctx context.Context, key string) (Protocol, error)
	InsertProtocol(ctx context.Context, p Protocol) error

	GetGame(ctx context.Context, key string) (Game, error)
	InsertGame(ctx context.Context, g Game) error
	UpdateGame(ctx context.Context, g Game) error

	GetRound(ctx context.Context, key string) (Round, error)
	InsertRound(ctx context.Context, r Round) error
	UpdateRound(ctx context.Context, r Round) error
	ListRounds(ctx context.Context, gameKey string, opts ListOpts) ([]Round, error)

	GetBet(ctx context.Context, key string) (Bet, error)
	// InsertBet returns ErrAlreadyExists when the key is taken.
	InsertBet(ctx context.Context, b Bet) error
	UpdateBet(ctx context.Context, b Bet) error
	ListBets(ctx context.Context, roundKey string) ([]Bet, error)
}

// Store runs transactions. If fn returns an error nothing it wrote is
// visible afterwards.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	// View runs fn without taking row locks. Writes through tx are rejected.
	View(ctx context.Context, fn func(tx Tx) error) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
