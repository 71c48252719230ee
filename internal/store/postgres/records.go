package postgres

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// --- protocols ---

const protocolColumns = `key, authority, game_creation_fee::text, fee_token, vault, created_at`

func scanProtocol(row rowScanner) (domain.Protocol, error) {
	var p domain.Protocol
	var fee string
	if err := row.Scan(&p.Key, &p.Authority, &fee, &p.FeeToken, &p.Vault, &p.CreatedAt); err != nil {
		return domain.Protocol{}, err
	}
	var err error
	p.GameCreationFee, err = parseAmount(fee)
	return p, err
}

func (t *pgTx) GetProtocol(ctx context.Context, key string) (domain.Protocol, error) {
	query := t.forUpdate(`SELECT ` + protocolColumns + ` FROM protocols WHERE key = $1`)
	p, err := scanProtocol(t.tx.QueryRow(ctx, query, key))
	if err != nil {
		return domain.Protocol{}, fmt.Errorf("postgres: get protocol %s: %w", key, notFound(err))
	}
	return p, nil
}

func (t *pgTx) InsertProtocol(ctx context.Context, p domain.Protocol) error {
	const query = `
		INSERT INTO protocols (key, authority, game_creation_fee, fee_token, vault, created_at)
		VALUES ($1, $2, $3::text::numeric, $4, $5, $6)
		ON CONFLICT DO NOTHING`
	tag, err := t.tx.Exec(ctx, query,
		p.Key, p.Authority, amountArg(p.GameCreationFee), p.FeeToken, p.Vault, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert protocol %s: %w", p.Key, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// --- games ---

const gameColumns = `key, protocol, authority, round_counter, round_interval,
	feed_id, token, vault, created_at`

func scanGame(row rowScanner) (domain.Game, error) {
	var g domain.Game
	var counter, interval int64
	err := row.Scan(
		&g.Key, &g.Protocol, &g.Authority, &counter, &interval,
		&g.FeedID, &g.Token, &g.Vault, &g.CreatedAt,
	)
	if err != nil {
		return domain.Game{}, err
	}
	g.RoundCounter = uint64(counter)
	g.RoundInterval = uint64(interval)
	return g, nil
}

func (t *pgTx) GetGame(ctx context.Context, key string) (domain.Game, error) {
	query := t.forUpdate(`SELECT ` + gameColumns + ` FROM games WHERE key = $1`)
	g, err := scanGame(t.tx.QueryRow(ctx, query, key))
	if err != nil {
		return domain.Game{}, fmt.Errorf("postgres: get game %s: %w", key, notFound(err))
	}
	return g, nil
}

func (t *pgTx) InsertGame(ctx context.Context, g domain.Game) error {
	const query = `
		INSERT INTO games (
			key, protocol, authority, round_counter, round_interval,
			feed_id, token, vault, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (key) DO NOTHING`
	tag, err := t.tx.Exec(ctx, query,
		g.Key, g.Protocol, g.Authority, int64(g.RoundCounter), int64(g.RoundInterval),
		g.FeedID, g.Token, g.Vault, g.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert game %s: %w", g.Key, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

func (t *pgTx) UpdateGame(ctx context.Context, g domain.Game) error {
	const query = `
		UPDATE games SET
			round_counter  = $2,
			round_interval = $3,
			feed_id        = $4,
			updated_at     = NOW()
		WHERE key = $1`
	tag, err := t.tx.Exec(ctx, query, g.Key, int64(g.RoundCounter), int64(g.RoundInterval), g.FeedID)
	if err != nil {
		return fmt.Errorf("postgres: update game %s: %w", g.Key, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// --- rounds ---

const roundColumns = `key, game, number, start_time, end_time, start_price, end_price,
	price_expo, total_up::text, total_down::text, bet_count, betting, state, outcome,
	round_interval, swept, vault, created_at`

func scanRound(row rowScanner) (domain.Round, error) {
	var r domain.Round
	var number, betCount, interval int64
	var up, down, betting, state, outcome string
	err := row.Scan(
		&r.Key, &r.Game, &number, &r.StartTime, &r.EndTime, &r.StartPrice, &r.EndPrice,
		&r.PriceExpo, &up, &down, &betCount, &betting, &state, &outcome,
		&interval, &r.Swept, &r.Vault, &r.CreatedAt,
	)
	if err != nil {
		return domain.Round{}, err
	}
	r.Number = uint64(number)
	r.BetCount = uint64(betCount)
	r.Interval = uint64(interval)
	r.Betting = domain.BettingState(betting)
	r.State = domain.RoundState(state)
	r.Outcome = domain.Movement(outcome)
	if r.TotalUp, err = parseAmount(up); err != nil {
		return domain.Round{}, err
	}
	if r.TotalDown, err = parseAmount(down); err != nil {
		return domain.Round{}, err
	}
	return r, nil
}

func (t *pgTx) GetRound(ctx context.Context, key string) (domain.Round, error) {
	query := t.forUpdate(`SELECT ` + roundColumns + ` FROM rounds WHERE key = $1`)
	r, err := scanRound(t.tx.QueryRow(ctx, query, key))
	if err != nil {
		return domain.Round{}, fmt.Errorf("postgres: get round %s: %w", key, notFound(err))
	}
	return r, nil
}

func (t *pgTx) InsertRound(ctx context.Context, r domain.Round) error {
	const query = `
		INSERT INTO rounds (
			key, game, number, start_time, end_time, start_price, end_price,
			price_expo, total_up, total_down, bet_count, betting, state, outcome,
			round_interval, swept, vault, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9::text::numeric, $10::text::numeric, $11, $12, $13, $14,
			$15, $16, $17, $18
		)
		ON CONFLICT DO NOTHING`
	tag, err := t.tx.Exec(ctx, query,
		r.Key, r.Game, int64(r.Number), r.StartTime, r.EndTime, r.StartPrice, r.EndPrice,
		r.PriceExpo, amountArg(r.TotalUp), amountArg(r.TotalDown), int64(r.BetCount),
		string(r.Betting), string(r.State), string(r.Outcome),
		int64(r.Interval), r.Swept, r.Vault, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert round %s: %w", r.Key, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

func (t *pgTx) UpdateRound(ctx context.Context, r domain.Round) error {
	const query = `
		UPDATE rounds SET
			start_time     = $2,
			end_time       = $3,
			start_price    = $4,
			end_price      = $5,
			price_expo     = $6,
			total_up       = $7::text::numeric,
			total_down     = $8::text::numeric,
			bet_count      = $9,
			betting        = $10,
			state          = $11,
			outcome        = $12,
			round_interval = $13,
			swept          = $14,
			updated_at     = NOW()
		WHERE key = $1`
	tag, err := t.tx.Exec(ctx, query,
		r.Key, r.StartTime, r.EndTime, r.StartPrice, r.EndPrice, r.PriceExpo,
		amountArg(r.TotalUp), amountArg(r.TotalDown), int64(r.BetCount),
		string(r.Betting), string(r.State), string(r.Outcome),
		int64(r.Interval), r.Swept,
	)
	if err != nil {
		return fmt.Errorf("postgres: update round %s: %w", r.Key, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *pgTx) ListRounds(ctx context.Context, gameKey string, opts domain.ListOpts) ([]domain.Round, error) {
	query := `SELECT ` + roundColumns + ` FROM rounds WHERE game = $1`
	args := []any{gameKey}
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	query += " ORDER BY number DESC"
	query, args = appendPage(query, args, opts)

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rounds for %s: %w", gameKey, err)
	}
	defer rows.Close()

	var out []domain.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan round: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list rounds rows: %w", err)
	}
	return out, nil
}

// --- bets ---

const betColumns = `key, player, round, game, round_number, prediction,
	amount::text, claimed, payout::text, placed_at`

func scanBet(row rowScanner) (domain.Bet, error) {
	var b domain.Bet
	var number int64
	var prediction, amount, payout string
	err := row.Scan(
		&b.Key, &b.Player, &b.Round, &b.Game, &number, &prediction,
		&amount, &b.Claimed, &payout, &b.PlacedAt,
	)
	if err != nil {
		return domain.Bet{}, err
	}
	b.RoundNumber = uint64(number)
	b.Prediction = domain.Movement(prediction)
	if b.Amount, err = parseAmount(amount); err != nil {
		return domain.Bet{}, err
	}
	if b.Payout, err = parseAmount(payout); err != nil {
		return domain.Bet{}, err
	}
	return b, nil
}

func (t *pgTx) GetBet(ctx context.Context, key string) (domain.Bet, error) {
	query := t.forUpdate(`SELECT ` + betColumns + ` FROM bets WHERE key = $1`)
	b, err := scanBet(t.tx.QueryRow(ctx, query, key))
	if err != nil {
		return domain.Bet{}, fmt.Errorf("postgres: get bet %s: %w", key, notFound(err))
	}
	return b, nil
}

func (t *pgTx) InsertBet(ctx context.Context, b domain.Bet) error {
	const query = `
		INSERT INTO bets (
			key, player, round, game, round_number, prediction,
			amount, claimed, payout, placed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7::text::numeric, $8, $9::text::numeric, $10
		)
		ON CONFLICT DO NOTHING`
	tag, err := t.tx.Exec(ctx, query,
		b.Key, b.Player, b.Round, b.Game, int64(b.RoundNumber), string(b.Prediction),
		amountArg(b.Amount), b.Claimed, amountArg(b.Payout), b.PlacedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: insert bet %s: %w", b.Key, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

func (t *pgTx) UpdateBet(ctx context.Context, b domain.Bet) error {
	const query = `
		UPDATE bets SET
			claimed = $2,
			payout  = $3::text::numeric
		WHERE key = $1`
	tag, err := t.tx.Exec(ctx, query, b.Key, b.Claimed, amountArg(b.Payout))
	if err != nil {
		return fmt.Errorf("postgres: update bet %s: %w", b.Key, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *pgTx) ListBets(ctx context.Context, roundKey string) ([]domain.Bet, error) {
	query := `SELECT ` + betColumns + ` FROM bets WHERE round = $1 ORDER BY placed_at, key`
	rows, err := t.tx.Query(ctx, query, roundKey)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets for %s: %w", roundKey, err)
	}
	defer rows.Close()

	var out []domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets rows: %w", err)
	}
	return out, nil
}
