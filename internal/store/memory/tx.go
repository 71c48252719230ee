package memory

import (
	"context"
	"fmt"
	"math/bits"
	"sort"
	"time"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

type tx struct {
	readOnly bool
	verifier domain.VaultVerifier

	protocols *overlay[domain.Protocol]
	games     *overlay[domain.Game]
	rounds    *overlay[domain.Round]
	bets      *overlay[domain.Bet]
	vaults    *overlay[domain.Vault]
}

func (t *tx) commit() {
	t.protocols.apply()
	t.games.apply()
	t.rounds.apply()
	t.bets.apply()
	t.vaults.apply()
}

func (t *tx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

// insert stages v under key unless the key is already visible.
func insert[T any](t *tx, o *overlay[T], key string, v T) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := o.get(key); ok {
		return domain.ErrAlreadyExists
	}
	o.put(key, v)
	return nil
}

// update stages v under key, which must already be visible.
func update[T any](t *tx, o *overlay[T], key string, v T) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := o.get(key); !ok {
		return domain.ErrNotFound
	}
	o.put(key, v)
	return nil
}

func get[T any](o *overlay[T], key string) (T, error) {
	v, ok := o.get(key)
	if !ok {
		var zero T
		return zero, domain.ErrNotFound
	}
	return v, nil
}

func (t *tx) GetProtocol(_ context.Context, key string) (domain.Protocol, error) {
	return get(t.protocols, key)
}

func (t *tx) InsertProtocol(_ context.Context, p domain.Protocol) error {
	return insert(t, t.protocols, p.Key, p)
}

func (t *tx) GetGame(_ context.Context, key string) (domain.Game, error) {
	return get(t.games, key)
}

func (t *tx) InsertGame(_ context.Context, g domain.Game) error {
	return insert(t, t.games, g.Key, g)
}

func (t *tx) UpdateGame(_ context.Context, g domain.Game) error {
	return update(t, t.games, g.Key, g)
}

func (t *tx) GetRound(_ context.Context, key string) (domain.Round, error) {
	return get(t.rounds, key)
}

func (t *tx) InsertRound(_ context.Context, r domain.Round) error {
	return insert(t, t.rounds, r.Key, r)
}

func (t *tx) UpdateRound(_ context.Context, r domain.Round) error {
	return update(t, t.rounds, r.Key, r)
}

func (t *tx) ListRounds(_ context.Context, gameKey string, opts domain.ListOpts) ([]domain.Round, error) {
	var out []domain.Round
	t.rounds.each(func(r domain.Round) {
		if r.Game != gameKey {
			return
		}
		if opts.Since != nil && r.CreatedAt.Before(*opts.Since) {
			return
		}
		if opts.Until != nil && r.CreatedAt.After(*opts.Until) {
			return
		}
		out = append(out, r)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	return page(out, opts), nil
}

func (t *tx) GetBet(_ context.Context, key string) (domain.Bet, error) {
	return get(t.bets, key)
}

func (t *tx) InsertBet(_ context.Context, b domain.Bet) error {
	return insert(t, t.bets, b.Key, b)
}

func (t *tx) UpdateBet(_ context.Context, b domain.Bet) error {
	return update(t, t.bets, b.Key, b)
}

func (t *tx) ListBets(_ context.Context, roundKey string) ([]domain.Bet, error) {
	var out []domain.Bet
	t.bets.each(func(b domain.Bet) {
		if b.Round == roundKey {
			out = append(out, b)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].PlacedAt.Equal(out[j].PlacedAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].PlacedAt.Before(out[j].PlacedAt)
	})
	return out, nil
}

func (t *tx) OpenVault(_ context.Context, v domain.Vault) error {
	v.Balance = 0
	v.UpdatedAt = time.Now().UTC()
	return insert(t, t.vaults, v.ID, v)
}

func (t *tx) GetVault(_ context.Context, id string) (domain.Vault, error) {
	return get(t.vaults, id)
}

func (t *tx) Deposit(_ context.Context, id string, amount uint64) error {
	if err := t.writable(); err != nil {
		return err
	}
	v, err := get(t.vaults, id)
	if err != nil {
		return fmt.Errorf("memory: deposit into %s: %w", id, err)
	}
	sum, carry := bits.Add64(v.Balance, amount, 0)
	if carry != 0 {
		return domain.ErrBalanceOverflow
	}
	v.Balance = sum
	v.UpdatedAt = time.Now().UTC()
	t.vaults.put(id, v)
	return nil
}

func (t *tx) Transfer(_ context.Context, from, to string, amount uint64, auth domain.VaultAuthority) error {
	if err := t.writable(); err != nil {
		return err
	}
	src, err := get(t.vaults, from)
	if err != nil {
		return fmt.Errorf("memory: transfer from %s: %w", from, err)
	}
	dst, err := get(t.vaults, to)
	if err != nil {
		return fmt.Errorf("memory: transfer to %s: %w", to, err)
	}
	if src.Owner != auth.Owner || t.verifier == nil || !t.verifier.Verify(auth) {
		return domain.ErrVaultSealMismatch
	}
	if src.Token != dst.Token {
		return domain.ErrTokenMismatch
	}
	if amount == 0 || from == to {
		return nil
	}
	if src.Balance < amount {
		return domain.ErrInsufficientFunds
	}
	sum, carry := bits.Add64(dst.Balance, amount, 0)
	if carry != 0 {
		return domain.ErrBalanceOverflow
	}

	now := time.Now().UTC()
	src.Balance -= amount
	src.UpdatedAt = now
	dst.Balance = sum
	dst.UpdatedAt = now
	t.vaults.put(from, src)
	t.vaults.put(to, dst)
	return nil
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

var _ domain.Tx = (*tx)(nil)
