// Package memory implements domain.Store in process memory. Transactions are
// serialised by a store-wide lock and buffer their writes in an overlay that
// is applied only when the transaction function succeeds.
package memory

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

var errReadOnly = errors.New("memory: write in read-only transaction")

// Store is an in-memory domain.Store.
type Store struct {
	mu       sync.RWMutex
	verifier domain.VaultVerifier

	protocols map[string]domain.Protocol
	games     map[string]domain.Game
	rounds    map[string]domain.Round
	bets      map[string]domain.Bet
	vaults    map[string]domain.Vault
}

// New creates an empty Store. verifier checks the authority presented on
// every transfer.
func New(verifier domain.VaultVerifier) *Store {
	return &Store{
		verifier:  verifier,
		protocols: make(map[string]domain.Protocol),
		games:     make(map[string]domain.Game),
		rounds:    make(map[string]domain.Round),
		bets:      make(map[string]domain.Bet),
		vaults:    make(map[string]domain.Vault),
	}
}

// WithTx runs fn under the write lock and applies its writes if it returns
// nil.
func (s *Store) WithTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.begin(false)
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// View runs fn under the read lock.
func (s *Store) View(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.begin(true))
}

// TotalBalance sums every vault. Deposits are the only source of value, so
// this equals the sum of all deposits.
func (s *Store) TotalBalance() (total uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.vaults {
		total += v.Balance
	}
	return total
}

// SumBalances adds up every vault holding token, in decimal.
func (s *Store) SumBalances(ctx context.Context, token string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := new(big.Int)
	for _, v := range s.vaults {
		if v.Token == token {
			total.Add(total, new(big.Int).SetUint64(v.Balance))
		}
	}
	return total.String(), nil
}

func (s *Store) begin(readOnly bool) *tx {
	return &tx{
		readOnly:  readOnly,
		verifier:  s.verifier,
		protocols: newOverlay(s.protocols),
		games:     newOverlay(s.games),
		rounds:    newOverlay(s.rounds),
		bets:      newOverlay(s.bets),
		vaults:    newOverlay(s.vaults),
	}
}

// overlay stages writes on top of a base map.
type overlay[T any] struct {
	base   map[string]T
	staged map[string]T
}

func newOverlay[T any](base map[string]T) *overlay[T] {
	return &overlay[T]{base: base, staged: make(map[string]T)}
}

func (o *overlay[T]) get(key string) (T, bool) {
	if v, ok := o.staged[key]; ok {
		return v, true
	}
	v, ok := o.base[key]
	return v, ok
}

func (o *overlay[T]) put(key string, v T) {
	o.staged[key] = v
}

// each visits every visible value once.
func (o *overlay[T]) each(fn func(T)) {
	for _, v := range o.staged {
		fn(v)
	}
	for k, v := range o.base {
		if _, shadowed := o.staged[k]; shadowed {
			continue
		}
		fn(v)
	}
}

func (o *overlay[T]) apply() {
	for k, v := range o.staged {
		o.base[k] = v
	}
}

var _ domain.Store = (*Store)(nil)
