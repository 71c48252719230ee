package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bullbear/internal/crypto"
	"github.com/alanyoungcy/bullbear/internal/domain"
)

func newTestStore(t *testing.T) (*Store, *crypto.VaultSealer) {
	t.Helper()
	sealer, err := crypto.NewVaultSealer("memory-store-test-secret")
	require.NoError(t, err)
	return New(sealer.Verifier()), sealer
}

func seedVaults(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx domain.Tx) error {
		for _, v := range []domain.Vault{
			{ID: "a", Owner: "round-1", Kind: domain.VaultRound, Token: "usd"},
			{ID: "b", Owner: "0xplayer", Kind: domain.VaultWallet, Token: "usd"},
			{ID: "c", Owner: "game-1", Kind: domain.VaultGame, Token: "eur"},
		} {
			if err := tx.OpenVault(ctx, v); err != nil {
				return err
			}
		}
		return tx.Deposit(ctx, "a", 100)
	}))
}

func TestTransferRequiresOwnerSeal(t *testing.T) {
	s, sealer := newTestStore(t)
	seedVaults(t, s)
	ctx := context.Background()

	forged := domain.VaultAuthority{Owner: "round-1", Seal: []byte("guess")}
	other, err := crypto.NewVaultSealer("some-other-custody-secret")
	require.NoError(t, err)

	tests := []struct {
		name string
		auth domain.VaultAuthority
		want error
	}{
		{"forged seal", forged, domain.ErrVaultSealMismatch},
		{"seal for another owner", sealer.Seal("0xplayer"), domain.ErrVaultSealMismatch},
		{"seal from another secret", other.Seal("round-1"), domain.ErrVaultSealMismatch},
		{"empty", domain.VaultAuthority{}, domain.ErrVaultSealMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.WithTx(ctx, func(tx domain.Tx) error {
				return tx.Transfer(ctx, "a", "b", 10, tt.auth)
			})
			require.ErrorIs(t, err, tt.want)
		})
	}

	require.NoError(t, s.WithTx(ctx, func(tx domain.Tx) error {
		return tx.Transfer(ctx, "a", "b", 10, sealer.Seal("round-1"))
	}))
	assert.Equal(t, uint64(100), s.TotalBalance())

	sum, err := s.SumBalances(ctx, "usd")
	require.NoError(t, err)
	assert.Equal(t, "100", sum)
	sum, err = s.SumBalances(ctx, "eur")
	require.NoError(t, err)
	assert.Equal(t, "0", sum)
}

func TestTransferChecks(t *testing.T) {
	s, sealer := newTestStore(t)
	seedVaults(t, s)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx domain.Tx) error {
		return tx.Transfer(ctx, "a", "b", 101, sealer.Seal("round-1"))
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	err = s.WithTx(ctx, func(tx domain.Tx) error {
		return tx.Transfer(ctx, "a", "c", 1, sealer.Seal("round-1"))
	})
	require.ErrorIs(t, err, domain.ErrTokenMismatch)

	err = s.WithTx(ctx, func(tx domain.Tx) error {
		return tx.Transfer(ctx, "a", "missing", 1, sealer.Seal("round-1"))
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFailedTxLeavesNoTrace(t *testing.T) {
	s, sealer := newTestStore(t)
	seedVaults(t, s)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx domain.Tx) error {
		if err := tx.Transfer(ctx, "a", "b", 60, sealer.Seal("round-1")); err != nil {
			return err
		}
		if err := tx.InsertBet(ctx, domain.Bet{Key: "bet-1", Round: "round-1"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(tx domain.Tx) error {
		a, err := tx.GetVault(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, uint64(100), a.Balance)
		_, err = tx.GetBet(ctx, "bet-1")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		return nil
	}))
}

func TestTxSeesItsOwnWrites(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx domain.Tx) error {
		require.NoError(t, tx.InsertRound(ctx, domain.Round{Key: "r0", Game: "g", Number: 0}))
		require.NoError(t, tx.InsertRound(ctx, domain.Round{Key: "r1", Game: "g", Number: 1}))
		require.ErrorIs(t, tx.InsertRound(ctx, domain.Round{Key: "r1"}), domain.ErrAlreadyExists)

		r, err := tx.GetRound(ctx, "r1")
		require.NoError(t, err)
		r.TotalUp = 5
		require.NoError(t, tx.UpdateRound(ctx, r))

		rounds, err := tx.ListRounds(ctx, "g", domain.ListOpts{Limit: 1})
		require.NoError(t, err)
		require.Len(t, rounds, 1)
		assert.Equal(t, uint64(5), rounds[0].TotalUp)
		return nil
	}))

	require.ErrorIs(t, s.WithTx(ctx, func(tx domain.Tx) error {
		return tx.UpdateRound(ctx, domain.Round{Key: "nope"})
	}), domain.ErrNotFound)
}

func TestListRoundsTimeWindow(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.WithTx(ctx, func(tx domain.Tx) error {
		for n := range 4 {
			r := domain.Round{
				Key:       fmt.Sprintf("r%d", n),
				Game:      "g",
				Number:    uint64(n),
				CreatedAt: base.Add(time.Duration(n) * time.Hour),
			}
			if err := tx.InsertRound(ctx, r); err != nil {
				return err
			}
		}
		return tx.InsertRound(ctx, domain.Round{Key: "other", Game: "h", CreatedAt: base.Add(time.Hour)})
	}))

	since, until := base.Add(time.Hour), base.Add(2*time.Hour)
	require.NoError(t, s.View(ctx, func(tx domain.Tx) error {
		rounds, err := tx.ListRounds(ctx, "g", domain.ListOpts{Since: &since, Until: &until})
		require.NoError(t, err)
		require.Len(t, rounds, 2)
		assert.Equal(t, uint64(2), rounds[0].Number)
		assert.Equal(t, uint64(1), rounds[1].Number)

		rounds, err = tx.ListRounds(ctx, "g", domain.ListOpts{Since: &until})
		require.NoError(t, err)
		assert.Len(t, rounds, 2)
		return nil
	}))
}

func TestViewIsReadOnly(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	err := s.View(ctx, func(tx domain.Tx) error {
		return tx.InsertGame(ctx, domain.Game{Key: "g"})
	})
	require.ErrorIs(t, err, errReadOnly)
}

func TestAuditStoreNewestFirst(t *testing.T) {
	a := NewAuditStore()
	ctx := context.Background()
	require.NoError(t, a.Log(ctx, "first", map[string]any{"n": 1}))
	require.NoError(t, a.Log(ctx, "second", nil))

	entries, err := a.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].Event)
	assert.Equal(t, 1, entries[1].Detail["n"])
}
