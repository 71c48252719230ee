package postgres

import (
	"context"
	"fmt"
	"math/bits"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

const vaultColumns = `id, owner, kind, token, balance::text, updated_at`

func scanVault(row rowScanner) (domain.Vault, error) {
	var v domain.Vault
	var kind, balance string
	if err := row.Scan(&v.ID, &v.Owner, &kind, &v.Token, &balance, &v.UpdatedAt); err != nil {
		return domain.Vault{}, err
	}
	v.Kind = domain.VaultKind(kind)
	var err error
	v.Balance, err = parseAmount(balance)
	return v, err
}

// OpenVault creates an empty vault. The balance in v is ignored.
func (t *pgTx) OpenVault(ctx context.Context, v domain.Vault) error {
	const query = `
		INSERT INTO vaults (id, owner, kind, token, balance, updated_at)
		VALUES ($1, $2, $3, $4, 0, NOW())
		ON CONFLICT (id) DO NOTHING`
	tag, err := t.tx.Exec(ctx, query, v.ID, v.Owner, string(v.Kind), v.Token)
	if err != nil {
		return fmt.Errorf("postgres: open vault %s: %w", v.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

func (t *pgTx) GetVault(ctx context.Context, id string) (domain.Vault, error) {
	query := t.forUpdate(`SELECT ` + vaultColumns + ` FROM vaults WHERE id = $1`)
	v, err := scanVault(t.tx.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Vault{}, fmt.Errorf("postgres: get vault %s: %w", id, notFound(err))
	}
	return v, nil
}

func (t *pgTx) Deposit(ctx context.Context, id string, amount uint64) error {
	v, err := t.GetVault(ctx, id)
	if err != nil {
		return fmt.Errorf("postgres: deposit: %w", err)
	}
	sum, carry := bits.Add64(v.Balance, amount, 0)
	if carry != 0 {
		return domain.ErrBalanceOverflow
	}
	return t.setBalance(ctx, id, sum)
}

// Transfer locks both rows in id order so concurrent transfers between the
// same pair cannot deadlock.
func (t *pgTx) Transfer(ctx context.Context, from, to string, amount uint64, auth domain.VaultAuthority) error {
	const query = `SELECT ` + vaultColumns + ` FROM vaults WHERE id = ANY($1) ORDER BY id FOR UPDATE`
	rows, err := t.tx.Query(ctx, query, []string{from, to})
	if err != nil {
		return fmt.Errorf("postgres: lock vaults: %w", err)
	}
	found := make(map[string]domain.Vault, 2)
	for rows.Next() {
		v, err := scanVault(rows)
		if err != nil {
			rows.Close()
			return fmt.Errorf("postgres: scan vault: %w", err)
		}
		found[v.ID] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: lock vaults rows: %w", err)
	}

	src, ok := found[from]
	if !ok {
		return fmt.Errorf("postgres: transfer from %s: %w", from, domain.ErrNotFound)
	}
	dst, ok := found[to]
	if !ok {
		return fmt.Errorf("postgres: transfer to %s: %w", to, domain.ErrNotFound)
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

	if err := t.setBalance(ctx, from, src.Balance-amount); err != nil {
		return err
	}
	return t.setBalance(ctx, to, sum)
}

func (t *pgTx) setBalance(ctx context.Context, id string, balance uint64) error {
	const query = `UPDATE vaults SET balance = $2::text::numeric, updated_at = NOW() WHERE id = $1`
	if _, err := t.tx.Exec(ctx, query, id, amountArg(balance)); err != nil {
		return fmt.Errorf("postgres: set balance of %s: %w", id, err)
	}
	return nil
}

// SumBalances adds up every vault holding token, in decimal. Operators use
// it to reconcile the ledger against external custody.
func (s *Store) SumBalances(ctx context.Context, token string) (string, error) {
	var total string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(balance), 0)::text FROM vaults WHERE token = $1`, token,
	).Scan(&total)
	if err != nil {
		return "", fmt.Errorf("postgres: total balance of %s: %w", token, err)
	}
	return total, nil
}
