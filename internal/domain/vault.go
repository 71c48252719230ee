package domain

import (
	"context"
	"time"
)

// VaultKind tells what a vault holds funds for.
type VaultKind string

const (
	VaultWallet   VaultKind = "wallet"
	VaultProtocol VaultKind = "protocol"
	VaultGame     VaultKind = "game"
	VaultRound    VaultKind = "round"
)

// Vault is a custody account. Owner is the key of the record (or the
// address, for wallets) whose authority can move funds out.
type Vault struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Kind      VaultKind `json:"kind"`
	Token     string    `json:"token"`
	Balance   uint64    `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VaultAuthority is the credential a transfer out of a vault must present.
// Seal is produced by a VaultSealer over Owner.
type VaultAuthority struct {
	Owner string
	Seal  []byte
}

// VaultSealer issues vault authorities.
type VaultSealer interface {
	Seal(owner string) VaultAuthority
}

// VaultVerifier checks a vault authority. Ledgers hold only the verifier.
type VaultVerifier interface {
	Verify(auth VaultAuthority) bool
}

// Ledger moves value between vaults. Every call runs inside the caller's
// transaction; a failed Transfer leaves both balances unchanged.
type Ledger interface {
	OpenVault(ctx context.Context, v Vault) error
	GetVault(ctx context.Context, id string) (Vault, error)
	Deposit(ctx context.Context, id string, amount uint64) error
	Transfer(ctx context.Context, from, to string, amount uint64, auth VaultAuthority) error
}
