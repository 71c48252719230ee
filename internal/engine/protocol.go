package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// CreateProtocol registers authority as a protocol operator charging fee
// (in feeToken) for each game created under it.
func (e *Engine) CreateProtocol(ctx context.Context, authority string, fee uint64, feeToken string) (domain.Protocol, error) {
	authority, err := NormalizeAddress(authority)
	if err != nil {
		return domain.Protocol{}, err
	}
	feeToken, err = NormalizeAddress(feeToken)
	if err != nil {
		return domain.Protocol{}, err
	}

	key := ProtocolKey(authority)
	p := domain.Protocol{
		Key:             key,
		Authority:       authority,
		GameCreationFee: fee,
		FeeToken:        feeToken,
		Vault:           VaultKey(key),
		CreatedAt:       e.clock.Now().UTC(),
	}

	err = e.store.WithTx(ctx, func(tx domain.Tx) error {
		if err := tx.InsertProtocol(ctx, p); err != nil {
			return err
		}
		return tx.OpenVault(ctx, domain.Vault{
			ID:    p.Vault,
			Owner: key,
			Kind:  domain.VaultProtocol,
			Token: feeToken,
		})
	})
	if err != nil {
		return domain.Protocol{}, fmt.Errorf("engine: create protocol: %w", err)
	}

	e.logger.InfoContext(ctx, "engine: protocol created",
		slog.String("protocol", key),
		slog.String("authority", authority),
		slog.Uint64("fee", fee),
	)
	e.emit(ctx, domain.Event{
		Type:     domain.EventProtocolCreated,
		Actor:    authority,
		Protocol: key,
		Amount:   fee,
	})
	return p, nil
}

// WithdrawProtocolFees moves the whole fee vault to the protocol authority's
// wallet and returns the amount moved.
func (e *Engine) WithdrawProtocolFees(ctx context.Context, authority, protocolKey string) (uint64, error) {
	authority, err := NormalizeAddress(authority)
	if err != nil {
		return 0, err
	}

	var amount uint64
	err = e.store.WithTx(ctx, func(tx domain.Tx) error {
		p, err := tx.GetProtocol(ctx, protocolKey)
		if err != nil {
			return err
		}
		if p.Authority != authority {
			return domain.ErrUnauthorized
		}
		v, err := tx.GetVault(ctx, p.Vault)
		if err != nil {
			return err
		}
		if v.Balance == 0 {
			return domain.ErrNothingToWithdraw
		}
		wallet, err := ensureWallet(ctx, tx, authority, p.FeeToken)
		if err != nil {
			return err
		}
		amount = v.Balance
		return tx.Transfer(ctx, p.Vault, wallet, amount, e.sealer.Seal(p.Key))
	})
	if err != nil {
		return 0, fmt.Errorf("engine: withdraw protocol fees: %w", err)
	}

	e.logger.InfoContext(ctx, "engine: protocol fees withdrawn",
		slog.String("protocol", protocolKey),
		slog.Uint64("amount", amount),
	)
	e.emit(ctx, domain.Event{
		Type:     domain.EventProtocolWithdrawn,
		Actor:    authority,
		Protocol: protocolKey,
		Amount:   amount,
	})
	return amount, nil
}
