package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bullbear/internal/cache/local"
	"github.com/alanyoungcy/bullbear/internal/config"
	"github.com/alanyoungcy/bullbear/internal/domain"
	"github.com/alanyoungcy/bullbear/internal/store/memory"
)

func TestWireInProcess(t *testing.T) {
	cfg := config.Defaults()
	cfg.Engine.CustodySecret = "0123456789abcdef"
	cfg.Oracle.Static = []config.StaticPrice{{FeedID: "btc", Price: 6500000, Expo: -2}}
	require.NoError(t, cfg.Validate())

	deps, cleanup, err := Wire(context.Background(), &cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &memory.Store{}, deps.Store)
	assert.IsType(t, &local.Bus{}, deps.Bus)
	assert.Nil(t, deps.Receipts)
	assert.Empty(t, deps.Checks)
	require.NotNil(t, deps.Sealer)

	obs, err := deps.Prices.LatestPrice(context.Background(), "btc")
	require.NoError(t, err)
	assert.Equal(t, int64(6500000), obs.Price)

	_, err = deps.Prices.LatestPrice(context.Background(), "eth")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVerifierWithoutSecretRejects(t *testing.T) {
	assert.False(t, verifierOf(nil).Verify(domain.VaultAuthority{}))
}
