package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bullbear/internal/cache/local"
	"github.com/alanyoungcy/bullbear/internal/crypto"
	"github.com/alanyoungcy/bullbear/internal/domain"
	"github.com/alanyoungcy/bullbear/internal/engine"
	"github.com/alanyoungcy/bullbear/internal/oracle"
	"github.com/alanyoungcy/bullbear/internal/server/handler"
	"github.com/alanyoungcy/bullbear/internal/store/memory"
)

const (
	adminKey = "admin-secret"
	token    = "0x6666666666666666666666666666666666666666"
	feedID   = "0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type apiFixture struct {
	t       *testing.T
	handler http.Handler
	clock   *manualClock
	prices  *oracle.StaticSource
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	sealer, err := crypto.NewVaultSealer("server-test-custody-secret")
	require.NoError(t, err)

	clock := &manualClock{now: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	prices := oracle.NewStaticSource(clock)
	require.NoError(t, prices.SetPrice(context.Background(), domain.PriceObservation{FeedID: feedID, Price: 1000, Expo: -2}))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New(sealer.Verifier())
	audit := memory.NewAuditStore()
	eng := engine.New(store, oracle.NewReader(prices, clock), sealer, nil, engine.Options{Clock: clock}, logger)

	h := NewHandler(
		Config{AdminAPIKey: adminKey, EnvelopeMaxTTL: 5 * time.Minute},
		Handlers{
			Health:   handler.NewHealthHandler("server", nil, logger),
			Protocol: handler.NewProtocolHandler(eng, logger),
			Game:     handler.NewGameHandler(eng, logger),
			Round:    handler.NewRoundHandler(eng, nil, logger),
			Bet:      handler.NewBetHandler(eng, logger),
			Ledger:   handler.NewLedgerHandler(eng, audit, store, logger),
		},
		Deps{Nonces: local.NewNonceGuard(), Limiter: local.NewRateLimiter()},
		logger,
	)
	return &apiFixture{t: t, handler: h, clock: clock, prices: prices}
}

func newSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	s, err := crypto.NewSigner(hex.EncodeToString(ethcrypto.FromECDSA(pk)))
	require.NoError(t, err)
	return s
}

func (f *apiFixture) envelope(s *crypto.Signer, path, action string, payload any) crypto.Envelope {
	f.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(f.t, err)
	e := crypto.Envelope{
		Action:    action,
		Target:    http.MethodPost + " " + path,
		Nonce:     uuid.NewString(),
		ExpiresAt: time.Now().Add(time.Minute).Unix(),
		Payload:   raw,
	}
	require.NoError(f.t, s.Sign(&e))
	return e
}

func (f *apiFixture) do(method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	f.t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(f.t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) signed(s *crypto.Signer, path, action string, payload any) *httptest.ResponseRecorder {
	f.t.Helper()
	return f.do(http.MethodPost, path, f.envelope(s, path, action, payload), nil)
}

func (f *apiFixture) deposit(owner, tok string, amount uint64) {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/api/admin/deposits",
		map[string]any{"owner": owner, "token": tok, "amount": amount},
		map[string]string{"X-API-Key": adminKey})
	require.Equal(f.t, http.StatusOK, rec.Code, rec.Body.String())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, rec)["code"]
}

// setupGame creates a protocol and a game owned by op and returns the game.
func (f *apiFixture) setupGame(op *crypto.Signer) domain.Game {
	f.t.Helper()
	f.deposit(op.Address(), token, 10)

	rec := f.signed(op, "/api/protocols", "create_protocol",
		map[string]any{"game_creation_fee": 10, "fee_token": token})
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decode[domain.Protocol](f.t, rec)

	rec = f.signed(op, "/api/games", "create_game", domain.GameParams{
		Protocol:      p.Key,
		Token:         token,
		FeedID:        feedID,
		RoundInterval: 60,
	})
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[domain.Game](f.t, rec)
}

func TestRoundLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	op, alice, bob := newSigner(t), newSigner(t), newSigner(t)
	g := f.setupGame(op)
	base := "/api/games/" + g.Key

	rec := f.signed(op, base+"/rounds", "create_round", struct{}{})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = f.signed(op, base+"/rounds/current/start", "start_round", struct{}{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.RoundActive, decode[domain.Round](t, rec).State)

	f.deposit(alice.Address(), token, 300)
	f.deposit(bob.Address(), token, 700)
	rec = f.signed(alice, "/api/bets", "place_bet", engine.BetParams{Game: g.Key, Prediction: domain.MovementUp, Amount: 300})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	aliceBet := decode[domain.Bet](t, rec)
	rec = f.signed(bob, "/api/bets", "place_bet", map[string]any{"game": g.Key, "prediction": " DOWN", "amount": 700})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, domain.MovementDown, decode[domain.Bet](t, rec).Prediction)

	rec = f.signed(op, base+"/rounds/current/close", "close_betting", struct{}{})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, domain.ErrBettingPhaseNotEnded.Code, errorCode(t, rec))

	f.clock.Advance(30 * time.Second)
	rec = f.signed(op, base+"/rounds/current/close", "close_betting", struct{}{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	f.clock.Advance(30 * time.Second)
	require.NoError(t, f.prices.SetPrice(context.Background(), domain.PriceObservation{FeedID: feedID, Price: 1100, Expo: -2}))
	rec = f.signed(op, base+"/rounds/current/end", "end_round", struct{}{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.MovementUp, decode[domain.Round](t, rec).Outcome)

	rec = f.signed(bob, "/api/bets/"+aliceBet.Key+"/claim", "claim_prize", struct{}{})
	assert.Equal(t, http.StatusForbidden, rec.Code, "only the bettor may claim")

	rec = f.signed(alice, "/api/bets/"+aliceBet.Key+"/claim", "claim_prize", struct{}{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, uint64(1000), decode[domain.Bet](t, rec).Payout)

	rec = f.do(http.MethodGet, "/api/wallets/"+alice.Address()+"/"+token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(1000), decode[domain.Vault](t, rec).Balance)

	rec = f.do(http.MethodGet, base+"/rounds/0/bets/"+alice.Address(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[domain.Bet](t, rec).Claimed)

	rec = f.do(http.MethodGet, base+"/rounds?limit=10", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[struct{ Rounds []domain.Round }](t, rec).Rounds, 1)

	rec = f.do(http.MethodGet, "/api/admin/ledger/"+token, nil, map[string]string{"Authorization": "Bearer " + adminKey})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1010", decode[map[string]string](t, rec)["total"])
}

func TestEnvelopeChecks(t *testing.T) {
	f := newAPIFixture(t)
	op := newSigner(t)
	f.deposit(op.Address(), token, 10)

	env := f.envelope(op, "/api/protocols", "create_protocol", map[string]any{"game_creation_fee": 0, "fee_token": token})
	rec := f.do(http.MethodPost, "/api/protocols", env, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(http.MethodPost, "/api/protocols", env, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, domain.ErrNonceReplayed.Code, errorCode(t, rec))

	tampered := f.envelope(op, "/api/protocols", "create_protocol", map[string]any{"fee_token": token})
	tampered.Payload = json.RawMessage(`{"fee_token":"` + token + `","game_creation_fee":1}`)
	rec = f.do(http.MethodPost, "/api/protocols", tampered, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, domain.ErrInvalidSignature.Code, errorCode(t, rec))

	rec = f.signed(op, "/api/protocols", "create_game", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "action must match the route")

	far := f.envelope(op, "/api/protocols", "create_protocol", map[string]any{})
	far.ExpiresAt = time.Now().Add(time.Hour).Unix()
	require.NoError(t, op.Sign(&far))
	rec = f.do(http.MethodPost, "/api/protocols", far, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.signed(op, "/api/protocols", "create_protocol", map[string]any{"fee": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown payload fields are rejected")

	rec = f.do(http.MethodPost, "/api/protocols", "not an envelope", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnvelopeBoundToTarget(t *testing.T) {
	f := newAPIFixture(t)
	op := newSigner(t)
	a := f.setupGame(op)
	f.deposit(op.Address(), token, 10)

	rec := f.signed(op, "/api/games", "create_game", domain.GameParams{
		Protocol:      a.Protocol,
		Token:         token,
		FeedID:        "0x" + strings.Repeat("ab", 32),
		RoundInterval: 60,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	b := decode[domain.Game](t, rec)
	require.NotEqual(t, a.Key, b.Key)

	env := f.envelope(op, "/api/games/"+a.Key+"/rounds", "create_round", struct{}{})
	rec = f.do(http.MethodPost, "/api/games/"+b.Key+"/rounds", env, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, domain.ErrInvalidInput.Code, errorCode(t, rec))

	rec = f.do(http.MethodGet, "/api/games/"+b.Key+"/rounds/0", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "no round was created for the other game")

	env.Target = http.MethodPost + " /api/games/" + b.Key + "/rounds"
	rec = f.do(http.MethodPost, "/api/games/"+b.Key+"/rounds", env, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "rewriting the target breaks the signature")

	rec = f.do(http.MethodPost, "/api/games/"+a.Key+"/rounds", f.envelope(op, "/api/games/"+a.Key+"/rounds", "create_round", struct{}{}), nil)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestAuthorityAndStateErrors(t *testing.T) {
	f := newAPIFixture(t)
	op, mallory := newSigner(t), newSigner(t)
	g := f.setupGame(op)
	base := "/api/games/" + g.Key

	rec := f.signed(mallory, base+"/rounds", "create_round", struct{}{})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, domain.ErrUnauthorized.Code, errorCode(t, rec))

	rec = f.signed(mallory, "/api/bets", "place_bet", engine.BetParams{Game: g.Key, Prediction: domain.MovementUp, Amount: 1})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, domain.ErrRoundNotActive.Code, errorCode(t, rec))

	rec = f.signed(mallory, "/api/bets", "place_bet", map[string]any{"game": g.Key, "prediction": "sideways", "amount": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.ErrInvalidPrediction.Code, errorCode(t, rec))

	rec = f.do(http.MethodGet, base+"/rounds/current", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodGet, base+"/rounds/x", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/feeds/"+feedID+"?max_age=1s", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(1000), decode[domain.PriceObservation](t, rec).Price)

	rec = f.do(http.MethodGet, "/api/feeds/0x1234", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, base+"/rounds/0/receipt", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRoutesRequireKey(t *testing.T) {
	f := newAPIFixture(t)
	body := map[string]any{"owner": token, "token": token, "amount": 1}

	rec := f.do(http.MethodPost, "/api/admin/deposits", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(http.MethodPost, "/api/admin/deposits", body, map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(http.MethodGet, "/api/admin/audit", nil, map[string]string{"X-API-Key": adminKey})
	assert.Equal(t, http.StatusOK, rec.Code)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	closed := NewHandler(Config{}, Handlers{
		Health: handler.NewHealthHandler("server", nil, logger),
		Ledger: handler.NewLedgerHandler(nil, nil, nil, logger),
	}, Deps{Nonces: local.NewNonceGuard()}, logger)
	req := httptest.NewRequest(http.MethodGet, "/api/admin/audit", nil)
	req.Header.Set("X-API-Key", "")
	out := httptest.NewRecorder()
	closed.ServeHTTP(out, req)
	assert.Equal(t, http.StatusForbidden, out.Code)
}

func TestRateLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(Config{RateLimit: 2, RateWindow: time.Minute}, Handlers{
		Health: handler.NewHealthHandler("server", nil, logger),
	}, Deps{Nonces: local.NewNonceGuard(), Limiter: local.NewRateLimiter()}, logger)

	codes := make([]int, 0, 3)
	for range 3 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestHealthAndRequestID(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(http.MethodGet, "/api/health", nil, map[string]string{"X-Request-ID": "abc"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))

	rec = f.do(http.MethodGet, "/api/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "server", decode[map[string]any](t, rec)["mode"])
	_, err := strconv.Atoi(rec.Header().Get("X-Request-ID"))
	assert.Error(t, err, "generated ids are uuids")
}
