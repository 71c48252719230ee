package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bullbear/internal/oracle"
)

const testFeed = "e62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"

func update(price string, publish int64) string {
	return `{"type":"price_update","price_feed":{"id":"` + testFeed + `","price":{"price":"` + price +
		`","conf":"5","expo":-8,"publish_time":` + jsonInt(publish) + `}}}`
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestParsePriceUpdate(t *testing.T) {
	obs, ok, err := parsePriceUpdate([]byte(update("6512345000000", 1767225600)))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0x"+testFeed, obs.FeedID)
	assert.Equal(t, int64(6512345000000), obs.Price)
	assert.Equal(t, uint64(5), obs.Conf)
	assert.Equal(t, int32(-8), obs.Expo)
	assert.Equal(t, int64(1767225600), obs.PublishTime.Unix())

	_, ok, err = parsePriceUpdate([]byte(`{"type":"response","status":"success"}`))
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = parsePriceUpdate([]byte(`{"type":"response","status":"error","error":"unknown id"}`))
	require.Error(t, err)

	_, _, err = parsePriceUpdate([]byte(update("not-a-number", 1)))
	require.Error(t, err)
}

// fakeHermes accepts one subscription and replays frames.
func fakeHermes(t *testing.T, frames []string, subscribed chan<- subscribeCommand) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var cmd subscribeCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		subscribed <- cmd
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response","status":"success"}`))
		for _, f := range frames {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(f))
		}
		// Hold the connection until the client leaves.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestHermesFeedWritesNewestPrice(t *testing.T) {
	subscribed := make(chan subscribeCommand, 1)
	srv := fakeHermes(t, []string{
		update("100", 1767225600),
		update("90", 1767225599), // out of order, dropped
		`{"type":"price_update"}`,
		update("105", 1767225601),
	}, subscribed)
	defer srv.Close()

	cache := oracle.NewStaticSource(nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := NewHermesFeed(Config{
		URL:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		FeedIDs: []string{"0x" + testFeed},
	}, cache, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	cmd := <-subscribed
	assert.Equal(t, "subscribe", cmd.Type)
	assert.Equal(t, []string{testFeed}, cmd.IDs)

	require.Eventually(t, func() bool {
		obs, err := cache.LatestPrice(context.Background(), "0x"+testFeed)
		return err == nil && obs.Price == 105
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop")
	}
}

func TestHermesFeedWithoutFeeds(t *testing.T) {
	f := NewHermesFeed(Config{}, oracle.NewStaticSource(nil), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, f.Run(context.Background()))
}
