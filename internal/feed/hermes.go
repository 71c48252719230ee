// Package feed keeps the price cache current from the Pyth Hermes
// streaming API.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// subscribeCommand is the Hermes subscription request. Feed ids are sent
// without the 0x prefix.
type subscribeCommand struct {
	Type string   `json:"type"`
	IDs  []string `json:"ids"`
}

// hermesMessage covers both the subscription response and price updates.
type hermesMessage struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	Error     string `json:"error"`
	PriceFeed *struct {
		ID    string      `json:"id"`
		Price hermesPrice `json:"price"`
	} `json:"price_feed"`
}

type hermesPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

// parsePriceUpdate converts a price_update message. ok is false for any
// other message type.
func parsePriceUpdate(raw []byte) (obs domain.PriceObservation, ok bool, err error) {
	var msg hermesMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return obs, false, fmt.Errorf("feed/hermes: decode: %w", err)
	}
	switch msg.Type {
	case "price_update":
	case "response":
		if msg.Status != "success" {
			return obs, false, fmt.Errorf("feed/hermes: subscription rejected: %s", msg.Error)
		}
		return obs, false, nil
	default:
		return obs, false, nil
	}
	if msg.PriceFeed == nil {
		return obs, false, fmt.Errorf("feed/hermes: price_update without price_feed")
	}

	p := msg.PriceFeed.Price
	price, err := strconv.ParseInt(p.Price, 10, 64)
	if err != nil {
		return obs, false, fmt.Errorf("feed/hermes: parse price: %w", err)
	}
	conf, err := strconv.ParseUint(p.Conf, 10, 64)
	if err != nil {
		return obs, false, fmt.Errorf("feed/hermes: parse conf: %w", err)
	}
	return domain.PriceObservation{
		FeedID:      "0x" + strings.TrimPrefix(strings.ToLower(msg.PriceFeed.ID), "0x"),
		Price:       price,
		Conf:        conf,
		Expo:        p.Expo,
		PublishTime: time.Unix(p.PublishTime, 0).UTC(),
	}, true, nil
}

// hermesConn is one websocket session.
type hermesConn struct {
	conn *websocket.Conn
}

func dialHermes(ctx context.Context, url string, feedIDs []string) (*hermesConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("feed/hermes: connect: %w", err)
	}

	ids := make([]string, len(feedIDs))
	for i, id := range feedIDs {
		ids[i] = strings.TrimPrefix(id, "0x")
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(subscribeCommand{Type: "subscribe", IDs: ids}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("feed/hermes: subscribe: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &hermesConn{conn: conn}, nil
}

// run reads messages until the connection fails or ctx ends, handing each
// observation to onPrice.
func (h *hermesConn) run(ctx context.Context, onPrice func(domain.PriceObservation), onErr func(error)) error {
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				// Unblock ReadMessage.
				_ = h.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				_ = h.conn.Close()
				return
			case <-ticker.C:
				if err := h.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()
	defer h.conn.Close()

	for {
		_, raw, err := h.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed/hermes: read: %w", err)
		}
		// Any traffic proves the peer is alive.
		_ = h.conn.SetReadDeadline(time.Now().Add(pongWait))

		obs, ok, err := parsePriceUpdate(raw)
		if err != nil {
			onErr(err)
			continue
		}
		if ok {
			onPrice(obs)
		}
	}
}
