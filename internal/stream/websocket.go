package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/websocket"

	"nudge/internal/notification"
)

// TokenFunc mints the bearer token presented when dialing for userID.
type TokenFunc func(userID string) (string, error)

// WebSocketDialer dials "<URL>?user=<id>" and decodes JSON frames. A frame
// that is not a JSON object comes back as a ParseError and the connection
// stays usable.
type WebSocketDialer struct {
	URL    string
	Origin string
	Token  TokenFunc
}

func (d WebSocketDialer) Dial(ctx context.Context, userID string) (Conn, error) {
	raw := strings.TrimSpace(d.URL)
	if raw == "" {
		return nil, errors.New("stream url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse stream url: %w", err)
	}
	q := u.Query()
	q.Set("user", userID)
	u.RawQuery = q.Encode()

	origin := strings.TrimSpace(d.Origin)
	if origin == "" {
		origin = defaultOrigin(u)
	}
	cfg, err := websocket.NewConfig(u.String(), origin)
	if err != nil {
		return nil, fmt.Errorf("websocket config: %w", err)
	}
	if d.Token != nil {
		tok, err := d.Token(userID)
		if err != nil {
			return nil, fmt.Errorf("mint stream token: %w", err)
		}
		if tok != "" {
			cfg.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	ws, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, err
	}
	return &wsConn{ws: ws}, nil
}

func defaultOrigin(u *url.URL) string {
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	return scheme + "://" + u.Host + "/"
}

type wsConn struct{ ws *websocket.Conn }

func (c *wsConn) Receive() (Message, error) {
	var raw []byte
	if err := websocket.Message.Receive(c.ws, &raw); err != nil {
		return Message{}, err
	}
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, notification.ParseError("decode", "frame", err)
	}
	return m, nil
}

func (c *wsConn) Close() error { return c.ws.Close() }
