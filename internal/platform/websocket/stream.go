package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gorillawebsocket "github.com/gorilla/websocket"

	"github.com/medibook/medibook/internal/platform/events"
)

// Stream is the client side of the event stream.
type Stream struct {
	conn *gorillawebsocket.Conn
}

// StreamURL turns an API base URL such as "http://host:8000" into the
// event stream URL.
func StreamURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	return u.String(), nil
}

// Dial connects to the event stream with a bearer token.
func Dial(ctx context.Context, baseURL, token string) (*Stream, error) {
	wsURL, err := StreamURL(baseURL)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := gorillawebsocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", wsURL, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	return &Stream{conn: conn}, nil
}

// Subscribe asks the server for additional topics.
func (s *Stream) Subscribe(topics ...string) error {
	return s.conn.WriteJSON(ClientMessage{Action: "subscribe", Topics: topics})
}

// Next blocks until the next event arrives.
func (s *Stream) Next() (events.Event, error) {
	var ev events.Event
	if err := s.conn.ReadJSON(&ev); err != nil {
		return events.Event{}, err
	}
	return ev, nil
}

func (s *Stream) Close() error {
	return s.conn.Close()
}
