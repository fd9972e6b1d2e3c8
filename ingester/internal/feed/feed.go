// Package feed maintains the long-lived websocket connection to the
// exchange trade stream.
package feed

import (
	"context"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
)

// DefaultEndpoint is the Binance spot market raw-stream base URL.
const DefaultEndpoint = "wss://stream.binance.com:9443/ws"

// Feed is a single persistent connection to one symbol's trade stream.
// It is owned by exactly one consume loop and is not safe for concurrent use.
type Feed struct {
	conn   *websocket.Conn
	stream string
}

// Dial connects to the <symbol>@trade stream under endpoint. The symbol is
// lowercased on the wire as the exchange requires.
func Dial(ctx context.Context, endpoint, symbol string) (*Feed, error) {
	stream := fmt.Sprintf("%s/%s@trade", strings.TrimRight(endpoint, "/"), strings.ToLower(symbol))

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, stream, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial feed %s: %w", stream, err)
	}

	return &Feed{conn: conn, stream: stream}, nil
}

// Stream returns the URL this feed is connected to.
func (f *Feed) Stream() string {
	return f.stream
}

// ReadText blocks until the next text frame and returns its payload.
// Non-text frames (binary, and control frames handled by the transport) are
// discarded without effect. An error means the connection is gone.
func (f *Feed) ReadText() ([]byte, error) {
	for {
		msgType, data, err := f.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read feed frame: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

// Close tears the connection down.
func (f *Feed) Close() error {
	return f.conn.Close()
}
