package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Subscriber is the client side of the relay.
type Subscriber struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Dial connects to a hub at url (ws:// or wss://).
func Dial(ctx context.Context, url string) (*Subscriber, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing relay %s: %w", url, err)
	}
	return &Subscriber{conn: conn}, nil
}

// Listen reads messages and passes each to handler until the connection closes
// or ctx is done. A cancelled ctx is a clean exit and returns nil.
func (s *Subscriber) Listen(ctx context.Context, handler func(Message)) error {
	stop := context.AfterFunc(ctx, func() {
		s.conn.Close()
	})
	defer stop()

	for {
		var m Message
		if err := s.conn.ReadJSON(&m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("reading relay message: %w", err)
		}
		handler(m)
	}
}

// Post sends m to the hub.
func (s *Subscriber) Post(m Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(m); err != nil {
		return fmt.Errorf("posting %s: %w", m.Type, err)
	}
	return nil
}

// Close closes the connection.
func (s *Subscriber) Close() error {
	return s.conn.Close()
}
