package network

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Send after the transport has shut down.
var ErrClosed = errors.New("network: transport closed")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
	maxMessage = 1 << 20
	sendBuffer = 256
)

// Transport is the client side websocket connection to the relay.
type Transport struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	running atomic.Bool
}

// Dial connects to the relay at rawURL, selecting room via the query string.
func Dial(ctx context.Context, rawURL, room string) (*Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("relay url: %w", err)
	}
	if room != "" {
		q := u.Query()
		q.Set("room", room)
		u.RawQuery = q.Encode()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", u.Redacted(), err)
	}
	return &Transport{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}, nil
}

// Send encodes and queues one message. It never blocks; a full buffer drops
// the message.
func (t *Transport) Send(msgType string, payload any) error {
	b, err := Encode(msgType, payload)
	if err != nil {
		return err
	}
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	select {
	case t.send <- b:
		return nil
	case <-t.done:
		return ErrClosed
	default:
		return fmt.Errorf("send %s: buffer full", msgType)
	}
}

// Run pumps messages until the connection drops or ctx is cancelled. deliver
// is called from the read goroutine for every decoded envelope.
func (t *Transport) Run(ctx context.Context, deliver func(Envelope)) error {
	t.running.Store(true)
	go t.writePump()
	go func() {
		select {
		case <-ctx.Done():
			t.Close()
		case <-t.done:
		}
	}()
	return t.readPump(deliver)
}

func (t *Transport) readPump(deliver func(Envelope)) error {
	defer t.Close()
	t.conn.SetReadLimit(maxMessage)
	_ = t.conn.SetReadDeadline(time.Now().Add(pongWait))
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, msg, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read relay: %w", err)
		}
		env, err := DecodeEnvelope(msg)
		if err != nil {
			log.Printf("transport: %v", err)
			continue
		}
		deliver(env)
	}
}

func (t *Transport) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		t.conn.Close()
	}()
	for {
		select {
		case msg := <-t.send:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("transport: write: %v", err)
				t.Close()
				return
			}
		case <-ticker.C:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.Close()
				return
			}
		case <-t.done:
			_ = t.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// Close shuts the transport down. It is safe to call more than once.
func (t *Transport) Close() error {
	t.once.Do(func() {
		close(t.done)
		if !t.running.Load() {
			t.conn.Close()
		}
	})
	return nil
}
