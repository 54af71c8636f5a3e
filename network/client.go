package network

import (
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one relay-side websocket connection.
type Client struct {
	Hub       *Room
	Conn      *websocket.Conn
	Send      chan []byte
	SessionID string

	// Owned by the room goroutine.
	Name   string
	joined bool
	state  Participant
	chat   *rate.Limiter

	connectedAt time.Time
	bytesIn     atomic.Uint64
	bytesOut    atomic.Uint64
}

type inbound struct {
	client *Client
	env    Envelope
}

func ServeWs(room *Room, w http.ResponseWriter, r *http.Request) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	client := &Client{
		Hub:         room,
		Conn:        conn,
		Send:        make(chan []byte, sendBuffer),
		SessionID:   uuid.NewString(),
		chat:        room.newChatLimiter(),
		connectedAt: time.Now(),
	}
	client.state.ID = client.SessionID
	if !room.register(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessage)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			break
		}
		c.bytesIn.Add(uint64(len(message)))
		env, err := DecodeEnvelope(message)
		if err != nil {
			continue
		}
		if !c.Hub.deliver(inbound{client: c, env: env}) {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
			c.bytesOut.Add(uint64(len(message)))
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// push queues a message without blocking the room loop. Slow clients lose
// messages rather than stalling everyone else.
func (c *Client) push(msgType string, payload any) {
	b, err := Encode(msgType, payload)
	if err != nil {
		log.Printf("room %s: encode %s: %v", c.Hub.ID, msgType, err)
		return
	}
	select {
	case c.Send <- b:
	default:
		log.Printf("room %s: dropping %s for slow client %s", c.Hub.ID, msgType, c.SessionID)
	}
}
