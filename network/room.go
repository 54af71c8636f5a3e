package network

import (
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ChatHistory persists chat so late joiners get recent messages.
type ChatHistory interface {
	SaveChat(room string, m ChatMessage) error
	RecentChat(room string, limit int) ([]ChatMessage, error)
}

type RoomOptions struct {
	History      ChatHistory
	HistoryLimit int
	ChatPerSec   float64
	ChatBurst    int
}

const maxChatRunes = 500

// Room relays messages between the participants of one space. All state is
// owned by the Run goroutine; Mutex only guards Clients for outside readers.
type Room struct {
	ID         string
	Clients    map[*Client]bool
	Register   chan *Client
	Unregister chan *Client
	Options    RoomOptions
	Mutex      sync.RWMutex

	inbox       chan inbound
	broadcaster *Client
	done        chan struct{}
	stopOnce    sync.Once
}

func NewRoom(id string, opts RoomOptions) *Room {
	if opts.ChatPerSec <= 0 {
		opts.ChatPerSec = 2
	}
	if opts.ChatBurst <= 0 {
		opts.ChatBurst = 5
	}
	return &Room{
		ID:         id,
		Clients:    make(map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Options:    opts,
		inbox:      make(chan inbound, 64),
		done:       make(chan struct{}),
	}
}

func (r *Room) newChatLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(r.Options.ChatPerSec), r.Options.ChatBurst)
}

func (r *Room) register(c *Client) bool {
	select {
	case r.Register <- c:
		return true
	case <-r.done:
		return false
	}
}

func (r *Room) unregister(c *Client) {
	select {
	case r.Unregister <- c:
	case <-r.done:
	}
}

func (r *Room) deliver(in inbound) bool {
	select {
	case r.inbox <- in:
		return true
	case <-r.done:
		return false
	}
}

// Count returns the number of connected clients.
func (r *Room) Count() int {
	r.Mutex.RLock()
	defer r.Mutex.RUnlock()
	return len(r.Clients)
}

// Stop ends Run and closes every client's send channel.
func (r *Room) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

func (r *Room) Run() {
	log.Printf("Room %s started", r.ID)
	for {
		select {
		case client := <-r.Register:
			r.Mutex.Lock()
			r.Clients[client] = true
			r.Mutex.Unlock()

		case client := <-r.Unregister:
			r.Mutex.Lock()
			_, ok := r.Clients[client]
			delete(r.Clients, client)
			r.Mutex.Unlock()
			if ok {
				close(client.Send)
				r.leave(client)
			}

		case in := <-r.inbox:
			r.Mutex.RLock()
			_, ok := r.Clients[in.client]
			r.Mutex.RUnlock()
			if ok {
				r.handle(in.client, in.env)
			}

		case <-r.done:
			r.Mutex.Lock()
			for client := range r.Clients {
				delete(r.Clients, client)
				close(client.Send)
			}
			r.Mutex.Unlock()
			log.Printf("Room %s stopped", r.ID)
			return
		}
	}
}

func (r *Room) handle(c *Client, env Envelope) {
	if env.Type != MsgJoin && !c.joined {
		return
	}
	switch env.Type {
	case MsgJoin:
		p, err := DecodePayload[JoinPayload](env)
		if err != nil {
			log.Printf("room %s: bad join from %s: %v", r.ID, c.SessionID, err)
			return
		}
		r.join(c, p)

	case MsgMove:
		m, err := DecodePayload[MoveState](env)
		if err != nil {
			return
		}
		c.state.Apply(m)
		r.broadcast(c, MsgMoved, MovedPayload{ID: c.SessionID, MoveState: m})

	case MsgChat:
		p, err := DecodePayload[ChatPayload](env)
		if err != nil {
			return
		}
		r.chat(c, p.Text)

	case MsgStartShare:
		if r.broadcaster == c {
			return
		}
		if r.broadcaster != nil {
			// A second sharer replaces the first.
			log.Printf("room %s: %s takes over sharing from %s", r.ID, c.Name, r.broadcaster.Name)
			r.broadcast(c, MsgShareEnded, SharePayload{})
		}
		r.broadcaster = c
		r.broadcast(c, MsgShareStarted, SharePayload{Broadcaster: c.SessionID})

	case MsgStopShare:
		if r.broadcaster != c {
			return
		}
		r.broadcaster = nil
		r.broadcast(c, MsgShareEnded, SharePayload{})

	case MsgSignal:
		s, err := DecodePayload[Signal](env)
		if err != nil || s.To == "" {
			return
		}
		target := r.find(s.To)
		if target == nil || target == c {
			return
		}
		s.From = c.SessionID
		target.push(MsgSignal, s)

	case MsgRequestView:
		if r.broadcaster == nil || r.broadcaster == c {
			return
		}
		r.broadcaster.push(MsgViewRequested, ViewRequest{Target: r.broadcaster.SessionID, From: c.SessionID})
	}
}

func (r *Room) join(c *Client, p JoinPayload) {
	if c.joined {
		return
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = "guest"
	}
	c.Name = name
	c.state.Name = name
	c.joined = true

	welcome := InitPayload{Self: c.SessionID, Participants: []Participant{}}
	r.Mutex.RLock()
	for other := range r.Clients {
		if other != c && other.joined {
			welcome.Participants = append(welcome.Participants, other.state)
		}
	}
	r.Mutex.RUnlock()
	if r.broadcaster != nil {
		welcome.Broadcaster = r.broadcaster.SessionID
	}
	if h := r.Options.History; h != nil && r.Options.HistoryLimit > 0 {
		recent, err := h.RecentChat(r.ID, r.Options.HistoryLimit)
		if err != nil {
			log.Printf("room %s: load chat history: %v", r.ID, err)
		}
		welcome.Chat = recent
	}
	c.push(MsgInit, welcome)
	r.broadcast(c, MsgParticipantJoined, c.state)
	log.Printf("room %s: %s joined as %s", r.ID, name, c.SessionID)
}

func (r *Room) chat(c *Client, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if !c.chat.Allow() {
		log.Printf("room %s: chat from %s rate limited", r.ID, c.SessionID)
		return
	}
	if utf8.RuneCountInString(text) > maxChatRunes {
		text = string([]rune(text)[:maxChatRunes])
	}
	msg := ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   c.SessionID,
		SenderName: c.Name,
		Text:       text,
		Timestamp:  time.Now().UTC(),
	}
	if h := r.Options.History; h != nil {
		if err := h.SaveChat(r.ID, msg); err != nil {
			log.Printf("room %s: save chat: %v", r.ID, err)
		}
	}
	r.broadcast(nil, MsgChat, msg)
}

func (r *Room) leave(c *Client) {
	log.Printf("room %s: %s (%s) left after %s, in %s out %s", r.ID, c.Name, c.SessionID,
		humanize.RelTime(c.connectedAt, time.Now(), "", ""),
		humanize.Bytes(c.bytesIn.Load()), humanize.Bytes(c.bytesOut.Load()))
	if !c.joined {
		return
	}
	if r.broadcaster == c {
		r.broadcaster = nil
		r.broadcast(nil, MsgShareEnded, SharePayload{})
	}
	r.broadcast(nil, MsgParticipantLeft, LeftPayload{ID: c.SessionID})
}

// broadcast sends to every joined client except skip.
func (r *Room) broadcast(skip *Client, msgType string, payload any) {
	r.Mutex.RLock()
	defer r.Mutex.RUnlock()
	for client := range r.Clients {
		if client == skip || !client.joined {
			continue
		}
		client.push(msgType, payload)
	}
}

func (r *Room) find(id string) *Client {
	r.Mutex.RLock()
	defer r.Mutex.RUnlock()
	for client := range r.Clients {
		if client.SessionID == id && client.joined {
			return client
		}
	}
	return nil
}
