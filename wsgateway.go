package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/logger"
	"github.com/gorilla/websocket"
)

// Frame is the wire format both directions. Inbound types: "hello"
// (subscribe to targets), "event" (a chat message), "fail" (register a
// delivery failure for a target, used in ops drills). Outbound type:
// "send".
type Frame struct {
	Type    string   `json:"type"`
	Targets []string `json:"targets,omitempty"`

	// event fields
	RoomID           string `json:"room_id,omitempty"`
	AccountID        string `json:"account_id,omitempty"`
	Username         string `json:"username,omitempty"`
	FirstName        string `json:"first_name,omitempty"`
	Text             string `json:"text,omitempty"`
	ReplyToAccountID string `json:"reply_to_account_id,omitempty"`
	ReplyToFirstName string `json:"reply_to_first_name,omitempty"`
	Direct           bool   `json:"direct,omitempty"`

	// send fields
	Target   string `json:"target,omitempty"`
	MediaRef string `json:"media_ref,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Spoiler  bool   `json:"spoiler,omitempty"`

	// fail fields
	Mode         string `json:"mode,omitempty"`
	RetryAfterMS int64  `json:"retry_after_ms,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(v)
}

type failInjection struct {
	permanent  bool
	retryAfter time.Duration
}

// WSGateway is the bundled chat transport: connected clients subscribe to
// the rooms and direct conversations they stand in for, push chat events
// at the router, and receive outbound sends. It implements Sender.
type WSGateway struct {
	upgrader websocket.Upgrader
	handle   func(ctx context.Context, ev Event) string

	mu       sync.RWMutex
	subs     map[string]map[*wsClient]bool
	failures map[string]failInjection
}

func NewWSGateway(handle func(ctx context.Context, ev Event) string) *WSGateway {
	return &WSGateway{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		handle:   handle,
		subs:     make(map[string]map[*wsClient]bool),
		failures: make(map[string]failInjection),
	}
}

// SetHandler wires the event handler in after construction; the gateway is
// built before the router because the router's components send through it.
func (g *WSGateway) SetHandler(handle func(ctx context.Context, ev Event) string) {
	g.handle = handle
}

func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warningf("ws upgrade failed: %v", err)
		return
	}
	client := &wsClient{conn: conn}
	logger.Info("ws client connected")
	// The request context dies when ServeHTTP returns; the loop lives for
	// the connection, so events run on the gateway's own context.
	go g.readLoop(client)
}

func (g *WSGateway) readLoop(client *wsClient) {
	ctx := context.Background()
	defer func() {
		g.dropClient(client)
		client.conn.Close()
		logger.Info("ws client disconnected")
	}()

	for {
		var f Frame
		if err := client.conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Type {
		case "hello":
			g.subscribe(client, f.Targets)
		case "event":
			g.dispatchEvent(ctx, client, f)
		case "fail":
			g.setFailure(f)
		}
	}
}

func (g *WSGateway) subscribe(client *wsClient, targets []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, t := range targets {
		if g.subs[t] == nil {
			g.subs[t] = make(map[*wsClient]bool)
		}
		g.subs[t][client] = true
	}
}

func (g *WSGateway) dropClient(client *wsClient) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for t, set := range g.subs {
		delete(set, client)
		if len(set) == 0 {
			delete(g.subs, t)
		}
	}
}

// setFailure arms or clears a per-target delivery failure. Mode "off"
// clears, "permanent" refuses outright, anything else fails transiently
// with an optional retry-after hint.
func (g *WSGateway) setFailure(f Frame) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if f.Mode == "off" {
		delete(g.failures, f.Target)
		return
	}
	g.failures[f.Target] = failInjection{
		permanent:  f.Mode == "permanent",
		retryAfter: time.Duration(f.RetryAfterMS) * time.Millisecond,
	}
}

func (g *WSGateway) dispatchEvent(ctx context.Context, client *wsClient, f Frame) {
	ev := Event{
		RoomID:           f.RoomID,
		AccountID:        f.AccountID,
		Username:         f.Username,
		FirstName:        f.FirstName,
		Text:             f.Text,
		ReplyToAccountID: f.ReplyToAccountID,
		ReplyToFirstName: f.ReplyToFirstName,
		Direct:           f.Direct,
	}
	if ev.AccountID == "" || g.handle == nil {
		return
	}

	reply := g.handle(ctx, ev)
	if reply == "" {
		return
	}
	target := ev.RoomID
	if ev.Direct || target == "" {
		target = ev.AccountID
	}
	if err := g.Send(ctx, target, Payload{Text: reply}); err != nil {
		logger.Warningf("reply send failed: target=%s err=%v", target, err)
	}
}

// Send delivers a payload to every client subscribed to the target.
func (g *WSGateway) Send(ctx context.Context, target string, p Payload) error {
	g.mu.RLock()
	if inj, ok := g.failures[target]; ok {
		g.mu.RUnlock()
		if inj.permanent {
			return &DeliveryError{Permanent: true, Reason: "recipient refused"}
		}
		return &DeliveryError{RetryAfter: inj.retryAfter, Reason: "rate limited"}
	}
	clients := make([]*wsClient, 0, len(g.subs[target]))
	for c := range g.subs[target] {
		clients = append(clients, c)
	}
	g.mu.RUnlock()

	if len(clients) == 0 {
		return &DeliveryError{Permanent: true, Reason: "unknown recipient"}
	}

	frame := Frame{
		Type:     "send",
		Target:   target,
		Text:     p.Text,
		MediaRef: p.MediaRef,
		Caption:  p.Caption,
		Spoiler:  p.Spoiler,
	}
	var lastErr error
	for _, c := range clients {
		if err := c.writeJSON(frame); err != nil {
			lastErr = &DeliveryError{Reason: err.Error()}
		}
	}
	return lastErr
}
