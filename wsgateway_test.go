package main

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialGateway(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

// Events arrive long after the upgrade request has returned, so the
// context handed to the handler must still be alive then.
func TestGatewayEventContextOutlivesUpgrade(t *testing.T) {
	var ctxErr atomic.Value
	gw := NewWSGateway(func(ctx context.Context, ev Event) string {
		if err := ctx.Err(); err != nil {
			ctxErr.Store(err.Error())
		} else {
			ctxErr.Store("")
		}
		return "pong"
	})
	srv := httptest.NewServer(gw)
	defer srv.Close()

	conn := dialGateway(t, srv)
	defer conn.Close()

	if err := conn.WriteJSON(Frame{Type: "hello", Targets: []string{"room-1"}}); err != nil {
		t.Fatalf("hello: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	ev := Frame{Type: "event", RoomID: "room-1", AccountID: "acct-1", Text: "ping"}
	if err := conn.WriteJSON(ev); err != nil {
		t.Fatalf("event: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply Frame
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.Type != "send" || reply.Text != "pong" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if got := ctxErr.Load(); got != "" {
		t.Fatalf("handler ran on a dead context: %v", got)
	}
}

func TestGatewaySendToSubscribedClient(t *testing.T) {
	gw := NewWSGateway(nil)
	srv := httptest.NewServer(gw)
	defer srv.Close()

	conn := dialGateway(t, srv)
	defer conn.Close()
	if err := conn.WriteJSON(Frame{Type: "hello", Targets: []string{"acct-9"}}); err != nil {
		t.Fatalf("hello: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := gw.Send(context.Background(), "acct-9", Payload{Text: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	if f.Text != "hi" || f.Target != "acct-9" {
		t.Fatalf("unexpected frame %+v", f)
	}
}
