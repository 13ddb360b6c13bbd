// chat-sim connects to a running chara_realm instance over its websocket
// gateway and plays a handful of synthetic chatters, enough traffic to
// trigger spawns and exercise grabs and bids locally.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/logger"
	"github.com/gorilla/websocket"
)

type frame struct {
	Type      string   `json:"type"`
	Targets   []string `json:"targets,omitempty"`
	RoomID    string   `json:"room_id,omitempty"`
	AccountID string   `json:"account_id,omitempty"`
	Username  string   `json:"username,omitempty"`
	FirstName string   `json:"first_name,omitempty"`
	Text      string   `json:"text,omitempty"`
	Target    string   `json:"target,omitempty"`
	Caption   string   `json:"caption,omitempty"`
}

var chatter = []string{
	"hello", "anyone around?", "nice one", "lol", "what did I miss",
	"gm", "that was close", "again?", "no way", "ok ok",
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	defer logger.Init("chat-sim", true, false, os.Stderr).Close()

	url := envOr("CHAT_SIM_URL", "ws://localhost:8080/ws")
	roomID := envOr("CHAT_SIM_ROOM", "room-1")
	members, err := strconv.Atoi(envOr("CHAT_SIM_MEMBERS", "5"))
	if err != nil || members < 1 {
		members = 5
	}
	delayMS, err := strconv.Atoi(envOr("CHAT_SIM_DELAY_MS", "200"))
	if err != nil || delayMS < 10 {
		delayMS = 200
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		logger.Fatalf("dial %s: %v", url, err)
	}
	defer conn.Close()

	targets := []string{roomID}
	for i := 1; i <= members; i++ {
		targets = append(targets, fmt.Sprintf("sim-%d", i))
	}
	if err := conn.WriteJSON(frame{Type: "hello", Targets: targets}); err != nil {
		logger.Fatalf("subscribe: %v", err)
	}
	logger.Infof("connected: room=%s members=%d", roomID, members)

	// Print everything the service sends back, and echo spawn captions so
	// the operator can watch a grab race play out.
	go func() {
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				logger.Infof("read loop done: %v", err)
				return
			}
			text := f.Text
			if text == "" {
				text = f.Caption
			}
			logger.Infof("<- [%s] %s", f.Target, text)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Duration(delayMS) * time.Millisecond)
	defer ticker.Stop()

	var sent int
	for {
		select {
		case <-stop:
			logger.Infof("stopping after %d messages", sent)
			return
		case <-ticker.C:
			member := rand.Intn(members) + 1
			text := chatter[rand.Intn(len(chatter))]
			// The odd command keeps the non-activity paths warm.
			if sent%37 == 13 {
				text = "/bal"
			}
			msg := frame{
				Type:      "event",
				RoomID:    roomID,
				AccountID: fmt.Sprintf("sim-%d", member),
				Username:  fmt.Sprintf("sim%d", member),
				FirstName: fmt.Sprintf("Sim %d", member),
				Text:      text,
			}
			if err := conn.WriteJSON(msg); err != nil {
				logger.Fatalf("write: %v", err)
			}
			sent++
			if sent%100 == 0 {
				logger.Infof("-> %d messages sent", sent)
			}
		}
	}
}
