package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type       string          `json:"type"`
	ID         string          `json:"id,omitempty"`
	ScheduleID string          `json:"scheduleId,omitempty"`
	Event      string          `json:"event,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// EventsWSHandler serves /v1/events/ws: clients subscribe to schedule IDs and
// receive broker events as they are published. One connection can hold
// multiple subscriptions, each identified by a client-chosen id.
func (s *Server) EventsWSHandler(w http.ResponseWriter, r *http.Request) {
	pr := s.getPrincipal(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	type sub struct {
		scheduleID string
		ch         chan SSEEvent
	}
	subs := map[string]sub{}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	var wmu sync.Mutex
	write := func(v any) error {
		wmu.Lock()
		defer wmu.Unlock()
		return conn.WriteJSON(v)
	}

	keepalive := time.NewTicker(20 * time.Second)
	defer keepalive.Stop()
	go func() {
		for range keepalive.C {
			if write(wsMessage{Type: "ping"}) != nil {
				return
			}
		}
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		switch msg.Type {
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "subscribe":
			if msg.ScheduleID == "" {
				_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: []byte(`{"message":"scheduleId required"}`)})
				continue
			}
			if _, err := s.Store.GetSchedule(r.Context(), pr.Tenant, msg.ScheduleID); err != nil {
				_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: []byte(`{"message":"schedule not found"}`)})
				continue
			}
			ch := s.Broker.Subscribe(msg.ScheduleID)
			subs[msg.ID] = sub{scheduleID: msg.ScheduleID, ch: ch}
			_ = write(wsMessage{Type: "ack", ID: msg.ID, ScheduleID: msg.ScheduleID})
			go func(id string, c chan SSEEvent) {
				for evt := range c {
					payload, _ := json.Marshal(evt.Data)
					if write(wsMessage{Type: "event", ID: id, Event: evt.Type, Payload: payload}) != nil {
						return
					}
				}
				_ = write(wsMessage{Type: "complete", ID: id})
			}(msg.ID, ch)
		case "unsubscribe":
			if s0, ok := subs[msg.ID]; ok {
				s.Broker.Unsubscribe(s0.scheduleID, s0.ch)
				delete(subs, msg.ID)
			}
		default:
			// ignore
		}
	}
	for id, s0 := range subs {
		s.Broker.Unsubscribe(s0.scheduleID, s0.ch)
		delete(subs, id)
	}
}
