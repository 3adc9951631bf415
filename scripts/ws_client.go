// Package main runs a demo WebSocket client for schedule events: it computes a
// schedule, subscribes to it over /v1/events/ws, then triggers a reoptimize and
// prints the events it receives.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type       string          `json:"type"`
	ID         string          `json:"id,omitempty"`
	ScheduleID string          `json:"scheduleId,omitempty"`
	Event      string          `json:"event,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

func post(base, path string, body []byte) (*http.Response, error) {
	req, _ := http.NewRequest(http.MethodPost, base+path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_demo")
	req.Header.Set("X-Role", "admin")
	return http.DefaultClient.Do(req)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	compute := []byte(`{
	  "tenantId": "t_demo",
	  "siteId": "main",
	  "weekOf": "2026-03-02",
	  "students": [{"id": "stu1", "eligibleLocations": ["siteA"]}],
	  "therapists": [{"id": "th1", "specialties": ["speech"], "windows": [
	    {"day": 0, "startMin": 540, "endMin": 900, "locationId": "siteA"},
	    {"day": 1, "startMin": 540, "endMin": 900, "locationId": "siteA"}
	  ]}],
	  "requirements": [{"id": "req1", "studentId": "stu1", "specialty": "speech",
	    "sessionsPerWeek": 2, "durationMin": 30, "allowedLocations": ["siteA"]}]
	}`)
	resp, err := post(base, "/v1/schedule/compute", compute)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var out struct {
		Schedule struct {
			ID string `json:"id"`
		} `json:"schedule"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatal(err)
	}
	if out.Schedule.ID == "" {
		log.Fatal("no schedule returned")
	}
	log.Printf("Schedule ID: %s", out.Schedule.ID)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/events/ws"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", "t_demo")
	hdr.Set("X-Role", "admin")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", ScheduleID: out.Schedule.ID}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			if m.Type == "ping" {
				_ = c.WriteJSON(wsMessage{Type: "pong"})
				continue
			}
			log.Printf("WS <- %s %s: %s", m.Type, m.Event, string(m.Payload))
		}
	}()

	// Trigger a reoptimize so the subscription sees an event.
	time.Sleep(500 * time.Millisecond)
	reopt := []byte(`{
	  "event": {"type": "TherapistAbsence", "therapistId": "th1", "fromDay": 0, "toDay": 0, "noticeDays": 5},
	  "students": [{"id": "stu1", "eligibleLocations": ["siteA"]}],
	  "therapists": [{"id": "th1", "specialties": ["speech"], "windows": [
	    {"day": 0, "startMin": 540, "endMin": 900, "locationId": "siteA"},
	    {"day": 1, "startMin": 540, "endMin": 900, "locationId": "siteA"}
	  ]}],
	  "requirements": [{"id": "req1", "studentId": "stu1", "specialty": "speech",
	    "sessionsPerWeek": 2, "durationMin": 30, "allowedLocations": ["siteA"]}]
	}`)
	if r2, err := post(base, "/v1/schedule/"+out.Schedule.ID+"/reoptimize", reopt); err == nil {
		_ = r2.Body.Close()
	}

	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
