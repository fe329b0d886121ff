// Package main runs a demo WebSocket client that submits an optimization and prints its progress.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"routeopt/internal/logging"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const demoRequest = `{
  "locations": [
    {"id": "pharmacy", "point": {"lat": 40.7306, "lng": -73.9866}, "demand": 120, "priority": 2},
    {"id": "bakery", "point": {"lat": 40.7411, "lng": -73.9897}, "demand": 80},
    {"id": "grocer", "point": {"lat": 40.7527, "lng": -73.9772}, "demand": 200},
    {"id": "florist", "point": {"lat": 40.7614, "lng": -73.9776}, "demand": 60, "timeWindow": {"startSec": 28800, "endSec": 43200}},
    {"id": "deli", "point": {"lat": 40.7061, "lng": -74.0087}, "demand": 90}
  ],
  "vehicles": [
    {"id": "van-1", "capacity": 300, "costPerKm": 0.9, "costPerHour": 28, "start": {"lat": 40.7128, "lng": -74.0060}},
    {"id": "van-2", "capacity": 300, "costPerKm": 0.9, "costPerHour": 28, "start": {"lat": 40.7580, "lng": -73.9855}}
  ],
  "constraints": {"capacity": true, "timeWindows": true}
}`

func main() {
	addr := flag.String("addr", "localhost:8080", "API host:port")
	strategy := flag.String("strategy", "", "strategy override (single-local, single-provider, hybrid-all)")
	flag.Parse()
	log := logging.New(logging.DefaultConfig("ws-client"))

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/v1/optimize/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.WithError(err).Error("Dial failed", "url", u.String())
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	send := func(m wsMessage) {
		if err := c.WriteJSON(m); err != nil {
			log.WithError(err).Error("Write failed", "type", m.Type)
			os.Exit(1)
		}
	}
	send(wsMessage{Type: "connection_init"})
	payload, _ := json.Marshal(map[string]any{"request": json.RawMessage(demoRequest), "strategy": *strategy})
	send(wsMessage{Type: "optimize", ID: "demo", Payload: payload})

	_ = c.SetReadDeadline(time.Now().Add(5 * time.Minute))
	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			log.WithError(err).Error("Read failed")
			os.Exit(1)
		}
		switch msg.Type {
		case "connection_ack":
			log.Info("Connected", "url", u.String())
		case "ping":
			send(wsMessage{Type: "pong"})
		case "progress":
			fmt.Printf("progress: %s\n", msg.Payload)
		case "result":
			var res struct {
				Routes []struct {
					VehicleID string   `json:"vehicleId"`
					Stops     []string `json:"stops"`
				} `json:"routes"`
				Summary  map[string]any `json:"summary"`
				Metadata map[string]any `json:"metadata"`
			}
			_ = json.Unmarshal(msg.Payload, &res)
			fmt.Printf("best: %v (score %v)\n", res.Metadata["algorithm"], res.Metadata["score"])
			for _, r := range res.Routes {
				fmt.Printf("  %s: %v\n", r.VehicleID, r.Stops)
			}
			fmt.Printf("summary: %v\n", res.Summary)
		case "error":
			fmt.Printf("error: %s\n", msg.Payload)
		case "complete":
			return
		}
	}
}
