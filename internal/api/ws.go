package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"routeopt/internal/engine"
	"routeopt/internal/model"
)

// WebSocket protocol for /v1/optimize/ws, modelled on graphql-transport-ws:
//
//	client: connection_init, ping, pong, optimize {id, payload: wsOptimize}, cancel {id}
//	server: connection_ack, pong, ping, progress {id, payload: engine.Event},
//	        result {id, payload: OptimizationResult}, error {id, payload: Problem}, complete {id}

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

const (
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsKeepalive    = 20 * time.Second
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsOptimize struct {
	Request *model.OptimizationRequest `json:"request"`
	runParams
}

// wsConn serialises writes; progress callbacks arrive from engine goroutines.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(typ, id string, payload any) error {
	msg := wsMessage{Type: typ, ID: id}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		msg.Payload = b
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(msg)
}

// OptimizeWSHandler runs optimizations requested over a WebSocket and streams their progress.
func (s *Server) OptimizeWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &wsConn{conn: conn}
	ctx, cancelAll := context.WithCancel(context.WithoutCancel(r.Context()))
	var wg sync.WaitGroup
	defer func() {
		cancelAll()
		wg.Wait()
		_ = conn.Close()
	}()

	var mu sync.Mutex
	running := map[string]context.CancelFunc{}
	log := s.log.WithContext(r.Context()).WithComponent("api.ws")

	conn.SetReadLimit(maxRequestBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsReadTimeout)) })

	initialised := false
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		switch msg.Type {
		case "connection_init":
			_ = c.send("connection_ack", "", nil)
			if initialised {
				continue
			}
			initialised = true
			wg.Add(1)
			go func() {
				defer wg.Done()
				ticker := time.NewTicker(wsKeepalive)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if err := c.send("ping", "", nil); err != nil {
							return
						}
					}
				}
			}()
		case "ping":
			_ = c.send("pong", "", nil)
		case "pong":
		case "optimize":
			if msg.ID == "" {
				_ = c.send("error", "", Problem{Type: "about:blank", Title: "Missing id", Status: http.StatusBadRequest})
				continue
			}
			mu.Lock()
			_, dup := running[msg.ID]
			mu.Unlock()
			if dup {
				_ = c.send("error", msg.ID, Problem{Type: "about:blank", Title: "Duplicate id", Status: http.StatusBadRequest, Detail: msg.ID})
				continue
			}
			var pl wsOptimize
			if err := json.Unmarshal(msg.Payload, &pl); err != nil || pl.Request == nil {
				detail := "payload.request is required"
				if err != nil {
					detail = err.Error()
				}
				_ = c.send("error", msg.ID, Problem{Type: "about:blank", Title: "Invalid payload", Status: http.StatusBadRequest, Detail: detail})
				_ = c.send("complete", msg.ID, nil)
				continue
			}
			if err := pl.validate(); err != nil {
				_ = c.send("error", msg.ID, problemFor(r, err))
				_ = c.send("complete", msg.ID, nil)
				continue
			}
			runCtx, cancel := context.WithCancel(ctx)
			mu.Lock()
			running[msg.ID] = cancel
			mu.Unlock()
			wg.Add(1)
			go func(id string, pl wsOptimize) {
				defer wg.Done()
				defer func() {
					mu.Lock()
					delete(running, id)
					mu.Unlock()
					cancel()
				}()
				runID := engine.NewRunID()
				opts := append(pl.options(), engine.WithRunID(runID), engine.WithProgress(func(evt engine.Event) {
					_ = c.send("progress", id, evt)
					s.Broker.Publish(runID, evt)
				}))
				res, err := s.Engine.Optimize(runCtx, pl.Request, opts...)
				if err != nil {
					_ = c.send("error", id, problemFor(r, err))
				} else {
					_ = c.send("result", id, res)
				}
				_ = c.send("complete", id, nil)
			}(msg.ID, pl)
		case "cancel", "complete":
			mu.Lock()
			if cancel, ok := running[msg.ID]; ok {
				cancel()
			}
			mu.Unlock()
		default:
			log.Debug("Ignoring unknown message", "type", msg.Type)
		}
	}
}
