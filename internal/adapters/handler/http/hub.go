package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"hostdeck.app/internal/core/broker"
	"hostdeck.app/internal/core/domain"
	"hostdeck.app/internal/core/logger"
	"hostdeck.app/internal/core/services"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for dev
	},
}

// ControlMessage is the inbound shape on the websocket: one action per frame.
type ControlMessage struct {
	Action  string            `json:"action"`
	Room    string            `json:"room"`
	Kind    domain.StreamKind `json:"kind,omitempty"`
	Target  string            `json:"target,omitempty"`
	Command string            `json:"command,omitempty"`
	Path    string            `json:"path,omitempty"`
}

// Hub holds the services a websocket client can reach. Per-room membership
// lives in the broker, not here; the hub is just the dependency bundle.
type Hub struct {
	broker  *broker.Broker
	streams *services.StreamManager
	exec    *services.ExecBridge
	files   *services.FileBridge
}

func NewHub(b *broker.Broker, streams *services.StreamManager, exec *services.ExecBridge, files *services.FileBridge) *Hub {
	return &Hub{broker: b, streams: streams, exec: exec, files: files}
}

// Client is a middleman between the websocket connection and the broker.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound envelopes.
	send chan domain.Envelope
}

// Deliver hands an envelope to the client without blocking. A full channel
// reports a drop to the broker instead of stalling the publisher.
func (c *Client) Deliver(env domain.Envelope) bool {
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

// readPump reads control messages from the peer and dispatches them. On exit
// the client leaves every room and the send channel closes, which terminates
// writePump.
func (c *Client) readPump() {
	defer func() {
		c.hub.broker.UnsubscribeAll(c)
		close(c.send)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		var msg ControlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn("bad control message", "error", err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg ControlMessage) {
	switch msg.Action {
	case "join":
		c.hub.broker.Subscribe(msg.Room, c)

	case "leave":
		c.hub.broker.Unsubscribe(msg.Room, c)

	case "start_stream":
		// Subscribe before starting so the first lines are not lost.
		room := msg.Room
		if room == "" {
			room = domain.StreamRoom(msg.Kind, msg.Target)
		}
		c.hub.broker.Subscribe(room, c)
		if msg.Kind == domain.StreamStats {
			if _, _, err := c.hub.streams.StartStats(room, msg.Target); err != nil {
				logger.Warn("stats stream start failed", "target", msg.Target, "error", err)
			}
			return
		}
		if _, _, err := c.hub.streams.StartLogs(context.Background(), room, msg.Target); err != nil {
			logger.Warn("log stream start failed", "target", msg.Target, "error", err)
		}

	case "stop_stream":
		room := msg.Room
		if room == "" {
			room = domain.StreamRoom(msg.Kind, msg.Target)
		}
		c.hub.streams.Stop(room, msg.Kind)

	case "exec":
		room := msg.Room
		if room == "" {
			room = domain.ExecRoom(msg.Target)
		}
		c.hub.broker.Subscribe(room, c)
		// Bridges outlive the read loop iteration; they run on their own
		// context with the bridge timeout as the bound.
		go c.hub.exec.Exec(context.Background(), room, msg.Target, msg.Command)

	case "list_files":
		room := msg.Room
		if room == "" {
			room = domain.ExecRoom(msg.Target)
		}
		c.hub.broker.Subscribe(room, c)
		go c.hub.files.List(context.Background(), room, msg.Target, msg.Path)

	case "read_file":
		room := msg.Room
		if room == "" {
			room = domain.ExecRoom(msg.Target)
		}
		c.hub.broker.Subscribe(room, c)
		go c.hub.files.Read(context.Background(), room, msg.Target, msg.Path)

	default:
		logger.Warn("unknown control action", "action", msg.Action)
	}
}

// writePump pumps envelopes from the send channel to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			json.NewEncoder(w).Encode(env)

			// Flush queued envelopes into the same websocket frame.
			n := len(c.send)
			for i := 0; i < n; i++ {
				json.NewEncoder(w).Encode(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs handles websocket requests from the peer.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := &Client{hub: hub, conn: conn, send: make(chan domain.Envelope, 256)}

	go client.writePump()
	go client.readPump()
}
