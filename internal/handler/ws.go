package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"

	"openfms/flic/internal/model"
	"openfms/flic/internal/protocol"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeTimeout = 10 * time.Second
)

// WSMessage is a control message from a websocket client.
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type broadcast struct {
	address string
	data    []byte
}

// Client is one websocket connection.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	Hub  *WSHub

	mu      sync.Mutex
	address string // empty means every button
}

func (c *Client) wants(address string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.address == "" || c.address == address
}

func (c *Client) setAddress(address string) {
	c.mu.Lock()
	c.address = address
	c.mu.Unlock()
}

// WSHub fans uplink button messages out to websocket clients.
type WSHub struct {
	clients    map[*Client]bool
	broadcast  chan broadcast
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
	natsConn   *nats.Conn
	sub        *nats.Subscription
	mu         sync.RWMutex
}

// NewWSHub creates a hub. nc may be nil, in which case only Broadcast
// feeds it.
func NewWSHub(nc *nats.Conn) *WSHub {
	return &WSHub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan broadcast, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		natsConn:   nc,
	}
}

// Run subscribes to the uplink stream and serves the hub until Stop.
func (h *WSHub) Run() {
	if h.natsConn != nil {
		sub, err := h.natsConn.Subscribe(model.SubjectUplinkAll, func(msg *nats.Msg) {
			var m model.ButtonMessage
			if err := json.Unmarshal(msg.Data, &m); err != nil {
				log.Warningf("[WS] Failed to unmarshal uplink message: %v", err)
				return
			}
			h.Broadcast(&m)
		})
		if err != nil {
			log.Errorf("[WS] Failed to subscribe to NATS: %v", err)
		} else {
			h.sub = sub
			log.Infof("[WS] Hub started, subscribed to %s", model.SubjectUplinkAll)
		}
	}

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			log.Infof("[WS] Client connected: %s, total clients: %d", client.ID, n)

		case client := <-h.unregister:
			h.remove(client)

		case b := <-h.broadcast:
			h.mu.RLock()
			var slow []*Client
			for client := range h.clients {
				if !client.wants(b.address) {
					continue
				}
				select {
				case client.Send <- b.data:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()
			for _, client := range slow {
				h.remove(client)
			}

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.Send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *WSHub) remove(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.Send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		log.Infof("[WS] Client disconnected: %s, total clients: %d", client.ID, n)
	}
}

// Stop unsubscribes and disconnects every client.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() {
		if h.sub != nil {
			h.sub.Unsubscribe()
		}
		close(h.done)
	})
}

// Broadcast queues m for every client interested in its address. It
// drops the message when the hub is backed up.
func (h *WSHub) Broadcast(m *model.ButtonMessage) {
	data, err := json.Marshal(map[string]interface{}{
		"type": "button",
		"data": m,
	})
	if err != nil {
		log.Errorf("[WS] Failed to marshal broadcast message: %v", err)
		return
	}
	select {
	case h.broadcast <- broadcast{address: m.Address, data: data}:
	default:
		log.Warningf("[WS] Broadcast queue full, dropping %s", m.Type)
	}
}

// GetClientCount returns the number of connected clients
func (h *WSHub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ReadPump handles control messages from the client until it goes away.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(64 * 1024)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warningf("[WS] Client %s read error: %v", c.ID, err)
			}
			return
		}

		var wsMsg WSMessage
		if err := json.Unmarshal(message, &wsMsg); err != nil {
			continue
		}
		switch wsMsg.Type {
		case "subscribe":
			var data struct {
				Address string `json:"address"`
			}
			if err := json.Unmarshal(wsMsg.Data, &data); err != nil {
				continue
			}
			address := ""
			if data.Address != "" {
				addr, err := protocol.ParseBdAddr(data.Address)
				if err != nil {
					continue
				}
				address = addr.String()
			}
			c.setAddress(address)
			log.Debugf("[WS] Client %s subscribed to %q", c.ID, address)
		case "ping":
			select {
			case c.Send <- []byte(`{"type":"pong"}`):
			default:
			}
		}
	}
}

// WritePump sends queued messages and keepalive pings to the client.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// WSHandler handles websocket connections
type WSHandler struct {
	hub *WSHub
}

// NewWSHandler creates a new websocket handler
func NewWSHandler(hub *WSHub) *WSHandler {
	return &WSHandler{hub: hub}
}

// HandleEvents streams live button messages, optionally only those for the
// ?address= button.
func (h *WSHandler) HandleEvents(c *gin.Context) {
	address := ""
	if q := c.Query("address"); q != "" {
		addr, err := protocol.ParseBdAddr(q)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid button address"})
			return
		}
		address = addr.String()
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warningf("[WS] Failed to upgrade connection: %v", err)
		return
	}

	client := &Client{
		ID:      uuid.NewString(),
		Conn:    conn,
		Send:    make(chan []byte, 256),
		Hub:     h.hub,
		address: address,
	}

	welcome, _ := json.Marshal(map[string]interface{}{
		"type":      "connected",
		"client_id": client.ID,
		"address":   address,
	})
	client.Send <- welcome

	select {
	case h.hub.register <- client:
	case <-h.hub.done:
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// GetStats returns websocket hub statistics
func (h *WSHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": h.hub.GetClientCount(),
	})
}
