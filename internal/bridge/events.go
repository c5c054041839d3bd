package bridge

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EngineEvent is one event broadcast by the engine's WebSocket server.
type EngineEvent struct {
	Type      string                 `json:"type"`
	Event     string                 `json:"event"`
	Timestamp int64                  `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventHandler receives engine events for a subscribed event name.
type EventHandler func(event EngineEvent)

const (
	initialReconnectWait = time.Second
	maxReconnectWait     = 30 * time.Second
	pingInterval         = 30 * time.Second
)

// EventChannel maintains a persistent duplex WebSocket connection to
// the engine, dispatching broadcast events to subscribers and
// reconnecting with exponential backoff when the link drops.
type EventChannel struct {
	url string

	mu          sync.Mutex
	conn        *websocket.Conn
	subscribers map[string][]EventHandler

	done chan struct{}
	once sync.Once
}

// NewEventChannel builds an event channel for the engine at url
// (e.g. ws://localhost:30020).
func NewEventChannel(url string) *EventChannel {
	return &EventChannel{
		url:         url,
		subscribers: map[string][]EventHandler{},
		done:        make(chan struct{}),
	}
}

// Subscribe registers a handler for an event name. An empty name
// receives every event. Subscriptions are replayed on reconnect.
func (c *EventChannel) Subscribe(event string, handler EventHandler) {
	c.mu.Lock()
	c.subscribers[event] = append(c.subscribers[event], handler)
	conn := c.conn
	c.mu.Unlock()

	if conn != nil && event != "" {
		c.send(map[string]interface{}{"type": "subscribe", "event": event})
	}
}

// Start runs the connect/read/reconnect loop in the background until
// Close is called. The first connection attempt is also retried, so the
// agent can start before the engine does.
func (c *EventChannel) Start() {
	go c.run()
}

func (c *EventChannel) run() {
	wait := initialReconnectWait
	for {
		select {
		case <-c.done:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			log.Printf("Engine event channel connect failed: %v (retrying in %s)", err, wait)
			select {
			case <-time.After(wait):
			case <-c.done:
				return
			}
			if wait *= 2; wait > maxReconnectWait {
				wait = maxReconnectWait
			}
			continue
		}

		log.Printf("Engine event channel connected: %s", c.url)
		wait = initialReconnectWait

		c.mu.Lock()
		c.conn = conn
		events := make([]string, 0, len(c.subscribers))
		for event := range c.subscribers {
			if event != "" {
				events = append(events, event)
			}
		}
		c.mu.Unlock()

		for _, event := range events {
			c.send(map[string]interface{}{"type": "subscribe", "event": event})
		}

		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}
}

func (c *EventChannel) readLoop(conn *websocket.Conn) {
	pings := time.NewTicker(pingInterval)
	stopped := make(chan struct{})
	defer func() {
		pings.Stop()
		close(stopped)
	}()

	go func() {
		for {
			select {
			case <-pings.C:
				c.send(map[string]interface{}{"type": "ping"})
			case <-stopped:
				return
			case <-c.done:
				return
			}
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			log.Printf("Engine event channel read failed: %v", err)
			return
		}

		var event EngineEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			log.Printf("Discarding malformed engine message: %v", err)
			continue
		}
		if event.Type != "event" {
			continue // pong and other control frames
		}
		c.dispatch(event)
	}
}

func (c *EventChannel) dispatch(event EngineEvent) {
	c.mu.Lock()
	handlers := append([]EventHandler{}, c.subscribers[event.Event]...)
	handlers = append(handlers, c.subscribers[""]...)
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(event)
	}
}

func (c *EventChannel) send(message map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	if err := c.conn.WriteJSON(message); err != nil {
		log.Printf("Engine event channel write failed: %v", err)
	}
}

// Close tears the channel down permanently.
func (c *EventChannel) Close() {
	c.once.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()
	})
}
