package gateway

import (
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/fanex-id/integrations/pkg/events"
)

const (
	clientQueueSize = 64
	writeWait       = 10 * time.Second
	pingPeriod      = 30 * time.Second
)

// streamClient is one websocket subscriber of the event stream.
type streamClient struct {
	id          string
	pattern     string
	ip          string
	connectedAt time.Time
	conn        *websocket.Conn
	send        chan []byte
	dropped     atomic.Int64
	closeOnce   sync.Once
}

func (c *streamClient) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// EventBroadcaster fans bus events out to websocket subscribers. A slow
// subscriber loses events rather than stalling the bus.
type EventBroadcaster struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*streamClient
}

// NewEventBroadcaster creates an empty broadcaster.
func NewEventBroadcaster(logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		logger:  logger,
		clients: make(map[string]*streamClient),
	}
}

// Publish delivers evt to every subscriber whose pattern matches its name.
func (b *EventBroadcaster) Publish(evt events.Event) {
	payload, err := json.Marshal(EventMessage{
		Type:      "event",
		ID:        evt.ID,
		Event:     evt.Name,
		Data:      evt.Data,
		Timestamp: evt.Timestamp.UnixMilli(),
		Seq:       evt.Seq,
	})
	if err != nil {
		b.logger.Error().Err(err).Str("event", evt.Name).Msg("Failed to marshal event")
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, c := range b.clients {
		if !events.Match(c.pattern, evt.Name) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			c.dropped.Add(1)
			b.logger.Warn().Str("clientId", c.id).Str("event", evt.Name).Msg("Subscriber queue full, dropping event")
		}
	}
}

func (b *EventBroadcaster) add(c *streamClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[c.id] = c
}

func (b *EventBroadcaster) remove(id string) {
	b.mu.Lock()
	c, ok := b.clients[id]
	delete(b.clients, id)
	b.mu.Unlock()
	if ok {
		c.close()
	}
}

// Count returns the number of connected subscribers.
func (b *EventBroadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Clients describes connected subscribers ordered by connection time.
func (b *EventBroadcaster) Clients() []ClientInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	infos := make([]ClientInfo, 0, len(b.clients))
	for _, c := range b.clients {
		infos = append(infos, ClientInfo{
			ID:          c.id,
			Pattern:     c.pattern,
			IPAddress:   c.ip,
			ConnectedAt: c.connectedAt,
			Dropped:     c.dropped.Load(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ConnectedAt.Before(infos[j].ConnectedAt) })
	return infos
}

// CloseAll sends a close frame to every subscriber and forgets them.
func (b *EventBroadcaster) CloseAll() {
	b.mu.Lock()
	clients := b.clients
	b.clients = make(map[string]*streamClient)
	b.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// writeLoop drains c.send onto the connection and keeps it alive with pings.
// It returns when the queue is closed or a write fails.
func (b *EventBroadcaster) writeLoop(c *streamClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				b.logger.Debug().Err(err).Str("clientId", c.id).Msg("Event write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
