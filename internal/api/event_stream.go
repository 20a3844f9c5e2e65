package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/annel0/mmo-physics/internal/eventbus"
	"github.com/annel0/mmo-physics/internal/logging"
)

const (
	streamSendBuffer = 256
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 30 * time.Second
	streamWriteWait  = 10 * time.Second
)

// Отладочный поток; origin не проверяется
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamMessage - событие шины в виде, удобном для клиента
type StreamMessage struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Priority  int             `json:"priority"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// streamClient - подключённый подписчик потока событий
type streamClient struct {
	conn    *websocket.Conn
	send    chan []byte
	id      string
	sub     eventbus.Subscription
	dropped atomic.Uint64
	once    sync.Once
}

// EventStream раздаёт события шины по WebSocket
type EventStream struct {
	bus    eventbus.EventBus
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[string]*streamClient
	closed  bool
}

// NewEventStream создаёт поток поверх шины
func NewEventStream(bus eventbus.EventBus, logger *logging.Logger) *EventStream {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &EventStream{
		bus:     bus,
		logger:  logger,
		clients: make(map[string]*streamClient),
	}
}

// ClientCount возвращает число подключённых клиентов
func (es *EventStream) ClientCount() int {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return len(es.clients)
}

// HandleConnection обрабатывает GET /api/events/ws?types=ObjectLanded,ChunkLoaded
func (es *EventStream) HandleConnection(c *gin.Context) {
	filter := eventbus.Filter{Types: splitList(c.Query("types"))}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		es.logger.Warn("Ошибка upgrade WebSocket: %v", err)
		return
	}

	client := &streamClient{
		conn: conn,
		send: make(chan []byte, streamSendBuffer),
		id:   uuid.NewString(),
	}

	sub, err := es.bus.Subscribe(context.Background(), filter, func(ctx context.Context, ev *eventbus.Envelope) {
		es.deliver(client, ev)
	})
	if err != nil {
		es.logger.Warn("Подписка потока %s: %v", client.id, err)
		_ = conn.Close()
		return
	}
	client.sub = sub

	es.mu.Lock()
	if es.closed {
		es.mu.Unlock()
		sub.Unsubscribe()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"))
		_ = conn.Close()
		return
	}
	es.clients[client.id] = client
	es.mu.Unlock()

	es.logger.Debug("Поток событий: клиент %s подключён (%s), типы=%v", client.id, c.ClientIP(), filter.Types)

	go es.writePump(client)
	es.readPump(client)
}

// deliver не блокирует шину: при переполненном буфере событие отбрасывается
func (es *EventStream) deliver(client *streamClient, ev *eventbus.Envelope) {
	data, err := json.Marshal(StreamMessage{
		ID:        ev.ID,
		Type:      ev.EventType,
		Source:    ev.Source,
		Priority:  ev.Priority,
		Timestamp: ev.Timestamp,
		Payload:   json.RawMessage(ev.Payload),
	})
	if err != nil {
		return
	}

	es.mu.RLock()
	defer es.mu.RUnlock()
	if _, ok := es.clients[client.id]; !ok {
		return
	}
	select {
	case client.send <- data:
	default:
		client.dropped.Add(1)
	}
}

// readPump читает только служебные кадры; входящие сообщения игнорируются
func (es *EventStream) readPump(client *streamClient) {
	defer es.unregister(client)

	client.conn.SetReadLimit(512)
	_ = client.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				es.logger.Debug("Поток %s: %v", client.id, err)
			}
			return
		}
	}
}

func (es *EventStream) writePump(client *streamClient) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// unregister отписывает клиента и закрывает его канал ровно один раз
func (es *EventStream) unregister(client *streamClient) {
	client.once.Do(func() {
		if client.sub != nil {
			client.sub.Unsubscribe()
		}
		es.mu.Lock()
		delete(es.clients, client.id)
		close(client.send)
		es.mu.Unlock()

		if n := client.dropped.Load(); n > 0 {
			es.logger.Warn("Поток %s закрыт, отброшено событий: %d", client.id, n)
		} else {
			es.logger.Debug("Поток %s закрыт", client.id)
		}
	})
}

// Close отключает всех клиентов
func (es *EventStream) Close() {
	es.mu.Lock()
	es.closed = true
	clients := make([]*streamClient, 0, len(es.clients))
	for _, c := range es.clients {
		clients = append(clients, c)
	}
	es.mu.Unlock()

	for _, c := range clients {
		es.unregister(c)
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
