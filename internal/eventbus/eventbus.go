package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrBusClosed возвращается при публикации в закрытую шину
var ErrBusClosed = errors.New("event bus closed")

// Envelope описывает универсальный контейнер события.
type Envelope struct {
	ID            string            // Глобально уникальный идентификатор (UUID).
	Timestamp     time.Time         // Время создания события (UTC).
	Source        string            // Имя компонента-источника.
	EventType     string            // Тип события (ObjectSpawned, ObjectLanded…).
	Version       int               // Схема полезной нагрузки.
	CorrelationID string            // Для связывания цепочек.
	Priority      int               // 0=Low … 9=Critical (для backpressure).
	Payload       []byte            // JSON полезной нагрузки.
	Metadata      map[string]string // Произвольные метаданные.
}

// Filter позволяет подписаться только на нужные события.
type Filter struct {
	Types   []string // Пусто - все типы.
	Sources []string // Пусто - все источники.
}

// Subscription возвращается при подписке; позволяет отписаться.
type Subscription interface {
	Unsubscribe()
}

// Handler потребляет события.
type Handler func(ctx context.Context, ev *Envelope)

// Stats агрегированные метрики шины.
type Stats struct {
	Published   uint64 `json:"published"`
	Consumed    uint64 `json:"consumed"`
	Dropped     uint64 `json:"dropped"`
	InFlight    int    `json:"in_flight"`
	Subscribers int    `json:"subscribers"`
}

// EventBus определяет абстракцию шины событий.
type EventBus interface {
	Publish(ctx context.Context, ev *Envelope) error
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
	Metrics() Stats
	Close()
}

//================ In-Memory implementation =================//

// memoryBus - общая очередь публикации и отдельный почтовый ящик на подписчика.
// Каждый подписчик получает события строго в порядке публикации.
type memoryBus struct {
	queue    chan *Envelope
	inboxCap int
	done     chan struct{}

	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64

	// closeMu отделён от mu: рассылка не должна ждать заблокированного Publish
	closeMu sync.RWMutex
	closed  bool

	workers sync.WaitGroup

	published atomic.Uint64
	consumed  atomic.Uint64
	dropped   atomic.Uint64
}

type subscriber struct {
	filter  Filter
	handler Handler
	inbox   chan *Envelope
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewMemoryBus создаёт in-memory шину. capacity задаёт и очередь публикации,
// и почтовый ящик каждого подписчика.
func NewMemoryBus(capacity int) EventBus {
	mb := newMemoryBus(capacity)
	go mb.dispatchLoop()
	return mb
}

func newMemoryBus(capacity int) *memoryBus {
	if capacity <= 0 {
		capacity = 1
	}
	return &memoryBus{
		queue:    make(chan *Envelope, capacity),
		inboxCap: capacity,
		done:     make(chan struct{}),
		subs:     make(map[uint64]*subscriber),
	}
}

// Publish кладёт событие в очередь. При заполненной очереди события с приоритетом
// ниже PriorityNormal отбрасываются, остальные ждут места или отмены контекста.
func (mb *memoryBus) Publish(ctx context.Context, ev *Envelope) error {
	// RLock держится на время отправки, чтобы Close не закрыл канал под нами
	mb.closeMu.RLock()
	defer mb.closeMu.RUnlock()
	if mb.closed {
		return ErrBusClosed
	}

	select {
	case mb.queue <- ev:
		mb.published.Add(1)
		return nil
	default:
	}

	if ev.Priority < PriorityNormal {
		mb.dropped.Add(1)
		return nil
	}

	select {
	case mb.queue <- ev:
		mb.published.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *memoryBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	mb.closeMu.RLock()
	defer mb.closeMu.RUnlock()
	if mb.closed {
		return nil, ErrBusClosed
	}

	cctx, cancel := context.WithCancel(ctx)
	sub := &subscriber{
		filter:  f,
		handler: h,
		inbox:   make(chan *Envelope, mb.inboxCap),
		ctx:     cctx,
		cancel:  cancel,
	}

	mb.mu.Lock()
	id := mb.nextID
	mb.nextID++
	mb.subs[id] = sub
	mb.mu.Unlock()

	mb.workers.Add(1)
	go mb.deliver(sub)

	return &memSub{bus: mb, id: id}, nil
}

func (mb *memoryBus) Metrics() Stats {
	mb.mu.RLock()
	inFlight := len(mb.queue)
	for _, sub := range mb.subs {
		inFlight += len(sub.inbox)
	}
	subscribers := len(mb.subs)
	mb.mu.RUnlock()

	return Stats{
		Published:   mb.published.Load(),
		Consumed:    mb.consumed.Load(),
		Dropped:     mb.dropped.Load(),
		InFlight:    inFlight,
		Subscribers: subscribers,
	}
}

// Close дожидается доставки уже принятых событий и останавливает рассылку.
func (mb *memoryBus) Close() {
	mb.closeMu.Lock()
	if mb.closed {
		mb.closeMu.Unlock()
		return
	}
	mb.closed = true
	close(mb.queue)
	mb.closeMu.Unlock()

	<-mb.done

	// Рассылка остановлена: в ящики больше никто не пишет
	mb.mu.Lock()
	subs := mb.subs
	mb.subs = make(map[uint64]*subscriber)
	mb.mu.Unlock()
	for _, sub := range subs {
		close(sub.inbox)
	}
	mb.workers.Wait()
	for _, sub := range subs {
		sub.cancel()
	}
}

// dispatchLoop раскладывает события по ящикам подписчиков.
func (mb *memoryBus) dispatchLoop() {
	defer close(mb.done)

	for ev := range mb.queue {
		mb.mu.RLock()
		targets := make([]*subscriber, 0, len(mb.subs))
		for _, sub := range mb.subs {
			if matchFilter(ev, sub.filter) {
				targets = append(targets, sub)
			}
		}
		mb.mu.RUnlock()

		for _, sub := range targets {
			mb.offer(sub, ev)
		}
	}
}

// offer кладёт событие в ящик подписчика. Медленный подписчик теряет события
// низкого приоритета, а на остальных задерживает рассылку до своей отписки.
func (mb *memoryBus) offer(sub *subscriber, ev *Envelope) {
	select {
	case sub.inbox <- ev:
		return
	case <-sub.ctx.Done():
		return
	default:
	}

	if ev.Priority < PriorityNormal {
		mb.dropped.Add(1)
		return
	}
	select {
	case sub.inbox <- ev:
	case <-sub.ctx.Done():
	}
}

func (mb *memoryBus) deliver(sub *subscriber) {
	defer mb.workers.Done()
	for {
		select {
		case ev, ok := <-sub.inbox:
			if !ok || sub.ctx.Err() != nil {
				return
			}
			sub.handler(sub.ctx, ev)
			mb.consumed.Add(1)
		case <-sub.ctx.Done():
			return
		}
	}
}

func matchFilter(ev *Envelope, f Filter) bool {
	return matches(ev.EventType, f.Types) && matches(ev.Source, f.Sources)
}

func matches(val string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, v := range allowed {
		if v == val {
			return true
		}
	}
	return false
}

type memSub struct {
	bus  *memoryBus
	id   uint64
	once sync.Once
}

// Unsubscribe останавливает доставку; события, лежащие в ящике, теряются.
func (s *memSub) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		sub, ok := s.bus.subs[s.id]
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
		if ok {
			sub.cancel()
		}
	})
}
