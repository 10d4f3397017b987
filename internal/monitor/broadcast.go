package monitor

import (
	"sync"

	"github.com/CoolE88/threat-sentry/internal/domain"
	"github.com/CoolE88/threat-sentry/internal/metrics"
)

// Broadcaster раздаёт снапшоты подписчикам. Publish никогда не блокируется:
// у медленного подписчика вытесняется самый старый снапшот из буфера.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[uint64]chan domain.ThreatSnapshot
	nextID uint64
	closed bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uint64]chan domain.ThreatSnapshot)}
}

// Subscribe регистрирует подписчика с буфером buffer (минимум 1).
// cancel закрывает канал подписчика, повторный вызов безопасен.
func (b *Broadcaster) Subscribe(buffer int) (<-chan domain.ThreatSnapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan domain.ThreatSnapshot, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	metrics.ActiveSubscribers.Inc()

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

func (b *Broadcaster) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
		metrics.ActiveSubscribers.Dec()
	}
}

// Publish доставляет снапшот всем подписчикам и возвращает число вытесненных старых снапшотов
func (b *Broadcaster) Publish(snap domain.ThreatSnapshot) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := 0
	for _, ch := range b.subs {
		select {
		case ch <- snap.Clone():
			continue
		default:
		}

		// буфер полон: выкидываем самый старый и кладём новый
		select {
		case <-ch:
			dropped++
		default:
		}
		select {
		case ch <- snap.Clone():
		default:
		}
	}

	if dropped > 0 {
		metrics.SubscriberDrops.Add(float64(dropped))
	}
	return dropped
}

// Len число активных подписчиков
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close закрывает всех подписчиков; последующие Subscribe получают закрытый канал
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
		metrics.ActiveSubscribers.Dec()
	}
}
