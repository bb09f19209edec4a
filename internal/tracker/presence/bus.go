package presence

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Topic returns the bus topic for one guild's presence stream. Subscribe
// with guildID 0 (topic "presence.*") to receive every guild.
func Topic(guildID int64) string {
	if guildID == 0 {
		return "presence.*"
	}
	return "presence." + strconv.FormatInt(guildID, 10)
}

type subscriber struct {
	id      string
	channel chan *Update

	mu     sync.Mutex
	closed bool
}

// timedSend delivers an update, giving a slow consumer until the timeout
// before the event is dropped.
func (s *subscriber) timedSend(u *Update, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.channel <- u:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.channel)
	}
}

// Bus is an in-memory pub/sub bus for presence updates, routed by per-guild
// topics with wildcard support.
type Bus struct {
	sync.RWMutex
	subscribers map[string]map[string]*subscriber // topic -> subscriber id
	counter     uint64
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string]map[string]*subscriber),
	}
}

// Subscribe registers for a topic and returns the delivery channel and an
// unsubscribe function. The channel is closed on unsubscribe or Shutdown.
func (b *Bus) Subscribe(topic string, bufferSize int) (<-chan *Update, func()) {
	sub := &subscriber{
		id:      fmt.Sprintf("sub-%d", atomic.AddUint64(&b.counter, 1)),
		channel: make(chan *Update, bufferSize),
	}

	b.Lock()
	defer b.Unlock()

	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[string]*subscriber)
	}
	b.subscribers[topic][sub.id] = sub

	unsubscribe := func() {
		b.Lock()
		defer b.Unlock()
		if subMap, ok := b.subscribers[topic]; ok {
			if s, ok := subMap[sub.id]; ok {
				s.close()
				delete(subMap, sub.id)
				if len(subMap) == 0 {
					delete(b.subscribers, topic)
				}
			}
		}
	}
	return sub.channel, unsubscribe
}

// Publish routes the update to subscribers of its guild topic and to
// wildcard subscribers. Delivery is dropped for consumers still blocked
// after the timeout.
func (b *Bus) Publish(u *Update, timeout time.Duration) {
	topic := Topic(u.GuildID)

	b.RLock()
	defer b.RUnlock()

	for pattern, subMap := range b.subscribers {
		if pattern != topic && pattern != "presence.*" {
			continue
		}
		for _, sub := range subMap {
			sub.timedSend(u, timeout)
		}
	}
}

// Shutdown closes every subscriber channel and clears the bus.
func (b *Bus) Shutdown() {
	b.Lock()
	defer b.Unlock()
	for _, subs := range b.subscribers {
		for _, sub := range subs {
			sub.close()
		}
	}
	b.subscribers = make(map[string]map[string]*subscriber)
}
