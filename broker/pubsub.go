package broker

import (
	"sync"
	"sync/atomic"
)

// pubsubHub is the in-process pub/sub fabric shared by the embedded
// brokers (memory, badger). Delivery is fire-and-forget: a subscriber
// whose buffer is full loses the payload.
type pubsubHub struct {
	mu     sync.Mutex
	subs   map[string][]*hubSub
	closed atomic.Bool
}

type hubSub struct {
	hub     *pubsubHub
	channel string
	ch      chan []byte
	closed  atomic.Bool
}

func newPubsubHub() *pubsubHub {
	return &pubsubHub{subs: make(map[string][]*hubSub)}
}

func (h *pubsubHub) publish(channel string, payload []byte) {
	data := make([]byte, len(payload))
	copy(data, payload)

	h.mu.Lock()
	subs := make([]*hubSub, len(h.subs[channel]))
	copy(subs, h.subs[channel])
	h.mu.Unlock()

	for _, sub := range subs {
		if sub.closed.Load() {
			continue
		}
		select {
		case sub.ch <- data:
		default:
			// Subscriber buffer full, drop
		}
	}
}

func (h *pubsubHub) subscribe(channel string) *hubSub {
	sub := &hubSub{
		hub:     h,
		channel: channel,
		ch:      make(chan []byte, subscriberBuffer),
	}

	h.mu.Lock()
	h.subs[channel] = append(h.subs[channel], sub)
	h.mu.Unlock()

	return sub
}

func (h *pubsubHub) close() {
	if h.closed.Swap(true) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, subs := range h.subs {
		for _, sub := range subs {
			if !sub.closed.Swap(true) {
				close(sub.ch)
			}
		}
	}
	h.subs = nil
}

// Payloads returns the subscription's payload channel.
func (s *hubSub) Payloads() <-chan []byte {
	return s.ch
}

// Unsubscribe cancels the subscription.
func (s *hubSub) Unsubscribe() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.hub.mu.Lock()
	subs := s.hub.subs[s.channel]
	for i, sub := range subs {
		if sub == s {
			s.hub.subs[s.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	s.hub.mu.Unlock()

	close(s.ch)
	return nil
}

// Ensure hubSub implements Subscription.
var _ Subscription = (*hubSub)(nil)
