package engine

import (
	"context"
	"sync/atomic"
)

// Hub fans step frames out to subscribers. A subscriber that falls behind
// misses frames rather than stalling the driver.
type Hub struct {
	broadcast  chan Frame
	register   chan chan Frame
	unregister chan chan Frame
	clients    map[chan Frame]struct{}
	clientBuf  int
	done       chan struct{}
	dropped    atomic.Uint64
}

type Option func(*Hub)

func WithBroadcastBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.broadcast = make(chan Frame, size)
		}
	}
}

func WithClientBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.clientBuf = size
		}
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		broadcast:  make(chan Frame, 256),
		register:   make(chan chan Frame),
		unregister: make(chan chan Frame),
		clients:    make(map[chan Frame]struct{}),
		clientBuf:  100,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run delivers frames until ctx is done, then forwards whatever is still
// queued and closes every subscriber.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.flush()
			for ch := range h.clients {
				close(ch)
			}
			return
		case ch := <-h.register:
			h.clients[ch] = struct{}{}
		case ch := <-h.unregister:
			if _, ok := h.clients[ch]; ok {
				delete(h.clients, ch)
				close(ch)
			}
		case frame := <-h.broadcast:
			h.deliver(frame)
		}
	}
}

func (h *Hub) deliver(frame Frame) {
	for ch := range h.clients {
		select {
		case ch <- frame:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) flush() {
	for {
		select {
		case frame := <-h.broadcast:
			h.deliver(frame)
		default:
			return
		}
	}
}

func (h *Hub) Subscribe() chan Frame {
	return h.SubscribeWithBuffer(h.clientBuf)
}

// SubscribeWithBuffer registers a subscriber channel. After Run has returned
// the channel comes back already closed.
func (h *Hub) SubscribeWithBuffer(size int) chan Frame {
	if size <= 0 {
		size = h.clientBuf
	}
	ch := make(chan Frame, size)
	select {
	case h.register <- ch:
	case <-h.done:
		close(ch)
	}
	return ch
}

func (h *Hub) Unsubscribe(ch chan Frame) {
	select {
	case h.unregister <- ch:
	case <-h.done:
	}
}

// Publish queues a frame. It returns false once the hub has stopped.
func (h *Hub) Publish(frame Frame) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.broadcast <- frame:
		return true
	case <-h.done:
		return false
	}
}

// Dropped counts frames a slow subscriber did not receive.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
