// Package preview fans rendered JPEG frames out to preview clients.
package preview

import (
	"sync"
)

// Hub keeps the latest frame and hands it to every subscriber. A subscriber
// that falls behind only ever sees the newest frame.
type Hub struct {
	lock   sync.Mutex
	latest []byte
	subs   map[*Subscriber]struct{}
	closed bool

	onChange func(n int)
}

type Subscriber struct {
	ch chan []byte
}

// C yields frames. It is closed when the hub closes.
func (s *Subscriber) C() <-chan []byte {
	return s.ch
}

// NewHub returns an empty hub. onChange, if not nil, is called with the
// subscriber count whenever it changes.
func NewHub(onChange func(n int)) *Hub {
	return &Hub{
		subs:     make(map[*Subscriber]struct{}),
		onChange: onChange,
	}
}

// Publish stores frame as the latest one and offers it to every subscriber.
// The hub keeps frame, callers must not modify it afterwards.
func (h *Hub) Publish(frame []byte) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.closed {
		return
	}
	h.latest = frame
	for s := range h.subs {
		offer(s.ch, frame)
	}
}

func offer(ch chan []byte, frame []byte) {
	select {
	case ch <- frame:
		return
	default:
	}
	// drop the stale frame
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- frame:
	default:
	}
}

// Subscribe registers a subscriber, primed with the latest frame if any.
func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{ch: make(chan []byte, 1)}

	h.lock.Lock()
	defer h.lock.Unlock()
	if h.closed {
		close(s.ch)
		return s
	}
	if h.latest != nil {
		s.ch <- h.latest
	}
	h.subs[s] = struct{}{}
	h.changed()

	return s
}

func (h *Hub) Unsubscribe(s *Subscriber) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.ch)
	h.changed()
}

func (h *Hub) Latest() ([]byte, bool) {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.latest, h.latest != nil
}

func (h *Hub) Len() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.subs)
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		close(s.ch)
	}
	h.subs = map[*Subscriber]struct{}{}
	h.changed()
}

func (h *Hub) changed() {
	if h.onChange != nil {
		h.onChange(len(h.subs))
	}
}
