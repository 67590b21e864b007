// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

// Package logstream fans ffmpeg log lines out to viewers.
package logstream

import (
	"container/ring"
	"sync"

	"github.com/ZSC714725/vidshrink/internal/process"
)

// DefaultHistory is the number of lines replayed to a new subscriber
const DefaultHistory = 100

// Hub keeps the last lines of a job and forwards new lines to subscribers.
// Publish never blocks: a subscriber whose buffer is full misses lines.
type Hub struct {
	mu      sync.Mutex
	history *ring.Ring
	subs    map[int]chan process.Line
	nextID  int
	dropped uint64
	closed  bool
}

// New creates a Hub remembering size lines
func New(size int) *Hub {
	if size <= 0 {
		size = DefaultHistory
	}
	return &Hub{
		history: ring.New(size),
		subs:    make(map[int]chan process.Line),
	}
}

// Publish records a line and forwards it
func (h *Hub) Publish(line process.Line) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.history.Value = line
	h.history = h.history.Next()

	for _, ch := range h.subs {
		select {
		case ch <- line:
		default:
			h.dropped++
		}
	}
}

// Subscribe returns a channel of new lines and a cancel func. The channel is
// closed by cancel or when the hub closes.
func (h *Hub) Subscribe(buffer int) (<-chan process.Line, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan process.Line, buffer)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// History returns the remembered lines, oldest first
func (h *Hub) History() []process.Line {
	h.mu.Lock()
	defer h.mu.Unlock()

	var lines []process.Line
	h.history.Do(func(v any) {
		if l, ok := v.(process.Line); ok {
			lines = append(lines, l)
		}
	})
	return lines
}

// Dropped returns how many deliveries were skipped for slow subscribers
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Close ends all subscriptions. History stays readable.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}

// Closed reports whether Close was called
func (h *Hub) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
