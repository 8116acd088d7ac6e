// Package stream fans authorization change events out to subscribers
// (SSE clients, cache warmers). Delivery is best effort: slow subscribers
// drop events rather than block the mutation path.
package stream

import (
	"context"
	"sync"
	"time"
)

// ChangeKind names the record family a mutation touched.
type ChangeKind string

const (
	KindPermission     ChangeKind = "permission"
	KindRolePermission ChangeKind = "role_permission"
	KindUserRole       ChangeKind = "user_role"
)

// ChangeEvent describes one mutation of the permission model.
type ChangeEvent struct {
	Kind           ChangeKind `json:"kind"`
	Action         string     `json:"action"`
	OrganizationID int64      `json:"organization_id"`
	EntityID       int64      `json:"entity_id"`
	Timestamp      time.Time  `json:"timestamp"`
}

// Stream fan-outs change events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan ChangeEvent
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan ChangeEvent)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan ChangeEvent {
	ch := make(chan ChangeEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt ChangeEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
