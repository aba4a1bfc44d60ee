// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hooks

import (
	"context"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// queueSize bounds PublishAsync; events beyond it are dropped.
const queueSize = 1000

// Subscription is a handle for a registered subscriber.
type Subscription struct {
	ID          string
	Event       HookEvent
	Callback    func(*EventContext)
	Filter      func(*EventContext) bool
	Unsubscribe func()
}

// EventBus fans events out to subscribers. Publishing never blocks the
// request path: PublishAsync queues and a single worker delivers in order.
type EventBus struct {
	subscribers map[HookEvent][]*Subscription
	mu          sync.RWMutex
	eventQueue  chan *EventContext
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	once        sync.Once
}

// NewEventBus creates a bus and starts its delivery worker.
func NewEventBus() *EventBus {
	ctx, cancel := context.WithCancel(context.Background())
	bus := &EventBus{
		subscribers: make(map[HookEvent][]*Subscription),
		eventQueue:  make(chan *EventContext, queueSize),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	go bus.processQueue()
	return bus
}

// Subscribe registers a callback for one event type.
func (b *EventBus) Subscribe(event HookEvent, callback func(*EventContext)) *Subscription {
	return b.SubscribeWithFilter(event, callback, nil)
}

// SubscribeWithFilter registers a callback invoked only when filter accepts
// the event. A nil filter accepts everything.
func (b *EventBus) SubscribeWithFilter(event HookEvent, callback func(*EventContext), filter func(*EventContext) bool) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		ID:       uuid.NewString(),
		Event:    event,
		Callback: callback,
		Filter:   filter,
	}
	sub.Unsubscribe = func() { b.unsubscribe(sub) }
	b.subscribers[event] = append(b.subscribers[event], sub)
	return sub
}

func (b *EventBus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[sub.Event]
	for i, s := range subs {
		if s.ID == sub.ID {
			b.subscribers[sub.Event] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
}

// Publish delivers ev to every subscriber on the calling goroutine. A
// panicking subscriber is logged and skipped.
func (b *EventBus) Publish(ev *EventContext) {
	b.mu.RLock()
	subs := make([]*Subscription, len(b.subscribers[ev.Event]))
	copy(subs, b.subscribers[ev.Event])
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.Filter != nil && !sub.Filter(ev) {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("panic in event subscriber for %s: %v", ev.Event, r)
				}
			}()
			sub.Callback(ev)
		}()
	}
}

// PublishAsync queues ev for delivery. It drops the event when the queue is
// full or the bus is shut down.
func (b *EventBus) PublishAsync(ev *EventContext) {
	if b == nil || ev == nil {
		return
	}
	select {
	case <-b.ctx.Done():
		return
	default:
	}
	select {
	case b.eventQueue <- ev:
	default:
		log.Warnf("event queue full, dropping event: %s", ev.Event)
	}
}

func (b *EventBus) processQueue() {
	defer close(b.done)
	for {
		select {
		case <-b.ctx.Done():
			b.drain()
			return
		case ev := <-b.eventQueue:
			b.Publish(ev)
		}
	}
}

func (b *EventBus) drain() {
	for {
		select {
		case ev := <-b.eventQueue:
			b.Publish(ev)
		default:
			return
		}
	}
}

// Shutdown stops accepting events, delivers what is already queued and
// waits for the worker to exit. Safe to call more than once.
func (b *EventBus) Shutdown() {
	b.once.Do(func() {
		b.cancel()
		<-b.done
	})
}
