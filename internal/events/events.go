// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package events is a small synchronous publish/subscribe bus.
//
// Listeners are registered per Kind and removed with the Token returned by
// On. Delivery happens on the publishing goroutine, in registration order,
// and never while the bus lock is held, so a listener may subscribe or
// unsubscribe from inside its callback.
package events

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind names an event type.
type Kind string

// Event kinds emitted by the credit ledger.
const (
	ProviderStatusChanged Kind = "provider_status_changed"
	CreditsWarning        Kind = "credits_warning"
	CreditsCritical       Kind = "credits_critical"
	CreditsExhausted      Kind = "credits_exhausted"
	PredictiveWarning     Kind = "predictive_warning"
	ProviderRegistered    Kind = "provider_registered"
	ProviderInactive      Kind = "provider_inactive"
	CreditsUpdated        Kind = "credits_updated"
)

// Event is a single notification.
type Event struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	ProviderID string    `json:"provider_id"`
	Payload    any       `json:"payload,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Listener receives events.
type Listener func(Event)

// Token identifies a subscription.
type Token struct {
	kind Kind
	id   uint64
}

// Valid reports whether the token came from On.
func (t Token) Valid() bool {
	return t.id != 0
}

type subscription struct {
	id       uint64
	listener Listener
}

// Bus fans events out to listeners. The zero value is not usable; use New.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Kind][]subscription
	nextID uint64
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[Kind][]subscription)}
}

// On registers listener for kind. A nil listener is ignored and yields an
// invalid token.
func (b *Bus) On(kind Kind, listener Listener) Token {
	if listener == nil {
		return Token{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subs[kind] = append(b.subs[kind], subscription{id: b.nextID, listener: listener})
	return Token{kind: kind, id: b.nextID}
}

// Off removes the subscription. It returns false when the token is unknown
// or was already removed.
func (b *Bus) Off(token Token) bool {
	if !token.Valid() {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[token.kind]
	for i, s := range subs {
		if s.id == token.id {
			// copy so in-flight deliveries keep their snapshot
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			if len(next) == 0 {
				delete(b.subs, token.kind)
			} else {
				b.subs[token.kind] = next
			}
			return true
		}
	}
	return false
}

// Count returns the number of listeners for kind.
func (b *Bus) Count(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[kind])
}

// Emit builds an Event and delivers it. The populated event is returned.
func (b *Bus) Emit(kind Kind, providerID string, payload any, at time.Time) Event {
	ev := Event{
		ID:         uuid.New().String(),
		Kind:       kind,
		ProviderID: providerID,
		Payload:    payload,
		Timestamp:  at,
	}
	b.Publish(ev)
	return ev
}

// Publish delivers ev to every listener of its kind. A panicking listener
// is logged and does not stop delivery to the rest.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	subs := b.subs[ev.Kind]
	b.mu.RUnlock()

	for _, s := range subs {
		deliver(s.listener, ev)
	}
}

func deliver(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("EVENT_LISTENER_PANIC | kind=%s provider=%s panic=%v", ev.Kind, ev.ProviderID, r)
		}
	}()
	l(ev)
}
