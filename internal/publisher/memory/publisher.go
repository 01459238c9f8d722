// Package memory provides an in-process publisher that records completion
// events instead of pushing them to a bus. Tests and local runs use it in
// place of the Pub/Sub client.
package memory

import (
	"context"
	"strconv"
	"sync"
)

// PublishedMessage captures one recorded publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// Publisher records published payloads in order for later inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []PublishedMessage
}

// New returns an empty recording Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish appends the event and returns a sequence-numbered ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, PublishedMessage{Topic: topic, Payload: payload})
	return "memory-" + strconv.Itoa(len(p.events)), nil
}

// Messages returns a copy of the recorded events.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.events))
	copy(out, p.events)
	return out
}
