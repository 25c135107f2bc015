package notify

import (
	"context"
	"sync"
)

// Handler receives a raw message published on a topic.
type Handler func(message []byte)

// Notifier is a best-effort, at-most-once publish/subscribe fan-out to
// other actors sharing the same local store. Consumers must stay correct
// if nothing is ever delivered; the notifier only shrinks race windows,
// it never carries authoritative state.
type Notifier interface {
	Publish(ctx context.Context, topic string, message []byte) error
	Subscribe(topic string, handler Handler)
	Close() error
}

// Topics.
const (
	TopicSequenceClaimed = "pos.sequence.claimed"
)

// Noop discards every publish and delivers nothing. Single-process
// deployments use it.
type Noop struct{}

func NewNoop() Noop { return Noop{} }

func (Noop) Publish(context.Context, string, []byte) error { return nil }

func (Noop) Subscribe(string, Handler) {}

func (Noop) Close() error { return nil }

// InProcess fans messages out to subscribers within the same process.
// Useful in tests and when all actors run in one binary.
type InProcess struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewInProcess() *InProcess {
	return &InProcess{handlers: make(map[string][]Handler)}
}

func (n *InProcess) Publish(_ context.Context, topic string, message []byte) error {
	n.mu.RLock()
	handlers := n.handlers[topic]
	n.mu.RUnlock()

	for _, h := range handlers {
		h(message)
	}
	return nil
}

func (n *InProcess) Subscribe(topic string, handler Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[topic] = append(n.handlers[topic], handler)
}

func (n *InProcess) Close() error { return nil }
