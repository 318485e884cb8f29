package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// LocalBus delivers synchronously inside one process. It backs the memory
// deployment mode and the adapter tests. Subjects match exactly or by a
// trailing ">" wildcard.
type LocalBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[string][]Handler)}
}

func (b *LocalBus) Subscribe(subject, _ string, handler Handler) error {
	if subject == "" {
		return errEmptyTopic
	}
	if handler == nil {
		return errNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[subject] = append(b.handlers[subject], handler)
	return nil
}

func (b *LocalBus) Publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	for _, h := range b.match(subject) {
		if err := h(&Message{Subject: subject, Data: data}); err != nil {
			return err
		}
	}
	return nil
}

func (b *LocalBus) Request(_ context.Context, subject string, v any, out any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	handlers := b.match(subject)
	if len(handlers) == 0 {
		return fmt.Errorf("request %s: no responders", subject)
	}
	var reply []byte
	msg := &Message{Subject: subject, Data: data, reply: func(b []byte) error {
		reply = b
		return nil
	}}
	if err := handlers[0](msg); err != nil {
		return err
	}
	if out == nil || reply == nil {
		return nil
	}
	return json.Unmarshal(reply, out)
}

func (b *LocalBus) match(subject string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Handler
	for pattern, hs := range b.handlers {
		if pattern == subject || (strings.HasSuffix(pattern, ">") && strings.HasPrefix(subject, strings.TrimSuffix(pattern, ">"))) {
			out = append(out, hs...)
		}
	}
	return out
}
