package bus

import (
	"context"
	"strings"
	"sync"
	"time"

	"natsgate/internal/config"
	"natsgate/pkg/circuitbreaker"
)

// BreakerBus guards Publish and Request with one circuit breaker per subject
// family. An open breaker fails the call with circuitbreaker.ErrOpen. Replies
// to "_INBOX." subjects bypass the breakers.
type BreakerBus struct {
	Bus

	cfg      config.CircuitBreakerConfig
	mu       sync.Mutex
	breakers map[string]*circuitbreaker.Wrapper
}

func NewBreakerBus(inner Bus, cfg config.CircuitBreakerConfig) *BreakerBus {
	return &BreakerBus{
		Bus:      inner,
		cfg:      cfg,
		breakers: make(map[string]*circuitbreaker.Wrapper),
	}
}

func (b *BreakerBus) Publish(ctx context.Context, subject string, data []byte) error {
	if strings.HasPrefix(subject, inboxPrefix) {
		return b.Bus.Publish(ctx, subject, data)
	}
	return b.breaker(subject).Execute(ctx, func() error {
		return b.Bus.Publish(ctx, subject, data)
	})
}

func (b *BreakerBus) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) (*Message, error) {
	var reply *Message
	err := b.breaker(subject).Execute(ctx, func() error {
		var err error
		reply, err = b.Bus.Request(ctx, subject, data, timeout)
		return err
	})
	return reply, err
}

func (b *BreakerBus) breaker(subject string) *circuitbreaker.Wrapper {
	key := BreakerKey(subject)

	b.mu.Lock()
	defer b.mu.Unlock()

	w, ok := b.breakers[key]
	if !ok {
		w = circuitbreaker.NewWrapper(circuitbreaker.FromConfig(key, b.cfg))
		b.breakers[key] = w
	}
	return w
}

// BreakerKey groups subjects by their first two tokens: "get.customers.41"
// and "get.customers.42" share the "get.customers" breaker.
func BreakerKey(subject string) string {
	tokens := strings.SplitN(subject, ".", 3)
	if len(tokens) > 2 {
		tokens = tokens[:2]
	}
	return strings.Join(tokens, ".")
}

func (b *BreakerBus) breakerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.breakers)
}
