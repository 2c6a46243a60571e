package bus

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"natsgate/internal/constants"
	"natsgate/pkg/metrics"
	"natsgate/pkg/tracing"
)

const inboxPrefix = "_INBOX."

// MemoryBus is an in-process Bus with NATS subject semantics: "*" matches one
// token, ">" matches the remaining tokens and queue groups receive each message
// once. Deliveries run on their own goroutines, Flush waits for them.
type MemoryBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*memorySubscription
	queues  map[string]*atomic.Uint64
	inboxes map[string]chan *Message
	nextID  uint64

	healthy atomic.Bool
	closed  atomic.Bool
	wg      sync.WaitGroup

	recording bool
	recMu     sync.Mutex
	published []*Message
}

type MemoryOption func(*MemoryBus)

// WithRecording keeps every message for Messages and MessagesOn. Without it
// nothing is retained.
func WithRecording() MemoryOption {
	return func(b *MemoryBus) {
		b.recording = true
	}
}

func NewMemoryBus(opts ...MemoryOption) *MemoryBus {
	b := &MemoryBus{
		subs:    make(map[uint64]*memorySubscription),
		queues:  make(map[string]*atomic.Uint64),
		inboxes: make(map[string]chan *Message),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.healthy.Store(true)
	return b
}

// SetHealthy flips the health reported to callers without touching
// subscriptions.
func (b *MemoryBus) SetHealthy(healthy bool) {
	b.healthy.Store(healthy)
}

func (b *MemoryBus) IsHealthy() bool {
	return b.healthy.Load() && !b.closed.Load()
}

func (b *MemoryBus) Status() ConnectionStatus {
	if b.IsHealthy() {
		return StatusConnected
	}
	return StatusDisconnected
}

func (b *MemoryBus) Publish(ctx context.Context, subject string, data []byte) error {
	if !b.IsHealthy() {
		metrics.IncBusMessage("publish", "error")
		return ErrNotConnected
	}

	msg := &Message{Subject: subject, Data: copyBytes(data), Header: tracing.InjectHeaders(ctx, nil)}
	b.record(msg)
	metrics.IncBusMessage("publish", "success")

	if strings.HasPrefix(subject, inboxPrefix) {
		b.mu.RLock()
		ch, ok := b.inboxes[subject]
		b.mu.RUnlock()
		if ok {
			select {
			case ch <- msg:
			default:
			}
		}
		return nil
	}

	b.deliver(msg)
	return nil
}

func (b *MemoryBus) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) (*Message, error) {
	if !b.IsHealthy() {
		metrics.IncBusMessage("request", "error")
		return nil, ErrNotConnected
	}

	inbox := inboxPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	replies := make(chan *Message, 1)

	b.mu.Lock()
	b.inboxes[inbox] = replies
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.inboxes, inbox)
		b.mu.Unlock()
	}()

	msg := &Message{Subject: subject, Reply: inbox, Data: copyBytes(data), Header: tracing.InjectHeaders(ctx, nil)}
	b.record(msg)

	if b.deliver(msg) == 0 {
		metrics.IncBusMessage("request", "error")
		return nil, fmt.Errorf("%w: %s", ErrNoResponders, subject)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-replies:
		metrics.IncBusMessage("request", "success")
		return reply, nil
	case <-timer.C:
		metrics.IncBusMessage("request", "error")
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, subject, timeout)
	case <-ctx.Done():
		metrics.IncBusMessage("request", "error")
		return nil, fmt.Errorf("%w: %s: %v", ErrTimeout, subject, ctx.Err())
	}
}

func (b *MemoryBus) QueueSubscribe(ctx context.Context, subject, queue string, handler MessageHandler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &memorySubscription{
		id:      b.nextID,
		bus:     b,
		ctx:     ctx,
		subject: subject,
		queue:   queue,
		handler: handler,
	}
	b.subs[sub.id] = sub
	if queue != "" {
		if _, ok := b.queues[queue]; !ok {
			b.queues[queue] = &atomic.Uint64{}
		}
	}
	return sub, nil
}

// Handle answers requests on subject with fn's return value. It is shorthand
// for a subscription that publishes to the reply address.
func (b *MemoryBus) Handle(subject string, fn func(msg *Message) []byte) (Subscription, error) {
	return b.QueueSubscribe(context.Background(), subject, "", func(ctx context.Context, msg *Message) {
		reply := fn(msg)
		if msg.Reply != "" && reply != nil {
			_ = b.Publish(ctx, msg.Reply, reply)
		}
	})
}

// Messages returns every message published or requested so far, inbox
// replies included, in order. It is empty unless the bus was built
// WithRecording.
func (b *MemoryBus) Messages() []*Message {
	b.recMu.Lock()
	defer b.recMu.Unlock()
	out := make([]*Message, len(b.published))
	copy(out, b.published)
	return out
}

// MessagesOn filters Messages by exact subject.
func (b *MemoryBus) MessagesOn(subject string) []*Message {
	var out []*Message
	for _, m := range b.Messages() {
		if m.Subject == subject {
			out = append(out, m)
		}
	}
	return out
}

// Flush waits for in-flight deliveries.
func (b *MemoryBus) Flush() {
	b.wg.Wait()
}

func (b *MemoryBus) Close(ctx context.Context) error {
	if b.closed.Swap(true) {
		return nil
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	b.mu.Lock()
	b.subs = make(map[uint64]*memorySubscription)
	b.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close memory bus: %w", ctx.Err())
	}
}

func (b *MemoryBus) record(msg *Message) {
	if !b.recording {
		return
	}
	b.recMu.Lock()
	b.published = append(b.published, msg)
	b.recMu.Unlock()
}

// deliver fans msg out to matching subscribers and reports how many received it.
func (b *MemoryBus) deliver(msg *Message) int {
	b.mu.RLock()
	var (
		plain  []*memorySubscription
		groups = make(map[string][]*memorySubscription)
	)
	for _, sub := range b.subs {
		if !MatchSubject(sub.subject, msg.Subject) {
			continue
		}
		if sub.queue == "" {
			plain = append(plain, sub)
		} else {
			groups[sub.queue] = append(groups[sub.queue], sub)
		}
	}

	targets := plain
	for queue, members := range groups {
		slices.SortFunc(members, func(a, c *memorySubscription) int {
			return cmp.Compare(a.id, c.id)
		})
		n := b.queues[queue].Add(1)
		targets = append(targets, members[int(n-1)%len(members)])
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		b.wg.Add(1)
		go func(sub *memorySubscription) {
			defer b.wg.Done()
			sub.dispatch(msg)
		}(sub)
	}
	return len(targets)
}

type memorySubscription struct {
	id      uint64
	bus     *MemoryBus
	ctx     context.Context
	subject string
	queue   string
	handler MessageHandler
}

func (s *memorySubscription) Subject() string {
	return s.subject
}

func (s *memorySubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	return nil
}

func (s *memorySubscription) dispatch(msg *Message) {
	ctx, cancel := context.WithTimeout(s.ctx, constants.HandlerDispatchTimeout)
	defer cancel()

	s.handler(tracing.ExtractHeaders(ctx, msg.Header), msg)
}

// MatchSubject reports whether subject is covered by pattern.
func MatchSubject(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, tok := range pt {
		if tok == ">" {
			return len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if tok != "*" && tok != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}

func copyBytes(data []byte) []byte {
	if data == nil {
		return nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}
