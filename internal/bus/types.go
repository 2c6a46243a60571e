// Package bus is the message transport between the gateway and the
// microservices: fire-and-forget publish, request/reply with a timeout and
// queue-group subscriptions.
package bus

import (
	"context"
	"errors"
	"time"
)

type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

var (
	ErrNotConnected = errors.New("not connected to bus")
	ErrTimeout      = errors.New("bus request timed out")
	ErrNoResponders = errors.New("no responders on subject")
	ErrClosed       = errors.New("bus is closed")
)

// Message is a delivered bus message. Reply is empty for plain publishes.
type Message struct {
	Subject string
	Reply   string
	Data    []byte
	Header  map[string]string
}

// MessageHandler receives one delivered message. ctx carries the trace
// context propagated in the message headers.
type MessageHandler func(ctx context.Context, msg *Message)

type Subscription interface {
	Subject() string
	Unsubscribe() error
}

type Bus interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) (*Message, error)
	// QueueSubscribe delivers each message on subject to one member of queue.
	// An empty queue subscribes every instance.
	QueueSubscribe(ctx context.Context, subject, queue string, handler MessageHandler) (Subscription, error)
	IsHealthy() bool
	Status() ConnectionStatus
	Close(ctx context.Context) error
}
