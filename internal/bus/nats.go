package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"natsgate/internal/config"
	"natsgate/internal/constants"
	"natsgate/internal/logger"
	"natsgate/pkg/metrics"
	"natsgate/pkg/retry"
	"natsgate/pkg/tracing"
)

// NATSClient is the Bus backed by a single shared NATS connection.
type NATSClient struct {
	cfg    config.NATSConfig
	log    logger.Logger
	status atomic.Value

	mu   sync.RWMutex
	conn *nats.Conn
	subs []*nats.Subscription

	closeMu sync.Mutex
	closed  atomic.Bool
}

func NewNATSClient(cfg config.NATSConfig, log logger.Logger) *NATSClient {
	c := &NATSClient{cfg: cfg, log: log}
	c.setStatus(StatusDisconnected)
	return c
}

func (c *NATSClient) URL() string {
	return strings.Join(c.cfg.URLs, ",")
}

func (c *NATSClient) Status() ConnectionStatus {
	val := c.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

func (c *NATSClient) setStatus(status ConnectionStatus) {
	c.status.Store(status)
	metrics.SetBusConnectionStatus(int(status))
}

func (c *NATSClient) IsHealthy() bool {
	conn := c.connection()
	return conn != nil && conn.IsConnected() && c.Status() == StatusConnected
}

func (c *NATSClient) connection() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *NATSClient) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.cfg.MaxReconnects),
		nats.ReconnectWait(c.cfg.ReconnectWait),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}

	if c.cfg.PingInterval > 0 {
		opts = append(opts, nats.PingInterval(c.cfg.PingInterval))
	}
	if c.cfg.MaxPingsOutstanding > 0 {
		opts = append(opts, nats.MaxPingsOutstanding(c.cfg.MaxPingsOutstanding))
	}
	if c.cfg.ConnectTimeout > 0 {
		opts = append(opts, nats.Timeout(c.cfg.ConnectTimeout))
	}
	if c.cfg.DrainTimeout > 0 {
		opts = append(opts, nats.DrainTimeout(c.cfg.DrainTimeout))
	}
	if c.cfg.Username != "" && c.cfg.Password != "" {
		opts = append(opts, nats.UserInfo(c.cfg.Username, c.cfg.Password))
	}
	if c.cfg.Token != "" {
		opts = append(opts, nats.Token(c.cfg.Token))
	}
	if c.cfg.ClientName != "" {
		opts = append(opts, nats.Name(c.cfg.ClientName))
	}

	return opts
}

// Connect dials the configured servers, retrying with backoff until the retry
// policy gives up or ctx is done.
func (c *NATSClient) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.setStatus(StatusConnecting)
	c.log.Infow("Connecting to NATS", "url", c.URL(), "client_name", c.cfg.ClientName)

	opts := c.buildConnectionOptions()

	connect := func() error {
		connectDone := make(chan error, 1)
		go func() {
			conn, err := nats.Connect(c.URL(), opts...)
			if err != nil {
				connectDone <- err
				return
			}

			c.mu.Lock()
			c.conn = conn
			c.mu.Unlock()

			connectDone <- nil
		}()

		select {
		case err := <-connectDone:
			return err
		case <-ctx.Done():
			return retry.Permanent(ctx.Err())
		}
	}

	onRetry := func(attempt int, err error, next time.Duration) {
		c.log.Warnw("NATS connect failed, retrying", "attempt", attempt, "error", err, "next_delay", next)
	}

	if err := retry.Do(ctx, retry.FromConfig(c.cfg.ConnectRetry), connect, onRetry); err != nil {
		c.setStatus(StatusDisconnected)
		return fmt.Errorf("connect to nats %s: %w", c.URL(), err)
	}

	c.setStatus(StatusConnected)
	c.log.Infow("Connected to NATS", "url", c.connection().ConnectedUrl())
	return nil
}

func (c *NATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	conn := c.connection()
	if conn == nil || !conn.IsConnected() {
		metrics.IncBusMessage("publish", "error")
		return ErrNotConnected
	}

	if err := conn.PublishMsg(c.newMsg(ctx, subject, data)); err != nil {
		metrics.IncBusMessage("publish", "error")
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	metrics.IncBusMessage("publish", "success")
	return nil
}

func (c *NATSClient) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) (*Message, error) {
	conn := c.connection()
	if conn == nil || !conn.IsConnected() {
		metrics.IncBusMessage("request", "error")
		return nil, ErrNotConnected
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply, err := conn.RequestMsgWithContext(reqCtx, c.newMsg(ctx, subject, data))
	if err != nil {
		metrics.IncBusMessage("request", "error")
		switch {
		case errors.Is(err, nats.ErrNoResponders):
			return nil, fmt.Errorf("%w: %s", ErrNoResponders, subject)
		case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, subject, timeout)
		default:
			return nil, fmt.Errorf("request %s: %w", subject, err)
		}
	}

	metrics.IncBusMessage("request", "success")
	return fromNATS(reply), nil
}

// QueueSubscribe registers handler on subject. Each delivery runs with its own
// timeout derived from ctx and the trace context of the message headers.
func (c *NATSClient) QueueSubscribe(ctx context.Context, subject, queue string, handler MessageHandler) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return nil, ErrNotConnected
	}

	cb := func(msg *nats.Msg) {
		m := fromNATS(msg)
		msgCtx, cancel := context.WithTimeout(ctx, constants.HandlerDispatchTimeout)
		defer cancel()

		handler(tracing.ExtractHeaders(msgCtx, m.Header), m)
	}

	var (
		sub *nats.Subscription
		err error
	)
	if queue == "" {
		sub, err = c.conn.Subscribe(subject, cb)
	} else {
		sub, err = c.conn.QueueSubscribe(subject, queue, cb)
	}
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	c.subs = append(c.subs, sub)
	c.log.Infow("Subscribed", "subject", subject, "queue_group", queue)
	return &natsSubscription{sub: sub}, nil
}

// Close drains subscriptions and the connection, bounded by the configured
// drain timeout or the ctx deadline, whichever comes first.
func (c *NATSClient) Close(ctx context.Context) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed.Load() {
		return nil
	}
	c.closed.Store(true)

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.subs = nil
	c.mu.Unlock()

	if conn == nil {
		c.setStatus(StatusDisconnected)
		return nil
	}

	drainTimeout := c.cfg.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = constants.ShutdownTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
			drainTimeout = remaining
		}
	}

	drainDone := make(chan error, 1)
	go func() {
		drainDone <- conn.Drain()
	}()

	var drainErr error
	select {
	case err := <-drainDone:
		if err != nil {
			drainErr = fmt.Errorf("drain nats connection: %w", err)
		}
	case <-time.After(drainTimeout):
		drainErr = fmt.Errorf("drain timeout after %v", drainTimeout)
	case <-ctx.Done():
		drainErr = fmt.Errorf("drain cancelled: %w", ctx.Err())
	}

	conn.Close()
	c.setStatus(StatusDisconnected)

	if drainErr != nil {
		c.log.Errorw("NATS drain failed, connection force closed", "error", drainErr)
	}
	return drainErr
}

func (c *NATSClient) newMsg(ctx context.Context, subject string, data []byte) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range tracing.InjectHeaders(ctx, nil) {
		msg.Header.Set(k, v)
	}
	return msg
}

func (c *NATSClient) handleDisconnect(_ *nats.Conn, err error) {
	if c.closed.Load() {
		return
	}
	c.setStatus(StatusReconnecting)
	c.log.Warnw("NATS disconnected", "error", err)
}

func (c *NATSClient) handleReconnect(conn *nats.Conn) {
	c.setStatus(StatusConnected)
	metrics.IncBusReconnect()
	c.log.Infow("NATS reconnected", "url", conn.ConnectedUrl())
}

func (c *NATSClient) handleClosed(_ *nats.Conn) {
	c.setStatus(StatusDisconnected)
}

func (c *NATSClient) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	subject := ""
	if sub != nil {
		subject = sub.Subject
	}
	c.log.Errorw("NATS async error", "subject", subject, "error", err)
}

// fromNATS lowercases header keys, matching what the trace propagator writes.
func fromNATS(msg *nats.Msg) *Message {
	m := &Message{
		Subject: msg.Subject,
		Reply:   msg.Reply,
		Data:    msg.Data,
	}
	if len(msg.Header) > 0 {
		m.Header = make(map[string]string, len(msg.Header))
		for k, v := range msg.Header {
			if len(v) > 0 {
				m.Header[strings.ToLower(k)] = v[0]
			}
		}
	}
	return m
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Subject() string {
	return s.sub.Subject
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}
