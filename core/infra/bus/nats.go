package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cordum/gridstore/core/infra/logging"
	"github.com/nats-io/nats.go"
)

// NatsBus is a thin wrapper over a NATS connection that speaks JSON bodies.
type NatsBus struct {
	nc         *nats.Conn
	js         nats.JetStreamContext
	jsEnabled  bool
	ackWait    time.Duration
	maxDeliver int
}

const (
	envUseJetStream = "NATS_USE_JETSTREAM"
	envJSAckWait    = "NATS_JS_ACK_WAIT"
	envJSMaxAge     = "NATS_JS_MAX_AGE"
	envJSMaxDeliver = "NATS_JS_MAX_DELIVER"

	defaultAckWait    = 2 * time.Minute
	defaultMaxAge     = 24 * time.Hour
	defaultMaxDeliver = 8

	streamSession = "GRIDSTORE_SESSION"
)

// NewNatsBus dials NATS at the provided URL.
func NewNatsBus(url string) (*NatsBus, error) {
	opts := []nats.Option{
		nats.Name("gridstore-bus"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.Warn("bus", "disconnected from nats", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("bus", "reconnected to nats", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.Info("bus", "connection closed")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	b := &NatsBus{nc: nc, ackWait: defaultAckWait, maxDeliver: defaultMaxDeliver}
	b.initJetStreamFromEnv()
	return b, nil
}

// Close shuts down the underlying NATS connection.
func (b *NatsBus) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
}

// Publish JSON-encodes v and sends it on subject.
func (b *NatsBus) Publish(subject string, v any) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if subject == "" {
		return errEmptyTopic
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if b.jsEnabled && isDurableSubject(subject) {
		_, err = b.js.Publish(subject, data)
		return err
	}
	return b.nc.Publish(subject, data)
}

// Request sends v and decodes the reply into out.
func (b *NatsBus) Request(ctx context.Context, subject string, v any, out any) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg, err := b.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("request %s: %w", subject, err)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(msg.Data, out)
}

// Subscribe attaches handler to subject. Session lifecycle subjects are
// consumed durably with explicit ack/nak when JetStream is enabled.
func (b *NatsBus) Subscribe(subject, queue string, handler Handler) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if subject == "" {
		return errEmptyTopic
	}
	if handler == nil {
		return errNilHandler
	}
	if b.jsEnabled && isDurableSubject(subject) {
		cb := func(msg *nats.Msg) {
			err := handler(wrap(msg))
			if err == nil {
				_ = msg.Ack()
				return
			}
			if delay, ok := RetryDelay(err); ok {
				delivered := deliveries(msg)
				if exhausted(delivered, b.maxDeliver) {
					logging.Error("bus", "giving up after redeliveries", "subject", subject, "deliveries", delivered, "error", err)
					_ = msg.Ack()
					return
				}
				if d := redeliveryDelay(delay, delivered); d > 0 {
					_ = msg.NakWithDelay(d)
				} else {
					_ = msg.Nak()
				}
				logging.Warn("bus", "handler asked for redelivery", "subject", subject, "deliveries", delivered, "error", err)
				return
			}
			logging.Error("bus", "handler error (ack)", "subject", subject, "error", err)
			_ = msg.Ack()
		}
		opts := []nats.SubOpt{
			nats.ManualAck(),
			nats.AckExplicit(),
			nats.AckWait(b.ackWait),
		}
		if durable := durableName(subject, queue); durable != "" {
			opts = append(opts, nats.Durable(durable))
		}
		var err error
		if queue == "" {
			_, err = b.js.Subscribe(subject, cb, opts...)
		} else {
			_, err = b.js.QueueSubscribe(subject, queue, cb, opts...)
		}
		return err
	}

	cb := func(msg *nats.Msg) {
		if err := handler(wrap(msg)); err != nil {
			logging.Error("bus", "handler error", "subject", subject, "error", err)
		}
	}
	if queue == "" {
		_, err := b.nc.Subscribe(subject, cb)
		return err
	}
	_, err := b.nc.QueueSubscribe(subject, queue, cb)
	return err
}

func (b *NatsBus) IsConnected() bool {
	return b != nil && b.nc != nil && b.nc.IsConnected()
}

func wrap(msg *nats.Msg) *Message {
	out := &Message{Subject: msg.Subject, Data: msg.Data}
	if msg.Reply != "" {
		out.reply = msg.Respond
	}
	return out
}

// deliveries is the JetStream delivery count of msg, 1 when unknown.
func deliveries(msg *nats.Msg) uint64 {
	meta, err := msg.Metadata()
	if err != nil || meta.NumDelivered == 0 {
		return 1
	}
	return meta.NumDelivered
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func initJetStreamEnabled() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(envUseJetStream))) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func (b *NatsBus) initJetStreamFromEnv() {
	if b == nil || b.nc == nil || !initJetStreamEnabled() {
		return
	}
	js, err := b.nc.JetStream()
	if err != nil {
		logging.Error("bus", "jetstream init failed", "error", err)
		return
	}
	if _, err := js.AccountInfo(); err != nil {
		logging.Error("bus", "jetstream not available", "error", err)
		return
	}
	maxAge := envDuration(envJSMaxAge, defaultMaxAge)
	_, err = js.AddStream(&nats.StreamConfig{
		Name:      streamSession,
		Subjects:  []string{"gridstore.session.>"},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    maxAge,
	})
	if err != nil {
		if _, infoErr := js.StreamInfo(streamSession); infoErr != nil {
			logging.Error("bus", "jetstream ensure stream failed", "stream", streamSession, "error", err)
			return
		}
	}
	b.js = js
	b.jsEnabled = true
	b.ackWait = envDuration(envJSAckWait, defaultAckWait)
	b.maxDeliver = envInt(envJSMaxDeliver, defaultMaxDeliver)
	logging.Info("bus", "jetstream enabled", "ack_wait", b.ackWait, "max_age", maxAge, "max_deliver", b.maxDeliver)
}

// Upload chunks stay on core NATS: redelivery after a nak would reorder them.
func isDurableSubject(subject string) bool {
	return strings.HasPrefix(subject, "gridstore.session.")
}

func durableName(subject, queue string) string {
	clean := func(s string) string {
		s = strings.ReplaceAll(s, ".", "_")
		s = strings.ReplaceAll(s, "*", "STAR")
		s = strings.ReplaceAll(s, ">", "GT")
		return strings.TrimSpace(s)
	}
	name := clean(subject)
	if name == "" {
		return ""
	}
	if q := clean(queue); q != "" {
		return "dur_" + q + "__" + name
	}
	return "dur_" + name
}
