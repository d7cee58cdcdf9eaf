package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// JetStreamBus публикует события мира в NATS JetStream: внешние
// подписчики получают их независимо от жизненного цикла процесса.
type JetStreamBus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	stream string
}

// NewJetStreamBus подключается к NATS и создаёт stream, если его нет.
func NewJetStreamBus(url, stream string, retention time.Duration) (*JetStreamBus, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	if stream == "" {
		stream = "MMO_EVENTS"
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}

	nc, err := nats.Connect(url, nats.Name("mmo-world-server"))
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к NATS: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("не удалось получить JetStream контекст: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     stream,
		Subjects: []string{stream + ".>"},
		MaxAge:   retention,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		nc.Close()
		return nil, fmt.Errorf("не удалось создать stream %s: %w", stream, err)
	}

	return &JetStreamBus{nc: nc, js: js, stream: stream}, nil
}

func (b *JetStreamBus) subject(eventType string) string {
	return b.stream + "." + eventType
}

// Publish публикует событие в stream.
func (b *JetStreamBus) Publish(ctx context.Context, ev *Envelope) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("не удалось сериализовать событие: %w", err)
	}
	_, err = b.js.Publish(b.subject(ev.EventType), data, nats.Context(ctx))
	return err
}

// Subscribe подписывает обработчик на тип события ("" — на все).
func (b *JetStreamBus) Subscribe(ctx context.Context, eventType string, h Handler) (Subscription, error) {
	subject := b.subject(eventType)
	if eventType == "" {
		subject = b.stream + ".>"
	}

	sub, err := b.js.Subscribe(subject, func(msg *nats.Msg) {
		var ev Envelope
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return
		}
		h(ctx, &ev)
		msg.Ack()
	})
	if err != nil {
		return nil, fmt.Errorf("не удалось подписаться на %s: %w", subject, err)
	}
	return &natsSub{sub: sub}, nil
}

type natsSub struct {
	sub *nats.Subscription
}

func (s *natsSub) Unsubscribe() {
	s.sub.Unsubscribe()
}

// Close закрывает подключение к NATS.
func (b *JetStreamBus) Close() error {
	b.nc.Close()
	return nil
}
