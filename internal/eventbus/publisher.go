package eventbus

import (
	"context"
	"time"

	"github.com/annel0/mmo-world/internal/logging"
	"github.com/google/uuid"
)

// WorldPublisher адаптирует EventBus к интерфейсу публикации событий
// мира: заполняет конверт и не пропускает ошибки шины в игровой цикл.
type WorldPublisher struct {
	bus    EventBus
	source string
}

// NewWorldPublisher создаёт публикатор с указанным именем источника.
func NewWorldPublisher(bus EventBus, source string) *WorldPublisher {
	return &WorldPublisher{bus: bus, source: source}
}

// PublishWorldEvent публикует событие мира. Ошибка шины логируется и
// не влияет на тик.
func (p *WorldPublisher) PublishWorldEvent(worldName, eventType string, payload []byte) {
	ev := &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    p.source,
		EventType: eventType,
		World:     worldName,
		Payload:   payload,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.bus.Publish(ctx, ev); err != nil {
		logging.Debug("Не удалось опубликовать событие %s мира %s: %v", eventType, worldName, err)
	}
}
