package game

import (
	"context"
	"sync"
	"time"

	"github.com/annel0/mmo-world/internal/logging"
	"github.com/annel0/mmo-world/internal/network"
	"github.com/annel0/mmo-world/internal/storage"
	"github.com/annel0/mmo-world/internal/world"
	"github.com/annel0/mmo-world/internal/world/block"
)

// Options задаёт параметры игрового цикла мира.
type Options struct {
	TickInterval   time.Duration
	RenderDistance int
	SendTimeout    time.Duration
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = 500 * time.Millisecond
	}
	if o.RenderDistance <= 0 {
		o.RenderDistance = 3
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 3 * time.Second
	}
	return o
}

// Game владеет одним миром: тиковым циклом, жизненным циклом чанков,
// таблицей активных соединений и рассылкой снапшотов.
//
// Мир защищён одним write-exclusive RWMutex: тиковая задача берёт его
// в режиме записи на время каждой фазы и отпускает перед любой
// операцией с персистентностью или сном. Таблица соединений живёт под
// отдельным мьютексом, чтобы исключить взаимную блокировку с
// обработчиками, которым нужен только список соединений.
type Game struct {
	worldMu sync.RWMutex
	world   *world.World

	connsMu sync.RWMutex
	conns   map[string]*network.Connection

	repo    storage.WorldRepo
	gen     world.ChunkGenerator
	catalog *block.Catalog
	opts    Options
	bus     EventPublisher

	pendingDisconnects chan string
	currentTick        uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// EventPublisher публикует события мира во внешнюю шину.
// Nil-безопасная абстракция: без шины события просто не публикуются.
type EventPublisher interface {
	PublishWorldEvent(worldName, eventType string, payload []byte)
}

// NewGame создаёт игровой цикл для мира.
func NewGame(w *world.World, repo storage.WorldRepo, gen world.ChunkGenerator, catalog *block.Catalog, bus EventPublisher, opts Options) *Game {
	return &Game{
		world:              w,
		conns:              make(map[string]*network.Connection),
		repo:               repo,
		gen:                gen,
		catalog:            catalog,
		opts:               opts.withDefaults(),
		bus:                bus,
		pendingDisconnects: make(chan string, 256),
		done:               make(chan struct{}),
	}
}

// WorldName возвращает имя мира.
func (g *Game) WorldName() string {
	return g.world.Name()
}

// CurrentTick возвращает номер последнего завершённого тика.
func (g *Game) CurrentTick() uint64 {
	g.worldMu.RLock()
	defer g.worldMu.RUnlock()
	return g.currentTick
}

// Start запускает тиковую задачу мира.
func (g *Game) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	g.cancel = cancel
	go g.run(ctx)
}

// Stop останавливает тиковую задачу и дожидается её завершения.
func (g *Game) Stop() {
	if g.cancel != nil {
		g.cancel()
		<-g.done
	}
}

// run — тиковая задача: единственный монотонный источник управления.
func (g *Game) run(ctx context.Context) {
	defer close(g.done)

	ticker := time.NewTicker(g.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.shutdown()
			return
		case <-ticker.C:
			g.tick(ctx)
		}
	}
}

// tick исполняет один тик: четыре фазы планировщика под блокировкой
// записи (отпускаемой между фазами), затем жизненный цикл чанков,
// отложенные удаления, рассылку снапшотов и очистку трекеров.
func (g *Game) tick(ctx context.Context) {
	started := time.Now()

	// Отключения, обнаруженные с прошлого тика
	g.drainDisconnects(ctx)

	// Фаза 1: параллельные пользовательские системы
	g.worldMu.Lock()
	g.world.RunPreUpdate()
	g.worldMu.Unlock()

	// Фаза 2: каркасные системы
	g.worldMu.Lock()
	g.world.RunBetweenTicks()
	g.worldMu.Unlock()

	// Фаза 3: ротация событий
	g.worldMu.Lock()
	g.world.RotateEvents()
	g.worldMu.Unlock()

	// Фаза 4: последовательные пользовательские системы
	g.worldMu.Lock()
	g.world.RunPostUpdate()
	g.worldMu.Unlock()

	// Сведение резидентного множества чанков с желаемым
	g.reconcileChunks(ctx)

	// Отложенные удаления
	g.flushDeletions(ctx)

	// Рассылка снапшотов: Ticked тика N отражает все мутации тика N
	g.fanOutSnapshots()

	// Конец тика: сбор переходов компонентов и очистка трекеров
	g.worldMu.Lock()
	updates := g.world.HarvestChanges()
	g.world.ClearTrackers()
	g.currentTick++
	tickNo := g.currentTick
	g.worldMu.Unlock()

	for _, list := range updates {
		metricComponentUpdates.WithLabelValues(g.world.Name()).Add(float64(len(list)))
	}

	metricTickDuration.WithLabelValues(g.world.Name()).Observe(time.Since(started).Seconds())
	if g.bus != nil && tickNo%64 == 0 {
		g.bus.PublishWorldEvent(g.world.Name(), "tick", nil)
	}
}

// flushDeletions применяет очередь отложенных удалений: сущности
// исчезают из памяти и из персистентности.
func (g *Game) flushDeletions(ctx context.Context) {
	g.worldMu.Lock()
	ids := g.world.DrainDeletions()
	for _, id := range ids {
		g.world.Despawn(id)
	}
	g.worldMu.Unlock()

	for _, id := range ids {
		if err := g.repo.DeleteEntity(ctx, id); err != nil {
			metricPersistenceErrors.WithLabelValues(g.world.Name()).Inc()
			logging.Warn("Не удалось удалить сущность %d из базы: %v", id, err)
		}
	}
}

// shutdown сохраняет резидентное состояние мира при остановке:
// каждая сущность резидентных чанков (по пространственному индексу) и
// каждый резидентный чанк с loaded=true, чтобы
// следующий запуск восстановил то же резидентное множество.
func (g *Game) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	g.worldMu.RLock()
	ids := g.world.LoadedIDs()
	g.worldMu.RUnlock()

	for _, cid := range ids {
		g.worldMu.RLock()
		c, ok := g.world.ChunkAt(cid)
		var entities []uint64
		var blob []byte
		if ok {
			entities = g.world.EntitiesInChunk(cid)
			blob = c.Encode()
		}
		g.worldMu.RUnlock()
		if !ok {
			continue
		}

		for _, id := range entities {
			g.persistEntity(ctx, id)
		}
		if err := g.repo.SaveChunk(ctx, g.world.Name(), cid, blob, true); err != nil {
			metricPersistenceErrors.WithLabelValues(g.world.Name()).Inc()
			logging.Error("Не удалось сохранить чанк %d при остановке: %v", cid, err)
		}
	}
	logging.Info("Мир %s сохранён: %d чанков", g.world.Name(), len(ids))
}

// persistEntity сохраняет сущность: сериализация под блокировкой
// чтения, запись в базу — вне её.
func (g *Game) persistEntity(ctx context.Context, id uint64) {
	g.worldMu.RLock()
	snap, err := storage.SnapshotEntity(g.world, id)
	g.worldMu.RUnlock()
	if err == nil {
		err = g.repo.SaveEntity(ctx, g.world.Name(), snap.EntityID, snap.ChunkID, snap.Components)
	}
	if err != nil {
		metricPersistenceErrors.WithLabelValues(g.world.Name()).Inc()
		logging.Warn("Не удалось сохранить сущность %d: %v", id, err)
	}
}
