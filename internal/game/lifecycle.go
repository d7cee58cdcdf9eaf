package game

import (
	"context"

	"github.com/annel0/mmo-world/internal/logging"
	"github.com/annel0/mmo-world/internal/storage"
	"github.com/annel0/mmo-world/internal/vec"
)

// Жизненный цикл чанков: каждый тик резидентное множество сводится с
// желаемым, которое определяется позициями подключённых игроков.
//
// Для каждого чанка из desired ∪ current решение принимается по тройке
// (в базе, в памяти, желаем):
//
//	желаем, в памяти            -> no-op
//	желаем, нет в памяти, в БД  -> гидрация
//	желаем, нет нигде           -> генерация
//	не желаем, в памяти         -> эвикция
//
// Неудавшаяся генерация или запись логируется, тик продолжается:
// чанк остаётся в прежнем состоянии и будет обработан на следующем тике.
func (g *Game) reconcileChunks(ctx context.Context) {
	g.worldMu.RLock()
	desired := g.world.PlayersChunkRadius(g.opts.RenderDistance)
	current := g.world.LoadedIDs()
	g.worldMu.RUnlock()

	currentSet := make(map[vec.ChunkID]struct{}, len(current))
	for _, cid := range current {
		currentSet[cid] = struct{}{}
	}

	// Чанки, которые нужно поднять в память
	for cid := range desired {
		if _, inMem := currentSet[cid]; inMem {
			continue
		}
		g.materializeChunk(ctx, cid)
	}

	// Чанки, потерявшие спрос
	for _, cid := range current {
		if _, wanted := desired[cid]; wanted {
			continue
		}
		g.evictChunk(ctx, cid)
	}

	g.worldMu.RLock()
	metricResidentChunks.WithLabelValues(g.world.Name()).Set(float64(g.world.Chunks().Len()))
	g.worldMu.RUnlock()
}

// materializeChunk поднимает чанк в память: гидрацией из
// персистентности, если он там есть, иначе генерацией.
func (g *Game) materializeChunk(ctx context.Context, cid vec.ChunkID) {
	hydrated, ok, err := storage.FetchChunk(ctx, g.repo, g.world.Name(), cid)
	if err != nil {
		metricPersistenceErrors.WithLabelValues(g.world.Name()).Inc()
		logging.Warn("Гидрация чанка %d не удалась, повтор на следующем тике: %v", cid, err)
		return
	}

	if ok {
		g.worldMu.Lock()
		err = storage.ApplyHydratedChunk(g.world, cid, hydrated)
		g.worldMu.Unlock()
		if err != nil {
			logging.Warn("Применение чанка %d не удалось: %v", cid, err)
		}
		return
	}

	// Чанка нет в базе: генерация
	c := g.gen.GenerateChunk(cid, g.catalog)
	if c == nil {
		logging.Warn("Генератор вернул пустой чанк %d, повтор на следующем тике", cid)
		return
	}
	g.worldMu.Lock()
	g.world.InsertChunk(cid, c)
	g.worldMu.Unlock()
}

// evictChunk выгружает чанк двумя фазами: сначала персистентность
// каждой сущности, затем выгрузка из памяти и запись чанка с
// loaded=false. Падение между фазами оставляет сущности долговечными,
// а чанк — спящим до следующего приближения игрока.
func (g *Game) evictChunk(ctx context.Context, cid vec.ChunkID) {
	g.worldMu.RLock()
	entities := g.world.EntitiesInChunk(cid)
	g.worldMu.RUnlock()

	// Фаза 1: сущности сохраняются по одной, блокировка не
	// удерживается через вызовы базы
	for _, id := range entities {
		g.worldMu.RLock()
		snap, err := storage.SnapshotEntity(g.world, id)
		g.worldMu.RUnlock()
		if err == nil {
			err = g.repo.SaveEntity(ctx, g.world.Name(), snap.EntityID, snap.ChunkID, snap.Components)
		}
		if err != nil {
			metricPersistenceErrors.WithLabelValues(g.world.Name()).Inc()
			logging.Warn("Эвикция чанка %d отложена: сущность %d не сохранилась: %v", cid, id, err)
			return
		}
	}

	// Фаза 2: выгрузка из памяти и запись чанка
	g.worldMu.Lock()
	c, ok := g.world.UnloadChunk(cid)
	if ok {
		for _, id := range entities {
			g.world.Despawn(id)
		}
	}
	var blob []byte
	if ok {
		blob = c.Encode()
	}
	g.worldMu.Unlock()
	if !ok {
		return
	}

	if err := g.repo.SaveChunk(ctx, g.world.Name(), cid, blob, false); err != nil {
		metricPersistenceErrors.WithLabelValues(g.world.Name()).Inc()
		logging.Warn("Не удалось сохранить выгружаемый чанк %d: %v", cid, err)
	}
}
