package world

import (
	"log"

	"github.com/annel0/mmo-world/internal/vec"
	"github.com/annel0/mmo-world/internal/world/block"
)

// Пространственный индекс мира: entity -> позиция и chunk -> множество
// сущностей. Поддерживается двумя реактивными системами фазы
// between-ticks, которые читают трекеры колонки позиций. Внутри тика
// индекс согласован в конечном счёте, между тиками — строго.

// applyPositionChanges обрабатывает добавленные и изменённые позиции.
func applyPositionChanges(w *World) {
	col, ok := w.columns[w.positionType]
	if !ok {
		return
	}
	apply := func(h handle) {
		pos, ok := col.values[h]
		if !ok {
			return
		}
		w.indexPosition(h, pos.(Position).Tile)
	}
	for h := range col.added {
		apply(h)
	}
	for h := range col.changed {
		apply(h)
	}
}

// applyPositionRemovals очищает индекс для сущностей, потерявших позицию.
func applyPositionRemovals(w *World) {
	col, ok := w.columns[w.positionType]
	if !ok {
		return
	}
	for h := range col.removed {
		w.unindexPosition(h)
	}
}

func (w *World) indexPosition(h handle, tile vec.TilePos) {
	newChunk := vec.ChunkIDOf(tile)

	if old, ok := w.positions[h]; ok {
		oldChunk := vec.ChunkIDOf(old)
		if oldChunk != newChunk {
			w.removeFromChunkIndex(h, oldChunk)
		}
	}

	w.positions[h] = tile
	set, ok := w.chunkEntities[newChunk]
	if !ok {
		set = make(map[handle]struct{})
		w.chunkEntities[newChunk] = set
	}
	set[h] = struct{}{}

	if c, ok := w.chunks.Get(newChunk); ok {
		if id, ok := w.handleToUUID[h]; ok {
			c.AddEntity(id)
		}
	}
}

func (w *World) unindexPosition(h handle) {
	old, ok := w.positions[h]
	if !ok {
		return
	}
	delete(w.positions, h)
	w.removeFromChunkIndex(h, vec.ChunkIDOf(old))
}

func (w *World) removeFromChunkIndex(h handle, cid vec.ChunkID) {
	set, ok := w.chunkEntities[cid]
	if !ok {
		// Нарушение инварианта позиция-чанк: индекс знает позицию,
		// но обратная карта пуста.
		log.Panicf("рассинхронизация пространственного индекса: чанк %d не содержит сущность %d", cid, h)
	}
	delete(set, h)
	if len(set) == 0 {
		delete(w.chunkEntities, cid)
	}
	if c, ok := w.chunks.Get(cid); ok {
		if id, ok := w.handleToUUID[h]; ok {
			c.RemoveEntity(id)
		}
	}
}

// EntitiesInChunk возвращает внешние идентификаторы сущностей чанка
// через пространственный индекс и обратную карту идентичностей.
func (w *World) EntitiesInChunk(cid vec.ChunkID) []uint64 {
	set, ok := w.chunkEntities[cid]
	if !ok {
		return nil
	}
	res := make([]uint64, 0, len(set))
	for h := range set {
		if id, ok := w.handleToUUID[h]; ok {
			res = append(res, id)
		}
	}
	return res
}

// ChunkOfEntity возвращает чанк, которому принадлежит сущность по индексу.
func (w *World) ChunkOfEntity(externalID uint64) (vec.ChunkID, bool) {
	h, ok := w.uuidToHandle[externalID]
	if !ok {
		return 0, false
	}
	pos, ok := w.positions[h]
	if !ok {
		return 0, false
	}
	return vec.ChunkIDOf(pos), true
}

// PlayersChunkRadius возвращает объединение чанков в радиусе
// renderDistance вокруг каждой сущности, несущей и Position, и Player.
// Арифметика тайловых координат выполняется с переносом (мир — тор).
func (w *World) PlayersChunkRadius(renderDistance int) map[vec.ChunkID]struct{} {
	res := make(map[vec.ChunkID]struct{})
	playerCol, ok := w.columns[w.playerType]
	if !ok {
		return res
	}
	posCol, ok := w.columns[w.positionType]
	if !ok {
		return res
	}
	for h := range playerCol.values {
		posVal, ok := posCol.values[h]
		if !ok {
			continue
		}
		for _, cid := range vec.ChunksInRadius(posVal.(Position).Tile, renderDistance) {
			res[cid] = struct{}{}
		}
	}
	return res
}

// ===== Операции с чанками =====

// InsertChunk делает чанк резидентным и заполняет его кэш сущностей
// по пространственному индексу.
func (w *World) InsertChunk(cid vec.ChunkID, c *Chunk) {
	for _, id := range w.EntitiesInChunk(cid) {
		c.AddEntity(id)
	}
	w.chunks.Add(cid, c)
}

// UnloadChunk выгружает чанк из памяти и возвращает его.
func (w *World) UnloadChunk(cid vec.ChunkID) (*Chunk, bool) {
	return w.chunks.Remove(cid)
}

// IsLoaded проверяет резидентность чанка.
func (w *World) IsLoaded(cid vec.ChunkID) bool {
	return w.chunks.Contains(cid)
}

// LoadedIDs возвращает идентификаторы всех резидентных чанков.
func (w *World) LoadedIDs() []vec.ChunkID {
	return w.chunks.LoadedIDs()
}

// ChunkAt возвращает резидентный чанк.
func (w *World) ChunkAt(cid vec.ChunkID) (*Chunk, bool) {
	return w.chunks.Get(cid)
}

// Chunks даёт доступ к карте чанков (трекер изменений, статистика).
func (w *World) Chunks() *ChunkMap {
	return w.chunks
}

// SetBlockAt устанавливает блок по мировым координатам, если чанк
// резидентен, и помечает чанк изменённым.
func (w *World) SetBlockAt(pos vec.TilePos, id block.ID) bool {
	cid := vec.ChunkIDOf(pos)
	c, ok := w.chunks.Get(cid)
	if !ok {
		return false
	}
	local := pos.LocalInChunk()
	c.Blocks[local.X][local.Y] = id
	w.chunks.MarkChanged(cid)
	return true
}
