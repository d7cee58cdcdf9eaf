package storage

import (
	"context"
	"fmt"

	"github.com/annel0/mmo-world/internal/vec"
	"github.com/annel0/mmo-world/internal/world"
)

// Адаптер персистентности: операции над живым миром поверх WorldRepo.
// Кодирование чанков и компонентов выполняется здесь, репозитории
// работают только со строками таблиц.

// SaveChunk кодирует блоки чанка в бинарный блоб и сохраняет его.
func SaveChunk(ctx context.Context, repo WorldRepo, w *world.World, cid vec.ChunkID, c *world.Chunk, loaded bool) error {
	return repo.SaveChunk(ctx, w.Name(), cid, c.Encode(), loaded)
}

// HydratedEntity — сущность, прочитанная из персистентности и ещё не
// применённая к миру.
type HydratedEntity struct {
	EntityID   uint64
	Components []StoredComponent
}

// HydratedChunk — чанк с сущностями, прочитанный из персистентности.
type HydratedChunk struct {
	Chunk    *world.Chunk
	Entities []HydratedEntity
}

// FetchEntity читает сущность из персистентности без обращения к миру.
func FetchEntity(ctx context.Context, repo WorldRepo, entityID uint64) (HydratedEntity, error) {
	comps, err := repo.LoadEntityComponents(ctx, entityID)
	if err != nil {
		return HydratedEntity{}, fmt.Errorf("не удалось загрузить компоненты сущности %d: %w", entityID, err)
	}
	return HydratedEntity{EntityID: entityID, Components: comps}, nil
}

// ApplyEntity применяет прочитанную сущность к миру: создаёт запись с
// известным идентификатором и прикрепляет каждый сохранённый компонент
// через кодек реестра. Чисто in-memory операция: вызывающая сторона
// держит блокировку мира ровно на время применения.
func ApplyEntity(w *world.World, e HydratedEntity) error {
	if w.Exists(e.EntityID) {
		return nil
	}
	w.SpawnWithID(e.EntityID)
	for _, c := range e.Components {
		if err := w.Attach(e.EntityID, c.TypeName, c.Payload); err != nil {
			return fmt.Errorf("не удалось прикрепить компонент %s к сущности %d: %w", c.TypeName, e.EntityID, err)
		}
	}
	return nil
}

// LoadEntity загружает сущность из персистентности и применяет её к миру.
func LoadEntity(ctx context.Context, repo WorldRepo, w *world.World, entityID uint64) error {
	e, err := FetchEntity(ctx, repo, entityID)
	if err != nil {
		return err
	}
	return ApplyEntity(w, e)
}

// EncodedEntity — сериализованное состояние сущности, готовое к записи.
type EncodedEntity struct {
	EntityID   uint64
	ChunkID    *vec.ChunkID
	Components []StoredComponent
}

// SnapshotEntity сериализует сущность без обращения к персистентности:
// вызывающая сторона держит блокировку мира только на время снимка.
// Ссылка на чанк заполняется лишь для load_with_chunk; иначе NULL.
func SnapshotEntity(w *world.World, entityID uint64) (EncodedEntity, error) {
	res := EncodedEntity{EntityID: entityID}
	if pos, ok := w.PositionOf(entityID); ok && pos.LoadWithChunk {
		cid := vec.ChunkIDOf(pos.Tile)
		res.ChunkID = &cid
	}

	encoded, err := w.EncodedComponents(entityID)
	if err != nil {
		return EncodedEntity{}, fmt.Errorf("не удалось сериализовать сущность %d: %w", entityID, err)
	}
	for _, c := range encoded {
		res.Components = append(res.Components, StoredComponent{TypeName: c.TypeName, Payload: c.Payload})
	}
	return res, nil
}

// SaveEntity идемпотентно сохраняет сущность: строку entities со
// ссылкой на чанк (только для load_with_chunk) и upsert каждого
// компонента.
func SaveEntity(ctx context.Context, repo WorldRepo, w *world.World, entityID uint64) error {
	snap, err := SnapshotEntity(w, entityID)
	if err != nil {
		return err
	}
	return repo.SaveEntity(ctx, w.Name(), entityID, snap.ChunkID, snap.Components)
}

// FetchChunk читает чанк и его сущности из персистентности и выставляет
// loaded=true. К миру не обращается: применение выполняется отдельно
// через ApplyHydratedChunk под блокировкой мира.
func FetchChunk(ctx context.Context, repo WorldRepo, worldID string, cid vec.ChunkID) (HydratedChunk, bool, error) {
	blob, ok, err := repo.LoadChunkBlob(ctx, worldID, cid)
	if err != nil {
		return HydratedChunk{}, false, fmt.Errorf("не удалось прочитать чанк %d: %w", cid, err)
	}
	if !ok {
		return HydratedChunk{}, false, nil
	}
	c, err := world.DecodeChunk(blob)
	if err != nil {
		return HydratedChunk{}, false, fmt.Errorf("повреждённый блоб чанка %d: %w", cid, err)
	}
	if err := repo.MarkChunkLoaded(ctx, worldID, cid, true); err != nil {
		return HydratedChunk{}, false, fmt.Errorf("не удалось пометить чанк %d загруженным: %w", cid, err)
	}

	entityIDs, err := repo.EntitiesInChunk(ctx, worldID, cid)
	if err != nil {
		return HydratedChunk{}, false, fmt.Errorf("не удалось перечислить сущности чанка %d: %w", cid, err)
	}
	res := HydratedChunk{Chunk: c}
	for _, id := range entityIDs {
		e, err := FetchEntity(ctx, repo, id)
		if err != nil {
			return HydratedChunk{}, false, err
		}
		res.Entities = append(res.Entities, e)
	}
	return res, true, nil
}

// ApplyHydratedChunk применяет прочитанный чанк к миру: загружает его
// сущности, восстанавливает кэш сущностей чанка и делает чанк
// резидентным.
func ApplyHydratedChunk(w *world.World, cid vec.ChunkID, h HydratedChunk) error {
	for _, e := range h.Entities {
		if err := ApplyEntity(w, e); err != nil {
			return err
		}
		h.Chunk.AddEntity(e.EntityID)
	}
	w.InsertChunk(cid, h.Chunk)
	return nil
}

// LoadChunkAndEntities гидрирует чанк: декодирует блоб, выставляет
// loaded=true и загружает каждую сущность, чей сохранённый chunk_id
// равен этому чанку. Возвращает false, если чанка нет в персистентности.
func LoadChunkAndEntities(ctx context.Context, repo WorldRepo, w *world.World, cid vec.ChunkID) (bool, error) {
	h, ok, err := FetchChunk(ctx, repo, w.Name(), cid)
	if err != nil || !ok {
		return ok, err
	}
	if err := ApplyHydratedChunk(w, cid, h); err != nil {
		return false, err
	}
	return true, nil
}

// RestoreResidency восстанавливает резидентное множество предыдущего
// завершения: гидрирует каждый чанк с loaded=true.
func RestoreResidency(ctx context.Context, repo WorldRepo, w *world.World) error {
	ids, err := repo.ChunksMarkedLoaded(ctx, w.Name())
	if err != nil {
		return fmt.Errorf("не удалось перечислить загруженные чанки: %w", err)
	}
	for _, cid := range ids {
		if _, err := LoadChunkAndEntities(ctx, repo, w, cid); err != nil {
			return err
		}
	}
	return nil
}
