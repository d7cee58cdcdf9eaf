package storage

import (
	"context"
	"sync"

	"github.com/annel0/mmo-world/internal/vec"
)

// MemoryWorldRepo — реализация WorldRepo в памяти для тестов и
// прототипирования. Повторяет семантику реляционной схемы, включая
// каскадное удаление.
type MemoryWorldRepo struct {
	mu      sync.RWMutex
	worlds  map[string]struct{}
	chunks  map[string]map[vec.ChunkID]*memChunkRow
	ents    map[uint64]*memEntityRow
	comps   map[uint64]map[string][]byte
	players map[string]map[string]uint64 // world -> username -> entity
}

type memChunkRow struct {
	blob   []byte
	loaded bool
}

type memEntityRow struct {
	worldID string
	chunkID *vec.ChunkID
}

// NewMemoryWorldRepo создаёт пустое хранилище.
func NewMemoryWorldRepo() *MemoryWorldRepo {
	return &MemoryWorldRepo{
		worlds:  make(map[string]struct{}),
		chunks:  make(map[string]map[vec.ChunkID]*memChunkRow),
		ents:    make(map[uint64]*memEntityRow),
		comps:   make(map[uint64]map[string][]byte),
		players: make(map[string]map[string]uint64),
	}
}

// InitSchema — no-op для памяти.
func (r *MemoryWorldRepo) InitSchema(ctx context.Context) error {
	return nil
}

// CreateWorld вставляет мир; false для дубликата.
func (r *MemoryWorldRepo) CreateWorld(ctx context.Context, worldID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.worlds[worldID]; ok {
		return false, nil
	}
	r.worlds[worldID] = struct{}{}
	r.chunks[worldID] = make(map[vec.ChunkID]*memChunkRow)
	r.players[worldID] = make(map[string]uint64)
	return true, nil
}

// WorldExists проверяет наличие мира.
func (r *MemoryWorldRepo) WorldExists(ctx context.Context, worldID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.worlds[worldID]
	return ok, nil
}

// ListWorlds возвращает идентификаторы всех миров.
func (r *MemoryWorldRepo) ListWorlds(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]string, 0, len(r.worlds))
	for id := range r.worlds {
		res = append(res, id)
	}
	return res, nil
}

// DeleteWorld удаляет мир с каскадом: чанки, сущности, компоненты,
// записи игроков.
func (r *MemoryWorldRepo) DeleteWorld(ctx context.Context, worldID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.worlds, worldID)
	delete(r.chunks, worldID)
	delete(r.players, worldID)
	for id, ent := range r.ents {
		if ent.worldID == worldID {
			delete(r.ents, id)
			delete(r.comps, id)
		}
	}
	return nil
}

// HasChunk проверяет наличие чанка.
func (r *MemoryWorldRepo) HasChunk(ctx context.Context, worldID string, cid vec.ChunkID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.chunks[worldID][cid]
	return ok, nil
}

// SaveChunk идемпотентно сохраняет блоб и флаг.
func (r *MemoryWorldRepo) SaveChunk(ctx context.Context, worldID string, cid vec.ChunkID, blob []byte, loaded bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	world, ok := r.chunks[worldID]
	if !ok {
		return ErrWorldNotFound
	}
	world[cid] = &memChunkRow{blob: append([]byte(nil), blob...), loaded: loaded}
	return nil
}

// LoadChunkBlob возвращает блоб чанка.
func (r *MemoryWorldRepo) LoadChunkBlob(ctx context.Context, worldID string, cid vec.ChunkID) ([]byte, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.chunks[worldID][cid]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), row.blob...), true, nil
}

// MarkChunkLoaded выставляет флаг loaded.
func (r *MemoryWorldRepo) MarkChunkLoaded(ctx context.Context, worldID string, cid vec.ChunkID, loaded bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.chunks[worldID][cid]; ok {
		row.loaded = loaded
	}
	return nil
}

// ChunksMarkedLoaded возвращает чанки с loaded=true.
func (r *MemoryWorldRepo) ChunksMarkedLoaded(ctx context.Context, worldID string) ([]vec.ChunkID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []vec.ChunkID
	for cid, row := range r.chunks[worldID] {
		if row.loaded {
			res = append(res, cid)
		}
	}
	return res, nil
}

// EntitiesInChunk возвращает сущности, сохранённые в чанке.
func (r *MemoryWorldRepo) EntitiesInChunk(ctx context.Context, worldID string, cid vec.ChunkID) ([]uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []uint64
	for id, ent := range r.ents {
		if ent.worldID == worldID && ent.chunkID != nil && *ent.chunkID == cid {
			res = append(res, id)
		}
	}
	return res, nil
}

// SaveEntity идемпотентно сохраняет сущность и компоненты.
func (r *MemoryWorldRepo) SaveEntity(ctx context.Context, worldID string, entityID uint64, chunkID *vec.ChunkID, comps []StoredComponent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ref *vec.ChunkID
	if chunkID != nil {
		cid := *chunkID
		ref = &cid
	}
	r.ents[entityID] = &memEntityRow{worldID: worldID, chunkID: ref}
	if _, ok := r.comps[entityID]; !ok {
		r.comps[entityID] = make(map[string][]byte)
	}
	for _, c := range comps {
		r.comps[entityID][c.TypeName] = append([]byte(nil), c.Payload...)
	}
	return nil
}

// LoadEntityComponents возвращает компоненты сущности.
func (r *MemoryWorldRepo) LoadEntityComponents(ctx context.Context, entityID uint64) ([]StoredComponent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []StoredComponent
	for name, payload := range r.comps[entityID] {
		res = append(res, StoredComponent{TypeName: name, Payload: append([]byte(nil), payload...)})
	}
	return res, nil
}

// DeleteEntity удаляет сущность и каскадом её компоненты и запись игрока.
func (r *MemoryWorldRepo) DeleteEntity(ctx context.Context, entityID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ents, entityID)
	delete(r.comps, entityID)
	for _, players := range r.players {
		for username, id := range players {
			if id == entityID {
				delete(players, username)
			}
		}
	}
	return nil
}

// GetPlayerEntity возвращает аватар пользователя в мире.
func (r *MemoryWorldRepo) GetPlayerEntity(ctx context.Context, username, worldID string) (uint64, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.players[worldID][username]
	return id, ok, nil
}

// CreatePlayer связывает пользователя с сущностью.
func (r *MemoryWorldRepo) CreatePlayer(ctx context.Context, username, worldID string, entityID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	players, ok := r.players[worldID]
	if !ok {
		return ErrWorldNotFound
	}
	players[username] = entityID
	return nil
}

// Close — no-op.
func (r *MemoryWorldRepo) Close() error {
	return nil
}
