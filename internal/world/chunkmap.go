package world

import "github.com/annel0/mmo-world/internal/vec"

// ChunkMap хранит резидентные чанки и множество идентификаторов чанков,
// изменённых с момента последней очистки трекера. Трекер очищается в
// конце каждого тика вместе с трекерами компонентов.
type ChunkMap struct {
	chunks  map[vec.ChunkID]*Chunk
	changed map[vec.ChunkID]struct{}
}

// NewChunkMap создаёт пустую карту чанков.
func NewChunkMap() *ChunkMap {
	return &ChunkMap{
		chunks:  make(map[vec.ChunkID]*Chunk),
		changed: make(map[vec.ChunkID]struct{}),
	}
}

// Add делает чанк резидентным и помечает его изменённым.
func (m *ChunkMap) Add(id vec.ChunkID, c *Chunk) {
	m.chunks[id] = c
	m.changed[id] = struct{}{}
}

// Get возвращает резидентный чанк.
func (m *ChunkMap) Get(id vec.ChunkID) (*Chunk, bool) {
	c, ok := m.chunks[id]
	return c, ok
}

// Remove выгружает чанк из памяти и возвращает его.
func (m *ChunkMap) Remove(id vec.ChunkID) (*Chunk, bool) {
	c, ok := m.chunks[id]
	if ok {
		delete(m.chunks, id)
		delete(m.changed, id)
	}
	return c, ok
}

// Contains проверяет резидентность чанка.
func (m *ChunkMap) Contains(id vec.ChunkID) bool {
	_, ok := m.chunks[id]
	return ok
}

// MarkChanged помечает чанк изменённым в текущем тике.
func (m *ChunkMap) MarkChanged(id vec.ChunkID) {
	if _, ok := m.chunks[id]; ok {
		m.changed[id] = struct{}{}
	}
}

// IsChanged проверяет, менялся ли чанк с последней очистки трекера.
func (m *ChunkMap) IsChanged(id vec.ChunkID) bool {
	_, ok := m.changed[id]
	return ok
}

// LoadedIDs возвращает идентификаторы всех резидентных чанков.
func (m *ChunkMap) LoadedIDs() []vec.ChunkID {
	ids := make([]vec.ChunkID, 0, len(m.chunks))
	for id := range m.chunks {
		ids = append(ids, id)
	}
	return ids
}

// Len возвращает количество резидентных чанков.
func (m *ChunkMap) Len() int {
	return len(m.chunks)
}

// ClearTrackers очищает множество изменённых чанков.
func (m *ChunkMap) ClearTrackers() {
	m.changed = make(map[vec.ChunkID]struct{})
}
