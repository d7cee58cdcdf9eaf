package world

import "github.com/annel0/mmo-world/internal/vec"

// Канонические имена встроенных типов компонентов. Имена стабильны:
// от них зависят идентификаторы типов и содержимое таблицы components.
const (
	PositionTypeName = "position"
	PlayerTypeName   = "player"
	EntityIDTypeName = "entity_id"
)

// Position привязывает сущность к тайлу мира. LoadWithChunk определяет,
// ссылается ли сохранённая запись сущности на её чанк (и поднимается ли
// сущность вместе с ним при гидрации); иначе chunk_id равен NULL.
// Эвикция чанка выгружает все сущности его индекса независимо от флага.
type Position struct {
	Tile          vec.TilePos `json:"tile"`
	LoadWithChunk bool        `json:"load_with_chunk"`
}

// Player помечает сущность как аватар подключённого пользователя.
type Player struct {
	Username      string `json:"username"`
	LastPingEpoch uint64 `json:"last_ping_epoch"`
}

// EntityID хранит внешний 64-битный идентификатор сущности — единственную
// форму идентичности, видимую за пределами мира.
type EntityID struct {
	Value uint64 `json:"value"`
}
