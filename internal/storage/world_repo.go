package storage

import (
	"context"
	"errors"

	"github.com/annel0/mmo-world/internal/vec"
)

// StoredComponent — строка таблицы components: имя типа и текстовый
// payload, произведённый кодеком реестра.
type StoredComponent struct {
	TypeName string
	Payload  []byte
}

// Доменные ошибки хранилища.
var (
	ErrWorldExists   = errors.New("world already exists")
	ErrWorldNotFound = errors.New("world not found")
)

// WorldRepo определяет контракт персистентности мира: шесть реляционных
// таблиц (worlds, chunks, entities, components, users, players) с
// идемпотентными upsert-операциями и каскадным удалением.
//
// Реализации: MariaWorldRepo (MariaDB/MySQL), BadgerWorldRepo
// (встраиваемая, для standalone-режима), MemoryWorldRepo (тесты).
type WorldRepo interface {
	// InitSchema создаёт таблицы, если их нет.
	InitSchema(ctx context.Context) error

	// CreateWorld вставляет мир; возвращает false для дубликата.
	CreateWorld(ctx context.Context, worldID string) (bool, error)
	// WorldExists проверяет наличие мира.
	WorldExists(ctx context.Context, worldID string) (bool, error)
	// ListWorlds возвращает идентификаторы всех миров.
	ListWorlds(ctx context.Context) ([]string, error)
	// DeleteWorld удаляет мир; каскад убирает чанки, сущности и компоненты.
	DeleteWorld(ctx context.Context, worldID string) error

	// HasChunk проверяет наличие чанка в персистентности.
	HasChunk(ctx context.Context, worldID string, cid vec.ChunkID) (bool, error)
	// SaveChunk идемпотентно сохраняет блоб чанка; флаг loaded
	// выставляется отдельным UPDATE вслед за upsert.
	SaveChunk(ctx context.Context, worldID string, cid vec.ChunkID, blob []byte, loaded bool) error
	// LoadChunkBlob возвращает блоб чанка.
	LoadChunkBlob(ctx context.Context, worldID string, cid vec.ChunkID) ([]byte, bool, error)
	// MarkChunkLoaded выставляет флаг loaded.
	MarkChunkLoaded(ctx context.Context, worldID string, cid vec.ChunkID, loaded bool) error
	// ChunksMarkedLoaded возвращает чанки с loaded=true; используется при
	// старте мира для восстановления резидентности.
	ChunksMarkedLoaded(ctx context.Context, worldID string) ([]vec.ChunkID, error)

	// EntitiesInChunk возвращает идентификаторы сущностей, чей
	// сохранённый chunk_id равен указанному.
	EntitiesInChunk(ctx context.Context, worldID string, cid vec.ChunkID) ([]uint64, error)
	// SaveEntity идемпотентно сохраняет сущность и все её компоненты.
	// chunkID равен nil для сущностей с load_with_chunk=false.
	SaveEntity(ctx context.Context, worldID string, entityID uint64, chunkID *vec.ChunkID, comps []StoredComponent) error
	// LoadEntityComponents возвращает все компоненты сущности.
	LoadEntityComponents(ctx context.Context, entityID uint64) ([]StoredComponent, error)
	// DeleteEntity удаляет сущность; каскад убирает компоненты.
	DeleteEntity(ctx context.Context, entityID uint64) error

	// GetPlayerEntity возвращает сущность-аватар пользователя в мире.
	GetPlayerEntity(ctx context.Context, username, worldID string) (uint64, bool, error)
	// CreatePlayer связывает пользователя с сущностью-аватаром.
	CreatePlayer(ctx context.Context, username, worldID string, entityID uint64) error

	Close() error
}
