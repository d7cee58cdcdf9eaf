package storage

import (
	"context"
	"testing"

	"github.com/annel0/mmo-world/internal/vec"
	"github.com/annel0/mmo-world/internal/world"
	"github.com/annel0/mmo-world/internal/world/block"
	"github.com/annel0/mmo-world/internal/world/component"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoadEntityThroughAdapter(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryWorldRepo()
	_, err := repo.CreateWorld(ctx, "w1")
	require.NoError(t, err)

	w := world.NewWorld("w1", component.NewRegistry())
	id := w.Spawn()
	w.SetPosition(id, world.Position{Tile: vec.TilePos{X: 130, Y: 130}, LoadWithChunk: true})
	w.SetPlayer(id, world.Player{Username: "alice", LastPingEpoch: 5})

	require.NoError(t, SaveEntity(ctx, repo, w, id))

	// Сущность должна быть привязана к чанку своей позиции
	cid := vec.ChunkIDOf(vec.TilePos{X: 130, Y: 130})
	ids, err := repo.EntitiesInChunk(ctx, "w1", cid)
	require.NoError(t, err)
	assert.Contains(t, ids, id)

	// Загрузка в свежий мир восстанавливает компоненты
	w2 := world.NewWorld("w1", component.NewRegistry())
	require.NoError(t, LoadEntity(ctx, repo, w2, id))

	pos, ok := w2.PositionOf(id)
	require.True(t, ok)
	assert.Equal(t, vec.TilePos{X: 130, Y: 130}, pos.Tile)

	pl, ok := w2.PlayerOf(id)
	require.True(t, ok)
	assert.Equal(t, "alice", pl.Username)

	// Повторная загрузка — no-op
	require.NoError(t, LoadEntity(ctx, repo, w2, id))
	assert.Equal(t, 1, w2.EntityCount())
}

func TestEntityWithoutChunkBindingSavesNullChunk(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryWorldRepo()
	_, err := repo.CreateWorld(ctx, "w1")
	require.NoError(t, err)

	w := world.NewWorld("w1", component.NewRegistry())
	id := w.Spawn()
	w.SetPosition(id, world.Position{Tile: vec.TilePos{X: 130, Y: 130}, LoadWithChunk: false})

	require.NoError(t, SaveEntity(ctx, repo, w, id))

	cid := vec.ChunkIDOf(vec.TilePos{X: 130, Y: 130})
	ids, err := repo.EntitiesInChunk(ctx, "w1", cid)
	require.NoError(t, err)
	assert.NotContains(t, ids, id, "load_with_chunk=false означает chunk_id=NULL")
}

func TestLoadChunkAndEntities(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryWorldRepo()
	_, err := repo.CreateWorld(ctx, "w1")
	require.NoError(t, err)

	// Готовим персистентное состояние: чанк + сущность в нём
	seed := world.NewWorld("w1", component.NewRegistry())
	catalog := block.DefaultCatalog()
	gen := world.NewFlatGenerator()
	cid := vec.ChunkIDOf(vec.TilePos{X: 130, Y: 130})
	c := gen.GenerateChunk(cid, catalog)

	require.NoError(t, SaveChunk(ctx, repo, seed, cid, c, false))

	id := seed.Spawn()
	seed.SetPosition(id, world.Position{Tile: vec.TilePos{X: 130, Y: 130}, LoadWithChunk: true})
	require.NoError(t, SaveEntity(ctx, repo, seed, id))

	// Гидрируем в свежий мир
	w := world.NewWorld("w1", component.NewRegistry())
	ok, err := LoadChunkAndEntities(ctx, repo, w, cid)
	require.NoError(t, err)
	require.True(t, ok)

	assert.True(t, w.IsLoaded(cid), "чанк должен стать резидентным")
	assert.True(t, w.Exists(id), "сущность чанка должна загрузиться")

	loaded, err := repo.ChunksMarkedLoaded(ctx, "w1")
	require.NoError(t, err)
	assert.Contains(t, loaded, cid, "гидрация должна выставить loaded=true")

	got, ok := w.ChunkAt(cid)
	require.True(t, ok)
	assert.Equal(t, c.Blocks, got.Blocks)
	assert.True(t, got.ContainsEntity(id), "кэш сущностей чанка должен восстановиться")

	// Несуществующий чанк
	ok, err = LoadChunkAndEntities(ctx, repo, w, vec.ChunkIDFromCoords(900, 900))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRestoreResidency(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryWorldRepo()
	_, err := repo.CreateWorld(ctx, "w1")
	require.NoError(t, err)

	seed := world.NewWorld("w1", component.NewRegistry())
	catalog := block.DefaultCatalog()
	gen := world.NewFlatGenerator()

	resident := vec.ChunkIDFromCoords(1, 1)
	dormant := vec.ChunkIDFromCoords(2, 2)
	require.NoError(t, SaveChunk(ctx, repo, seed, resident, gen.GenerateChunk(resident, catalog), true))
	require.NoError(t, SaveChunk(ctx, repo, seed, dormant, gen.GenerateChunk(dormant, catalog), false))

	w := world.NewWorld("w1", component.NewRegistry())
	require.NoError(t, RestoreResidency(ctx, repo, w))

	assert.True(t, w.IsLoaded(resident), "чанк с loaded=true должен восстановиться")
	assert.False(t, w.IsLoaded(dormant), "спящий чанк не должен загружаться")
}
