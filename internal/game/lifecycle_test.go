package game

import (
	"context"
	"testing"
	"time"

	"github.com/annel0/mmo-world/internal/storage"
	"github.com/annel0/mmo-world/internal/vec"
	"github.com/annel0/mmo-world/internal/world"
	"github.com/annel0/mmo-world/internal/world/block"
	"github.com/annel0/mmo-world/internal/world/component"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGame(t *testing.T, renderDistance int) (*Game, *storage.MemoryWorldRepo) {
	t.Helper()
	repo := storage.NewMemoryWorldRepo()
	_, err := repo.CreateWorld(context.Background(), "w1")
	require.NoError(t, err)

	w := world.NewWorld("w1", component.NewRegistry())
	g := NewGame(w, repo, world.NewFlatGenerator(), block.DefaultCatalog(), nil, Options{
		TickInterval:   10 * time.Millisecond,
		RenderDistance: renderDistance,
		SendTimeout:    time.Second,
	})
	return g, repo
}

// spawnPlayerAt создаёт аватар игрока напрямую в мире.
func spawnPlayerAt(g *Game, username string, tile vec.TilePos) uint64 {
	g.worldMu.Lock()
	defer g.worldMu.Unlock()
	id := g.world.Spawn()
	g.world.SetPlayer(id, world.Player{Username: username})
	g.world.SetPosition(id, world.Position{Tile: tile, LoadWithChunk: false})
	return id
}

func TestReconcileGeneratesDesiredChunks(t *testing.T) {
	g, repo := newTestGame(t, 2)
	ctx := context.Background()
	spawnPlayerAt(g, "alice", vec.TilePos{X: 128, Y: 128})

	g.reconcileChunks(ctx)

	// Резидентное множество равно радиусу игрока
	g.worldMu.RLock()
	loaded := g.world.LoadedIDs()
	g.worldMu.RUnlock()
	assert.Len(t, loaded, 25, "радиус 2 должен дать 5x5 резидентных чанков")

	center := vec.ChunkIDOf(vec.TilePos{X: 128, Y: 128})
	g.worldMu.RLock()
	c, ok := g.world.ChunkAt(center)
	g.worldMu.RUnlock()
	require.True(t, ok)

	stone, _ := g.catalog.IDByName("stonefloor")
	assert.Equal(t, stone, c.Blocks[0][0], "новые чанки создаёт генератор")

	// Генерация не пишет в базу до эвикции/остановки
	has, err := repo.HasChunk(ctx, "w1", center)
	require.NoError(t, err)
	assert.False(t, has, "сгенерированный чанк попадёт в базу при следующем сохранении")
}

func TestReconcileHydratesFromPersistence(t *testing.T) {
	g, repo := newTestGame(t, 1)
	ctx := context.Background()

	// Персистентное состояние: чанк с нестандартным блоком и сущность в нём
	tile := vec.TilePos{X: 128, Y: 128}
	cid := vec.ChunkIDOf(tile)

	seed := world.NewWorld("w1", component.NewRegistry())
	c := world.NewChunk()
	water, _ := g.catalog.IDByName("water")
	c.Blocks[3][3] = water
	require.NoError(t, storage.SaveChunk(ctx, repo, seed, cid, c, false))

	npc := seed.Spawn()
	seed.SetPosition(npc, world.Position{Tile: tile, LoadWithChunk: true})
	require.NoError(t, storage.SaveEntity(ctx, repo, seed, npc))

	// Игрок приближается
	spawnPlayerAt(g, "alice", tile)
	g.reconcileChunks(ctx)

	g.worldMu.RLock()
	defer g.worldMu.RUnlock()
	got, ok := g.world.ChunkAt(cid)
	require.True(t, ok, "чанк из базы должен гидрироваться, а не генерироваться")
	assert.Equal(t, water, got.Blocks[3][3], "блоки должны прийти из базы")
	assert.True(t, g.world.Exists(npc), "сущности чанка должны загрузиться")
	assert.True(t, got.ContainsEntity(npc))
}

func TestEvictionIsTwoPhase(t *testing.T) {
	g, repo := newTestGame(t, 1)
	ctx := context.Background()

	tile := vec.TilePos{X: 128, Y: 128}
	cid := vec.ChunkIDOf(tile)
	playerID := spawnPlayerAt(g, "alice", tile)

	// Чанки поднимаются; NPC с load_with_chunk живёт в центре
	g.reconcileChunks(ctx)
	g.worldMu.Lock()
	npc := g.world.Spawn()
	g.world.SetPosition(npc, world.Position{Tile: tile, LoadWithChunk: true})
	g.world.RunBetweenTicks() // индекс должен увидеть NPC
	g.worldMu.Unlock()

	// Игрок уходит из мира: желаемое множество пустеет
	g.worldMu.Lock()
	g.world.Despawn(playerID)
	g.worldMu.Unlock()

	g.reconcileChunks(ctx)

	g.worldMu.RLock()
	loadedNow := g.world.LoadedIDs()
	npcAlive := g.world.Exists(npc)
	g.worldMu.RUnlock()

	assert.Empty(t, loadedNow, "без игроков резидентных чанков быть не должно")
	assert.False(t, npcAlive, "сущности выгруженного чанка покидают память")

	// Сущность долговечна и привязана к чанку
	ids, err := repo.EntitiesInChunk(ctx, "w1", cid)
	require.NoError(t, err)
	assert.Contains(t, ids, npc, "эвикция сначала сохраняет сущности")

	// Чанк сохранён со сброшенным флагом loaded
	has, err := repo.HasChunk(ctx, "w1", cid)
	require.NoError(t, err)
	assert.True(t, has)

	loaded, err := repo.ChunksMarkedLoaded(ctx, "w1")
	require.NoError(t, err)
	assert.NotContains(t, loaded, cid, "выгруженный чанк спит до следующего приближения")
}

func TestResidencyEqualsDemand(t *testing.T) {
	// P2: в конце тика резидентное множество равно объединению
	// радиусов всех игроков
	g, _ := newTestGame(t, 1)
	ctx := context.Background()

	spawnPlayerAt(g, "alice", vec.TilePos{X: 128, Y: 128})
	spawnPlayerAt(g, "bob", vec.TilePos{X: 10000, Y: 10000})

	g.reconcileChunks(ctx)

	g.worldMu.RLock()
	desired := g.world.PlayersChunkRadius(1)
	loaded := g.world.LoadedIDs()
	g.worldMu.RUnlock()

	assert.Len(t, loaded, len(desired))
	for _, cid := range loaded {
		assert.Contains(t, desired, cid)
	}
}

func TestShutdownPersistsResidency(t *testing.T) {
	g, repo := newTestGame(t, 1)
	ctx := context.Background()

	tile := vec.TilePos{X: 128, Y: 128}
	spawnPlayerAt(g, "alice", tile)
	g.reconcileChunks(ctx)

	g.shutdown()

	// Сценарий рестарта: новый мир восстанавливает то же резидентное
	// множество до подключения игроков
	restored := world.NewWorld("w1", component.NewRegistry())
	require.NoError(t, storage.RestoreResidency(ctx, repo, restored))
	assert.True(t, restored.IsLoaded(vec.ChunkIDOf(tile)),
		"персистентный флаг loaded должен восстановить резидентность")
	assert.Len(t, restored.LoadedIDs(), 9)
}

func TestDeletionQueueFlush(t *testing.T) {
	g, repo := newTestGame(t, 1)
	ctx := context.Background()

	g.worldMu.Lock()
	id := g.world.Spawn()
	g.worldMu.Unlock()

	require.NoError(t, repo.SaveEntity(ctx, "w1", id, nil, []storage.StoredComponent{
		{TypeName: "entity_id", Payload: []byte(`{"value":1}`)},
	}))

	g.worldMu.Lock()
	g.world.QueueDespawn(id)
	g.worldMu.Unlock()

	g.flushDeletions(ctx)

	g.worldMu.RLock()
	alive := g.world.Exists(id)
	g.worldMu.RUnlock()
	assert.False(t, alive, "отложенное удаление должно убрать сущность из памяти")

	comps, err := repo.LoadEntityComponents(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, comps, "отложенное удаление должно убрать сущность из базы")
}
