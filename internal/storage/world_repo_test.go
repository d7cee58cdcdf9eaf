package storage

import (
	"context"
	"testing"

	"github.com/annel0/mmo-world/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Общий набор тестов контракта WorldRepo; прогоняется и для памяти,
// и для BadgerDB.
func runWorldRepoContract(t *testing.T, repo WorldRepo) {
	ctx := context.Background()
	require.NoError(t, repo.InitSchema(ctx))

	t.Run("создание мира идемпотентно по ключу", func(t *testing.T) {
		created, err := repo.CreateWorld(ctx, "w1")
		require.NoError(t, err)
		assert.True(t, created)

		created, err = repo.CreateWorld(ctx, "w1")
		require.NoError(t, err)
		assert.False(t, created, "дубликат мира должен возвращать false")

		exists, err := repo.WorldExists(ctx, "w1")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("чанки и флаг loaded", func(t *testing.T) {
		cid := vec.ChunkIDFromCoords(4, 4)
		blob := []byte{'W', 'C', 1, 32, 9, 9, 9}

		has, err := repo.HasChunk(ctx, "w1", cid)
		require.NoError(t, err)
		assert.False(t, has)

		require.NoError(t, repo.SaveChunk(ctx, "w1", cid, blob, true))

		has, err = repo.HasChunk(ctx, "w1", cid)
		require.NoError(t, err)
		assert.True(t, has)

		got, ok, err := repo.LoadChunkBlob(ctx, "w1", cid)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, blob, got)

		loaded, err := repo.ChunksMarkedLoaded(ctx, "w1")
		require.NoError(t, err)
		assert.Contains(t, loaded, cid)

		// Повторное сохранение того же ключа — upsert
		require.NoError(t, repo.SaveChunk(ctx, "w1", cid, blob, false))
		loaded, err = repo.ChunksMarkedLoaded(ctx, "w1")
		require.NoError(t, err)
		assert.NotContains(t, loaded, cid, "флаг loaded должен сброситься")

		require.NoError(t, repo.MarkChunkLoaded(ctx, "w1", cid, true))
		loaded, err = repo.ChunksMarkedLoaded(ctx, "w1")
		require.NoError(t, err)
		assert.Contains(t, loaded, cid)
	})

	t.Run("сущности и компоненты", func(t *testing.T) {
		cid := vec.ChunkIDFromCoords(4, 4)
		comps := []StoredComponent{
			{TypeName: "position", Payload: []byte(`{"tile":{"X":130,"Y":130},"load_with_chunk":true}`)},
			{TypeName: "entity_id", Payload: []byte(`{"value":777}`)},
		}
		require.NoError(t, repo.SaveEntity(ctx, "w1", 777, &cid, comps))

		ids, err := repo.EntitiesInChunk(ctx, "w1", cid)
		require.NoError(t, err)
		assert.Contains(t, ids, uint64(777))

		got, err := repo.LoadEntityComponents(ctx, 777)
		require.NoError(t, err)
		assert.ElementsMatch(t, comps, got)

		// Повторное сохранение не дублирует компоненты
		require.NoError(t, repo.SaveEntity(ctx, "w1", 777, nil, comps))
		got, err = repo.LoadEntityComponents(ctx, 777)
		require.NoError(t, err)
		assert.Len(t, got, 2)

		// chunk_id=NULL исключает сущность из выборки по чанку
		ids, err = repo.EntitiesInChunk(ctx, "w1", cid)
		require.NoError(t, err)
		assert.NotContains(t, ids, uint64(777))
	})

	t.Run("удаление сущности каскадирует на компоненты", func(t *testing.T) {
		require.NoError(t, repo.SaveEntity(ctx, "w1", 888, nil, []StoredComponent{
			{TypeName: "player", Payload: []byte(`{"username":"bob","last_ping_epoch":0}`)},
		}))
		require.NoError(t, repo.DeleteEntity(ctx, 888))

		got, err := repo.LoadEntityComponents(ctx, 888)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("записи игроков", func(t *testing.T) {
		require.NoError(t, repo.SaveEntity(ctx, "w1", 999, nil, nil))
		require.NoError(t, repo.CreatePlayer(ctx, "alice", "w1", 999))

		eid, ok, err := repo.GetPlayerEntity(ctx, "alice", "w1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, uint64(999), eid)

		_, ok, err = repo.GetPlayerEntity(ctx, "nobody", "w1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("удаление мира каскадирует до компонентов", func(t *testing.T) {
		created, err := repo.CreateWorld(ctx, "doomed")
		require.NoError(t, err)
		require.True(t, created)

		cid := vec.ChunkIDFromCoords(1, 1)
		require.NoError(t, repo.SaveChunk(ctx, "doomed", cid, []byte{1, 2, 3}, true))
		require.NoError(t, repo.SaveEntity(ctx, "doomed", 555, &cid, []StoredComponent{
			{TypeName: "position", Payload: []byte(`{}`)},
		}))

		require.NoError(t, repo.DeleteWorld(ctx, "doomed"))

		exists, err := repo.WorldExists(ctx, "doomed")
		require.NoError(t, err)
		assert.False(t, exists)

		_, ok, err := repo.LoadChunkBlob(ctx, "doomed", cid)
		require.NoError(t, err)
		assert.False(t, ok, "чанки мира должны быть удалены")

		comps, err := repo.LoadEntityComponents(ctx, 555)
		require.NoError(t, err)
		assert.Empty(t, comps, "компоненты сущностей мира должны быть удалены")
	})
}

func TestMemoryWorldRepoContract(t *testing.T) {
	runWorldRepoContract(t, NewMemoryWorldRepo())
}

func TestBadgerWorldRepoContract(t *testing.T) {
	repo, err := NewBadgerWorldRepo(t.TempDir())
	require.NoError(t, err)
	defer repo.Close()

	runWorldRepoContract(t, repo)
}
