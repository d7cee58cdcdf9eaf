package game

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/annel0/mmo-world/internal/auth"
	"github.com/annel0/mmo-world/internal/network"
	"github.com/annel0/mmo-world/internal/vec"
	"github.com/annel0/mmo-world/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClient — клиентская половина pipe-соединения, собирающая ответы.
type testClient struct {
	conn      net.Conn
	responses chan *network.Response
}

func newTestClient(t *testing.T) (*testClient, *network.Connection) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	client := &testClient{
		conn:      clientSide,
		responses: make(chan *network.Response, 64),
	}
	go client.readLoop()
	t.Cleanup(func() { clientSide.Close() })

	return client, network.NewConnection(serverSide, network.JSONCodec{}, time.Second)
}

func (c *testClient) readLoop() {
	for {
		frame, err := network.ReadFrame(c.conn)
		if err != nil {
			close(c.responses)
			return
		}
		var resp network.Response
		if json.Unmarshal(frame, &resp) == nil {
			c.responses <- &resp
		}
	}
}

// waitFor ждёт ответ указанного типа.
func (c *testClient) waitFor(t *testing.T, respType string) *network.Response {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case resp, ok := <-c.responses:
			if !ok {
				t.Fatalf("соединение закрыто до получения %s", respType)
			}
			if resp.Type == respType {
				return resp
			}
		case <-deadline:
			t.Fatalf("не дождались ответа %s", respType)
		}
	}
}

func claimsFor(username string, admin bool) *auth.ServerClaims {
	return &auth.ServerClaims{UserName: username, IsAdmin: admin}
}

func TestSpawnCreatesAndReloadsAvatar(t *testing.T) {
	g, repo := newTestGame(t, 1)
	ctx := context.Background()
	_, conn := newTestClient(t)

	// Спавн без входа в мир отклоняется
	resp := g.handleSpawn(ctx, "alice", nil)
	assert.Equal(t, network.RespTypeError, resp.Type)

	require.Equal(t, network.RespTypeOk, g.handleJoin("alice", conn).Type)

	resp = g.handleSpawn(ctx, "alice", nil)
	require.Equal(t, network.RespTypeOk, resp.Type)

	g.worldMu.RLock()
	entityID, spawned := g.world.PlayerByUsername("alice")
	pos, hasPos := g.world.PositionOf(entityID)
	g.worldMu.RUnlock()
	require.True(t, spawned, "после спавна аватар существует")
	require.True(t, hasPos)
	assert.Equal(t, vec.TilePos{X: 128, Y: 128}, pos.Tile, "новый аватар появляется в точке спавна")
	assert.False(t, pos.LoadWithChunk, "аватар не привязан к чанку")

	// Запись игрока создана
	storedID, exists, err := repo.GetPlayerEntity(ctx, "alice", "w1")
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, entityID, storedID)

	// Повторный спавн — no-op
	require.Equal(t, network.RespTypeOk, g.handleSpawn(ctx, "alice", nil).Type)

	// Отключение и повторный вход загружают тот же аватар
	g.removeUser(ctx, "alice")
	g.worldMu.RLock()
	_, stillThere := g.world.PlayerByUsername("alice")
	g.worldMu.RUnlock()
	require.False(t, stillThere, "после отключения аватар деспавнен")

	_, conn2 := newTestClient(t)
	require.Equal(t, network.RespTypeOk, g.handleJoin("alice", conn2).Type)
	require.Equal(t, network.RespTypeOk, g.handleSpawn(ctx, "alice", nil).Type)

	g.worldMu.RLock()
	reloadedID, ok := g.world.PlayerByUsername("alice")
	g.worldMu.RUnlock()
	require.True(t, ok)
	assert.Equal(t, entityID, reloadedID, "повторный спавн загружает сохранённый аватар")
}

func TestPlayerListAndChat(t *testing.T) {
	g, _ := newTestGame(t, 1)
	aliceClient, aliceConn := newTestClient(t)
	bobClient, bobConn := newTestClient(t)

	g.handleJoin("alice", aliceConn)
	g.handleJoin("bob", bobConn)

	resp := g.handlePlayerList()
	assert.ElementsMatch(t, []string{"alice", "bob"}, resp.Players)

	require.Equal(t, network.RespTypeOk, g.handleSendChat("alice", "всем привет").Type)

	for _, client := range []*testClient{aliceClient, bobClient} {
		msg := client.waitFor(t, network.RespTypeChatMessage)
		assert.Equal(t, "всем привет", msg.Message)
		assert.Equal(t, "alice", msg.Username)
	}

	assert.Equal(t, network.RespTypeError, g.handleSendChat("alice", "").Type,
		"пустое сообщение отклоняется")
}

func TestTickedSnapshotCoversPlayerRadius(t *testing.T) {
	g, _ := newTestGame(t, 2)
	ctx := context.Background()
	client, conn := newTestClient(t)

	require.Equal(t, network.RespTypeOk, g.handleJoin("alice", conn).Type)
	require.Equal(t, network.RespTypeOk, g.handleSpawn(ctx, "alice", nil).Type)

	g.tick(ctx)

	ticked := client.waitFor(t, network.RespTypeTicked)
	assert.Equal(t, "w1", ticked.WorldName)

	got := make(map[uint64]struct{}, len(ticked.Chunks))
	for _, c := range ticked.Chunks {
		got[c.ChunkID] = struct{}{}
		// Блоб каждого чанка декодируется
		_, err := world.DecodeChunk(c.Blocks)
		assert.NoError(t, err)
	}

	for _, cid := range vec.ChunksInRadius(vec.TilePos{X: 128, Y: 128}, 2) {
		assert.Contains(t, got, uint64(cid), "снапшот должен покрывать весь радиус игрока")
	}

	// Сущности снапшота содержат аватар
	foundAvatar := false
	for _, e := range ticked.Entities {
		for _, name := range e.Components {
			if name == "player" {
				foundAvatar = true
			}
		}
	}
	assert.True(t, foundAvatar, "снапшот должен перечислять аватар игрока")
}

func TestLeaveRemovesConnectionAndAvatar(t *testing.T) {
	g, _ := newTestGame(t, 1)
	ctx := context.Background()
	_, conn := newTestClient(t)

	assert.Equal(t, network.RespTypeError, g.handleLeave(ctx, "alice").Type,
		"Leave без Join отклоняется")

	g.handleJoin("alice", conn)
	require.Equal(t, network.RespTypeOk, g.handleSpawn(ctx, "alice", nil).Type)
	require.Equal(t, network.RespTypeOk, g.handleLeave(ctx, "alice").Type)

	assert.Empty(t, g.Players())
	g.worldMu.RLock()
	_, spawned := g.world.PlayerByUsername("alice")
	g.worldMu.RUnlock()
	assert.False(t, spawned)
}

func TestDisconnectionEviction(t *testing.T) {
	// Сценарий: обрыв сокета -> в течение тика соединение и аватар
	// исчезают, на следующем тике чанки радиуса переходят в эвикцию
	g, _ := newTestGame(t, 1)
	ctx := context.Background()
	client, conn := newTestClient(t)

	require.Equal(t, network.RespTypeOk, g.handleJoin("alice", conn).Type)
	require.Equal(t, network.RespTypeOk, g.handleSpawn(ctx, "alice", nil).Type)
	g.tick(ctx)
	client.waitFor(t, network.RespTypeTicked)

	g.worldMu.RLock()
	hadChunks := len(g.world.LoadedIDs())
	g.worldMu.RUnlock()
	require.Equal(t, 9, hadChunks)

	// Обрыв сокета: следующая отправка падает и помечает отключение
	client.conn.Close()
	g.tick(ctx)

	// Ожидаем, пока фоновая отправка обнаружит обрыв
	require.Eventually(t, func() bool {
		return len(g.pendingDisconnects) > 0
	}, 2*time.Second, 10*time.Millisecond, "обрыв должен пометить пользователя на отключение")

	g.tick(ctx)

	assert.Empty(t, g.Players(), "таблица соединений не должна содержать alice")
	g.worldMu.RLock()
	_, spawned := g.world.PlayerByUsername("alice")
	g.worldMu.RUnlock()
	assert.False(t, spawned, "аватар должен быть деспавнен")

	// Желаемое множество сжалось: чанки выгружаются
	g.tick(ctx)
	g.worldMu.RLock()
	left := len(g.world.LoadedIDs())
	g.worldMu.RUnlock()
	assert.Zero(t, left, "чанки бывшего радиуса должны эвиктиться")
}
