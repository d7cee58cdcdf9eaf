package game

import (
	"context"
	"encoding/json"
	"time"

	"github.com/annel0/mmo-world/internal/auth"
	"github.com/annel0/mmo-world/internal/logging"
	"github.com/annel0/mmo-world/internal/network"
	"github.com/annel0/mmo-world/internal/storage"
	"github.com/annel0/mmo-world/internal/vec"
	"github.com/annel0/mmo-world/internal/world"
)

// Точка появления новых аватаров.
var defaultSpawnTile = vec.TilePos{X: 128, Y: 128}

// HandleRequest обрабатывает world-scoped запрос от аутентифицированного
// пользователя. Диспетчер сервера гарантирует claims != nil.
func (g *Game) HandleRequest(ctx context.Context, req *network.Request, claims *auth.ServerClaims, conn *network.Connection) *network.Response {
	switch req.Type {
	case network.ReqJoin:
		return g.handleJoin(claims.UserName, conn)
	case network.ReqLeave:
		return g.handleLeave(ctx, claims.UserName)
	case network.ReqSpawn:
		return g.handleSpawn(ctx, claims.UserName, req.PlayerParameters)
	case network.ReqSendChat:
		return g.handleSendChat(claims.UserName, req.Message)
	case network.ReqPlayerList:
		return g.handlePlayerList()
	default:
		return network.Error("неизвестный тип запроса: " + req.Type)
	}
}

// handleJoin вставляет соединение в таблицу активных подключений мира.
func (g *Game) handleJoin(username string, conn *network.Connection) *network.Response {
	g.connsMu.Lock()
	old, had := g.conns[username]
	g.conns[username] = conn
	g.connsMu.Unlock()

	if had && old != conn {
		old.Close()
	}
	logging.Info("Пользователь %s вошёл в мир %s", username, g.world.Name())
	return network.Ok()
}

// handleLeave убирает соединение и деспавнит аватар.
func (g *Game) handleLeave(ctx context.Context, username string) *network.Response {
	g.connsMu.RLock()
	_, joined := g.conns[username]
	g.connsMu.RUnlock()
	if !joined {
		return network.Error("пользователь не находится в мире")
	}
	g.removeUser(ctx, username)
	return network.Ok()
}

// handleSpawn создаёт аватар пользователя или загружает ранее
// сохранённый. Успешный ответ всегда предшествует первому Ticked,
// который может ссылаться на заспавненную сущность: рассылка идёт в
// конце тика, а обработчик завершается до неё.
func (g *Game) handleSpawn(ctx context.Context, username string, params json.RawMessage) *network.Response {
	g.connsMu.RLock()
	_, joined := g.conns[username]
	g.connsMu.RUnlock()
	if !joined {
		return network.Error("перед спавном необходимо войти в мир")
	}

	g.worldMu.RLock()
	_, alreadySpawned := g.world.PlayerByUsername(username)
	g.worldMu.RUnlock()
	if alreadySpawned {
		return network.Ok()
	}

	// Существующая запись игрока: загрузка сохранённого аватара
	entityID, exists, err := g.repo.GetPlayerEntity(ctx, username, g.world.Name())
	if err != nil {
		logging.Warn("Не удалось найти запись игрока %s: %v", username, err)
		return network.Error("внутренняя ошибка спавна")
	}
	if exists {
		hydrated, err := storage.FetchEntity(ctx, g.repo, entityID)
		if err != nil {
			logging.Warn("Не удалось загрузить аватар игрока %s: %v", username, err)
			return network.Error("внутренняя ошибка спавна")
		}
		g.worldMu.Lock()
		err = storage.ApplyEntity(g.world, hydrated)
		g.worldMu.Unlock()
		if err != nil {
			logging.Warn("Не удалось применить аватар игрока %s: %v", username, err)
			return network.Error("внутренняя ошибка спавна")
		}
		logging.Info("Аватар игрока %s (%d) загружен в мир %s", username, entityID, g.world.Name())
		return network.Ok()
	}

	// Новый аватар
	g.worldMu.Lock()
	newID := g.world.Spawn()
	g.world.SetPlayer(newID, world.Player{
		Username:      username,
		LastPingEpoch: uint64(time.Now().Unix()),
	})
	g.world.SetPosition(newID, world.Position{Tile: defaultSpawnTile, LoadWithChunk: false})
	snap, snapErr := storage.SnapshotEntity(g.world, newID)
	g.worldMu.Unlock()

	if snapErr != nil {
		logging.Warn("Не удалось сериализовать новый аватар %s: %v", username, snapErr)
		return network.Error("внутренняя ошибка спавна")
	}
	if err := g.repo.SaveEntity(ctx, g.world.Name(), snap.EntityID, snap.ChunkID, snap.Components); err != nil {
		logging.Warn("Не удалось сохранить новый аватар %s: %v", username, err)
		return network.Error("внутренняя ошибка спавна")
	}
	if err := g.repo.CreatePlayer(ctx, username, g.world.Name(), newID); err != nil {
		logging.Warn("Не удалось создать запись игрока %s: %v", username, err)
		return network.Error("внутренняя ошибка спавна")
	}

	logging.Info("Создан аватар игрока %s (%d) в мире %s", username, newID, g.world.Name())
	return network.Ok()
}

// handleSendChat рассылает сообщение всем активным соединениям мира.
func (g *Game) handleSendChat(username, message string) *network.Response {
	if message == "" {
		return network.Error("пустое сообщение")
	}

	g.connsMu.RLock()
	targets := make([]*network.Connection, 0, len(g.conns))
	for _, conn := range g.conns {
		targets = append(targets, conn)
	}
	g.connsMu.RUnlock()

	broadcast := network.ChatMessage(message, username)
	for _, conn := range targets {
		go func(c *network.Connection) {
			if err := c.Send(broadcast); err != nil {
				logging.Debug("Не удалось доставить сообщение чата: %v", err)
			}
		}(conn)
	}

	if g.bus != nil {
		payload, _ := json.Marshal(map[string]string{"username": username, "message": message})
		g.bus.PublishWorldEvent(g.world.Name(), "chat", payload)
	}
	return network.Ok()
}

// handlePlayerList возвращает имена пользователей с активными
// соединениями в мире.
func (g *Game) handlePlayerList() *network.Response {
	g.connsMu.RLock()
	players := make([]string, 0, len(g.conns))
	for username := range g.conns {
		players = append(players, username)
	}
	g.connsMu.RUnlock()
	return network.PlayerList(players)
}

// Players возвращает список подключённых игроков (для REST API).
func (g *Game) Players() []string {
	return g.handlePlayerList().Players
}

// Disconnect помечает пользователя на отключение (вызывается
// диспетчером при ошибке чтения соединения).
func (g *Game) Disconnect(username string) {
	g.markDisconnect(username)
}
