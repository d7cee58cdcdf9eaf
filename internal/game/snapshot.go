package game

import (
	"context"

	"github.com/annel0/mmo-world/internal/logging"
	"github.com/annel0/mmo-world/internal/network"
	"github.com/annel0/mmo-world/internal/vec"
)

// Рассылка снапшотов: в конце каждого тика каждому подключённому
// игроку с аватаром отправляется Ticked с чанками его радиуса
// видимости. Каждая отправка — независимая задача с таймаутом: один
// медленный клиент не останавливает тик, он ампутируется.

// playerSnapshot — подготовленное под блокировкой чтения сообщение.
type playerSnapshot struct {
	username string
	conn     *network.Connection
	resp     *network.Response
}

func (g *Game) fanOutSnapshots() {
	g.connsMu.RLock()
	conns := make(map[string]*network.Connection, len(g.conns))
	for username, conn := range g.conns {
		conns[username] = conn
	}
	g.connsMu.RUnlock()
	if len(conns) == 0 {
		return
	}

	snapshots := g.buildSnapshots(conns)
	for _, snap := range snapshots {
		go g.sendSnapshot(snap)
	}
	metricConnectedPlayers.WithLabelValues(g.world.Name()).Set(float64(len(conns)))
}

// buildSnapshots собирает все сообщения под одной блокировкой чтения.
func (g *Game) buildSnapshots(conns map[string]*network.Connection) []playerSnapshot {
	g.worldMu.RLock()
	defer g.worldMu.RUnlock()

	res := make([]playerSnapshot, 0, len(conns))
	for username, conn := range conns {
		entityID, ok := g.world.PlayerByUsername(username)
		if !ok {
			continue // Подключён, но ещё не заспавнен
		}
		pos, ok := g.world.PositionOf(entityID)
		if !ok {
			continue
		}

		var chunks []network.ChunkData
		var entities []network.EntityData
		seen := make(map[uint64]struct{})
		for _, cid := range vec.ChunksInRadius(pos.Tile, g.opts.RenderDistance) {
			c, loaded := g.world.ChunkAt(cid)
			if !loaded {
				continue
			}
			chunks = append(chunks, network.ChunkData{ChunkID: uint64(cid), Blocks: c.Encode()})
			for _, eid := range g.world.EntitiesInChunk(cid) {
				if _, dup := seen[eid]; dup {
					continue
				}
				seen[eid] = struct{}{}
				entities = append(entities, network.EntityData{
					EntityID:   eid,
					Components: g.world.ComponentNames(eid),
				})
			}
		}

		res = append(res, playerSnapshot{
			username: username,
			conn:     conn,
			resp:     network.Ticked(g.world.Name(), chunks, entities),
		})
	}
	return res
}

// sendSnapshot отправляет снапшот одному игроку. Таймаут или ошибка
// записи помечают пользователя на отключение.
func (g *Game) sendSnapshot(snap playerSnapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), g.opts.SendTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- snap.conn.Send(snap.resp)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logging.Warn("Отправка снапшота игроку %s не удалась: %v", snap.username, err)
			g.markDisconnect(snap.username)
			return
		}
		metricSnapshotsSent.WithLabelValues(g.world.Name()).Inc()
	case <-ctx.Done():
		logging.Warn("Отправка снапшота игроку %s превысила таймаут", snap.username)
		g.markDisconnect(snap.username)
	}
}

// markDisconnect ставит пользователя в очередь отключения; очередь
// обрабатывается в начале следующего тика.
func (g *Game) markDisconnect(username string) {
	select {
	case g.pendingDisconnects <- username:
	default:
		// Очередь переполнена: пользователь будет помечен повторно
		// следующей неудачной отправкой
	}
}

// drainDisconnects обрабатывает накопленные отключения.
func (g *Game) drainDisconnects(ctx context.Context) {
	for {
		select {
		case username := <-g.pendingDisconnects:
			g.removeUser(ctx, username)
		default:
			return
		}
	}
}

// removeUser убирает соединение пользователя и деспавнит его аватар.
// Аватар предварительно сохраняется: повторный Spawn загрузит его же.
func (g *Game) removeUser(ctx context.Context, username string) {
	g.connsMu.Lock()
	conn, had := g.conns[username]
	delete(g.conns, username)
	g.connsMu.Unlock()
	if had {
		conn.Close()
	}

	g.worldMu.RLock()
	entityID, spawned := g.world.PlayerByUsername(username)
	g.worldMu.RUnlock()
	if !spawned {
		return
	}

	g.persistEntity(ctx, entityID)

	g.worldMu.Lock()
	g.world.Despawn(entityID)
	g.worldMu.Unlock()

	logging.Info("Пользователь %s отключён от мира %s, аватар %d деспавнен", username, g.world.Name(), entityID)
}
