package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"strings"

	"github.com/annel0/mmo-world/internal/vec"
	_ "github.com/go-sql-driver/mysql"
)

// MariaWorldRepo реализует WorldRepo поверх MariaDB/MySQL.
// Схема: шесть таблиц с каскадным удалением
// worlds -> chunks -> entities -> components, users -> players.
type MariaWorldRepo struct {
	db *sql.DB
}

// NewMariaWorldRepo открывает подключение и создаёт схему.
//
// Параметры:
//
//	dsn - строка подключения (user:pass@tcp(host:port)/dbname)
func NewMariaWorldRepo(dsn string) (*MariaWorldRepo, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть подключение к MariaDB: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	repo := &MariaWorldRepo{db: db}
	if err := repo.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// InitSchema создаёт таблицы, если их нет.
func (r *MariaWorldRepo) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS worlds (
			world_id VARCHAR(64) NOT NULL PRIMARY KEY
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

		`CREATE TABLE IF NOT EXISTS users (
			user_id       BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
			user_name     VARCHAR(50)  NOT NULL UNIQUE,
			password_hash VARCHAR(255) NOT NULL,
			admin         BOOLEAN      NOT NULL DEFAULT FALSE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

		`CREATE TABLE IF NOT EXISTS chunks (
			chunk_id BIGINT UNSIGNED NOT NULL,
			world_id VARCHAR(64)     NOT NULL,
			dat      LONGBLOB        NOT NULL,
			loaded   BOOLEAN         NOT NULL DEFAULT FALSE,
			PRIMARY KEY (chunk_id, world_id),
			CONSTRAINT fk_chunks_world FOREIGN KEY (world_id)
				REFERENCES worlds (world_id) ON DELETE CASCADE
		) ENGINE=InnoDB`,

		`CREATE TABLE IF NOT EXISTS entities (
			entity_id BIGINT UNSIGNED NOT NULL PRIMARY KEY,
			chunk_id  BIGINT UNSIGNED NULL,
			world_id  VARCHAR(64)     NOT NULL,
			CONSTRAINT fk_entities_world FOREIGN KEY (world_id)
				REFERENCES worlds (world_id) ON DELETE CASCADE,
			CONSTRAINT fk_entities_chunk FOREIGN KEY (chunk_id, world_id)
				REFERENCES chunks (chunk_id, world_id) ON DELETE CASCADE
		) ENGINE=InnoDB`,

		`CREATE TABLE IF NOT EXISTS components (
			type_name VARCHAR(255)    NOT NULL,
			entity_id BIGINT UNSIGNED NOT NULL,
			dat       TEXT            NOT NULL,
			PRIMARY KEY (entity_id, type_name),
			CONSTRAINT fk_components_entity FOREIGN KEY (entity_id)
				REFERENCES entities (entity_id) ON DELETE CASCADE
		) ENGINE=InnoDB`,

		`CREATE TABLE IF NOT EXISTS players (
			player_id BIGINT UNSIGNED NOT NULL PRIMARY KEY,
			user_id   BIGINT UNSIGNED NOT NULL,
			entity_id BIGINT UNSIGNED NOT NULL,
			CONSTRAINT fk_players_user FOREIGN KEY (user_id)
				REFERENCES users (user_id) ON DELETE CASCADE,
			CONSTRAINT fk_players_entity FOREIGN KEY (entity_id)
				REFERENCES entities (entity_id) ON DELETE CASCADE
		) ENGINE=InnoDB`,
	}

	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("не удалось создать схему: %w", err)
		}
	}
	return nil
}

// CreateWorld вставляет мир; возвращает false, если он уже существует.
func (r *MariaWorldRepo) CreateWorld(ctx context.Context, worldID string) (bool, error) {
	_, err := r.db.ExecContext(ctx, `INSERT INTO worlds (world_id) VALUES (?)`, worldID)
	if err != nil {
		if strings.Contains(err.Error(), "Duplicate entry") {
			return false, nil
		}
		return false, fmt.Errorf("не удалось создать мир %s: %w", worldID, err)
	}
	return true, nil
}

// WorldExists проверяет наличие мира.
func (r *MariaWorldRepo) WorldExists(ctx context.Context, worldID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM worlds WHERE world_id = ?`, worldID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("не удалось проверить мир %s: %w", worldID, err)
	}
	return true, nil
}

// ListWorlds возвращает идентификаторы всех миров.
func (r *MariaWorldRepo) ListWorlds(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT world_id FROM worlds`)
	if err != nil {
		return nil, fmt.Errorf("не удалось перечислить миры: %w", err)
	}
	defer rows.Close()

	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

// DeleteWorld удаляет мир; схема каскадирует удаление чанков,
// сущностей и компонентов.
func (r *MariaWorldRepo) DeleteWorld(ctx context.Context, worldID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM worlds WHERE world_id = ?`, worldID)
	if err != nil {
		return fmt.Errorf("не удалось удалить мир %s: %w", worldID, err)
	}
	return nil
}

// HasChunk проверяет наличие чанка.
func (r *MariaWorldRepo) HasChunk(ctx context.Context, worldID string, cid vec.ChunkID) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM chunks WHERE chunk_id = ? AND world_id = ?`, uint64(cid), worldID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("не удалось проверить чанк %d: %w", cid, err)
	}
	return true, nil
}

// SaveChunk идемпотентно сохраняет блоб; флаг loaded выставляется
// отдельным UPDATE вслед за upsert, так как путь конфликта сохраняет
// прочие колонки существующей строки.
func (r *MariaWorldRepo) SaveChunk(ctx context.Context, worldID string, cid vec.ChunkID, blob []byte, loaded bool) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO chunks (chunk_id, world_id, dat, loaded) VALUES (?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE dat = VALUES(dat)`,
		uint64(cid), worldID, blob, loaded)
	if err != nil {
		return fmt.Errorf("не удалось сохранить чанк %d: %w", cid, err)
	}
	return r.MarkChunkLoaded(ctx, worldID, cid, loaded)
}

// LoadChunkBlob возвращает блоб чанка.
func (r *MariaWorldRepo) LoadChunkBlob(ctx context.Context, worldID string, cid vec.ChunkID) ([]byte, bool, error) {
	var blob []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT dat FROM chunks WHERE chunk_id = ? AND world_id = ?`, uint64(cid), worldID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("не удалось прочитать чанк %d: %w", cid, err)
	}
	return blob, true, nil
}

// MarkChunkLoaded выставляет флаг loaded.
func (r *MariaWorldRepo) MarkChunkLoaded(ctx context.Context, worldID string, cid vec.ChunkID, loaded bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE chunks SET loaded = ? WHERE chunk_id = ? AND world_id = ?`,
		loaded, uint64(cid), worldID)
	if err != nil {
		return fmt.Errorf("не удалось обновить флаг loaded чанка %d: %w", cid, err)
	}
	return nil
}

// ChunksMarkedLoaded возвращает чанки с loaded=true.
func (r *MariaWorldRepo) ChunksMarkedLoaded(ctx context.Context, worldID string) ([]vec.ChunkID, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT chunk_id FROM chunks WHERE world_id = ? AND loaded = TRUE`, worldID)
	if err != nil {
		return nil, fmt.Errorf("не удалось перечислить загруженные чанки: %w", err)
	}
	defer rows.Close()

	var res []vec.ChunkID
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, vec.ChunkID(id))
	}
	return res, rows.Err()
}

// EntitiesInChunk возвращает сущности, сохранённые в чанке.
func (r *MariaWorldRepo) EntitiesInChunk(ctx context.Context, worldID string, cid vec.ChunkID) ([]uint64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT entity_id FROM entities WHERE chunk_id = ? AND world_id = ?`, uint64(cid), worldID)
	if err != nil {
		return nil, fmt.Errorf("не удалось перечислить сущности чанка %d: %w", cid, err)
	}
	defer rows.Close()

	var res []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

// SaveEntity идемпотентно сохраняет строку entities и upsert каждого
// компонента.
func (r *MariaWorldRepo) SaveEntity(ctx context.Context, worldID string, entityID uint64, chunkID *vec.ChunkID, comps []StoredComponent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("не удалось начать транзакцию: %w", err)
	}
	defer tx.Rollback()

	var chunkRef sql.NullInt64
	if chunkID != nil {
		chunkRef = sql.NullInt64{Int64: int64(uint64(*chunkID)), Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO entities (entity_id, chunk_id, world_id) VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE chunk_id = VALUES(chunk_id)`,
		entityID, chunkRef, worldID)
	if err != nil {
		return fmt.Errorf("не удалось сохранить сущность %d: %w", entityID, err)
	}

	for _, c := range comps {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO components (type_name, entity_id, dat) VALUES (?, ?, ?)
			 ON DUPLICATE KEY UPDATE dat = VALUES(dat)`,
			c.TypeName, entityID, string(c.Payload))
		if err != nil {
			return fmt.Errorf("не удалось сохранить компонент %s сущности %d: %w", c.TypeName, entityID, err)
		}
	}
	return tx.Commit()
}

// LoadEntityComponents возвращает все компоненты сущности.
func (r *MariaWorldRepo) LoadEntityComponents(ctx context.Context, entityID uint64) ([]StoredComponent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT type_name, dat FROM components WHERE entity_id = ?`, entityID)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать компоненты сущности %d: %w", entityID, err)
	}
	defer rows.Close()

	var res []StoredComponent
	for rows.Next() {
		var name, dat string
		if err := rows.Scan(&name, &dat); err != nil {
			return nil, err
		}
		res = append(res, StoredComponent{TypeName: name, Payload: []byte(dat)})
	}
	return res, rows.Err()
}

// DeleteEntity удаляет сущность; каскад убирает её компоненты.
func (r *MariaWorldRepo) DeleteEntity(ctx context.Context, entityID uint64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM entities WHERE entity_id = ?`, entityID)
	if err != nil {
		return fmt.Errorf("не удалось удалить сущность %d: %w", entityID, err)
	}
	return nil
}

// GetPlayerEntity возвращает сущность-аватар пользователя в мире.
func (r *MariaWorldRepo) GetPlayerEntity(ctx context.Context, username, worldID string) (uint64, bool, error) {
	var entityID uint64
	err := r.db.QueryRowContext(ctx,
		`SELECT e.entity_id
		 FROM players p
		 JOIN users u ON u.user_id = p.user_id
		 JOIN entities e ON e.entity_id = p.entity_id
		 WHERE u.user_name = ? AND e.world_id = ?
		 LIMIT 1`,
		strings.ToLower(username), worldID).Scan(&entityID)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("не удалось найти аватар пользователя %s: %w", username, err)
	}
	return entityID, true, nil
}

// CreatePlayer связывает пользователя с сущностью-аватаром.
func (r *MariaWorldRepo) CreatePlayer(ctx context.Context, username, worldID string, entityID uint64) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO players (player_id, user_id, entity_id)
		 SELECT ?, user_id, ? FROM users WHERE user_name = ?`,
		rand.Uint64()>>1, entityID, strings.ToLower(username))
	if err != nil {
		return fmt.Errorf("не удалось создать запись игрока %s: %w", username, err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("пользователь %s не найден", username)
	}
	return nil
}

// Close закрывает подключение к БД.
func (r *MariaWorldRepo) Close() error {
	return r.db.Close()
}
