package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/annel0/mmo-world/internal/vec"
	"github.com/dgraph-io/badger/v3"
)

// BadgerWorldRepo реализует WorldRepo поверх встраиваемой BadgerDB.
// Используется в standalone-режиме без внешней базы; семантика та же,
// что у реляционной реализации, включая каскадное удаление.
type BadgerWorldRepo struct {
	db *badger.DB
}

// Схема ключей:
//
//	world:<id>                  -> {}
//	chunk:<world>:<cid>         -> 1 байт loaded + блоб
//	entity:<eid>                -> JSON {world_id, chunk_id}
//	comp:<eid>:<type_name>      -> payload
//	player:<world>:<username>   -> 8 байт entity_id (big-endian)
type badgerEntityRow struct {
	WorldID string  `json:"world_id"`
	ChunkID *uint64 `json:"chunk_id"`
}

// NewBadgerWorldRepo открывает базу в каталоге dataPath.
func NewBadgerWorldRepo(dataPath string) (*BadgerWorldRepo, error) {
	opts := badger.DefaultOptions(filepath.Join(dataPath, "world"))
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}
	return &BadgerWorldRepo{db: db}, nil
}

func worldKey(worldID string) []byte {
	return []byte("world:" + worldID)
}

func chunkKey(worldID string, cid vec.ChunkID) []byte {
	return []byte(fmt.Sprintf("chunk:%s:%016x", worldID, uint64(cid)))
}

func entityKey(entityID uint64) []byte {
	return []byte(fmt.Sprintf("entity:%016x", entityID))
}

func compKey(entityID uint64, typeName string) []byte {
	return []byte(fmt.Sprintf("comp:%016x:%s", entityID, typeName))
}

func playerKey(worldID, username string) []byte {
	return []byte(fmt.Sprintf("player:%s:%s", worldID, username))
}

// InitSchema — no-op: BadgerDB не требует подготовки схемы.
func (r *BadgerWorldRepo) InitSchema(ctx context.Context) error {
	return nil
}

// CreateWorld вставляет мир; false для дубликата.
func (r *BadgerWorldRepo) CreateWorld(ctx context.Context, worldID string) (bool, error) {
	created := false
	err := r.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(worldKey(worldID))
		if err == nil {
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		created = true
		return txn.Set(worldKey(worldID), []byte{})
	})
	if err != nil {
		return false, fmt.Errorf("не удалось создать мир %s: %w", worldID, err)
	}
	return created, nil
}

// WorldExists проверяет наличие мира.
func (r *BadgerWorldRepo) WorldExists(ctx context.Context, worldID string) (bool, error) {
	exists := false
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(worldKey(worldID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// ListWorlds возвращает идентификаторы всех миров.
func (r *BadgerWorldRepo) ListWorlds(ctx context.Context) ([]string, error) {
	var res []string
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("world:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			res = append(res, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	return res, err
}

// DeleteWorld удаляет мир и каскадом его чанки, сущности, компоненты
// и записи игроков.
func (r *BadgerWorldRepo) DeleteWorld(ctx context.Context, worldID string) error {
	// Собираем ключи под view, удаляем отдельной транзакцией
	var doomed [][]byte
	var doomedEntities []uint64
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for _, prefix := range [][]byte{
			worldKey(worldID),
			[]byte("chunk:" + worldID + ":"),
			[]byte("player:" + worldID + ":"),
		} {
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				doomed = append(doomed, it.Item().KeyCopy(nil))
			}
		}

		entPrefix := []byte("entity:")
		for it.Seek(entPrefix); it.ValidForPrefix(entPrefix); it.Next() {
			item := it.Item()
			var row badgerEntityRow
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &row)
			}); err != nil {
				return err
			}
			if row.WorldID == worldID {
				doomed = append(doomed, item.KeyCopy(nil))
				var eid uint64
				fmt.Sscanf(string(item.Key()), "entity:%016x", &eid)
				doomedEntities = append(doomedEntities, eid)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("не удалось перечислить данные мира %s: %w", worldID, err)
	}

	wb := r.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range doomed {
		if err := wb.Delete(key); err != nil {
			return err
		}
	}
	// Компоненты осиротевших сущностей
	err = r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for _, eid := range doomedEntities {
			prefix := []byte(fmt.Sprintf("comp:%016x:", eid))
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				if err := wb.Delete(it.Item().KeyCopy(nil)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("не удалось удалить мир %s: %w", worldID, err)
	}
	return nil
}

// HasChunk проверяет наличие чанка.
func (r *BadgerWorldRepo) HasChunk(ctx context.Context, worldID string, cid vec.ChunkID) (bool, error) {
	exists := false
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(chunkKey(worldID, cid))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// SaveChunk сохраняет блоб с байтом-флагом loaded.
func (r *BadgerWorldRepo) SaveChunk(ctx context.Context, worldID string, cid vec.ChunkID, blob []byte, loaded bool) error {
	val := make([]byte, 1+len(blob))
	if loaded {
		val[0] = 1
	}
	copy(val[1:], blob)
	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(chunkKey(worldID, cid), val)
	})
	if err != nil {
		return fmt.Errorf("не удалось сохранить чанк %d: %w", cid, err)
	}
	return nil
}

// LoadChunkBlob возвращает блоб чанка.
func (r *BadgerWorldRepo) LoadChunkBlob(ctx context.Context, worldID string, cid vec.ChunkID) ([]byte, bool, error) {
	var blob []byte
	found := false
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(chunkKey(worldID, cid))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			blob = append([]byte(nil), val[1:]...)
			return nil
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("не удалось прочитать чанк %d: %w", cid, err)
	}
	return blob, found, nil
}

// MarkChunkLoaded переписывает байт-флаг loaded.
func (r *BadgerWorldRepo) MarkChunkLoaded(ctx context.Context, worldID string, cid vec.ChunkID, loaded bool) error {
	return r.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(chunkKey(worldID, cid))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var val []byte
		if err := item.Value(func(v []byte) error {
			val = append([]byte(nil), v...)
			return nil
		}); err != nil {
			return err
		}
		if loaded {
			val[0] = 1
		} else {
			val[0] = 0
		}
		return txn.Set(chunkKey(worldID, cid), val)
	})
}

// ChunksMarkedLoaded возвращает чанки с loaded=true.
func (r *BadgerWorldRepo) ChunksMarkedLoaded(ctx context.Context, worldID string) ([]vec.ChunkID, error) {
	var res []vec.ChunkID
	prefix := []byte("chunk:" + worldID + ":")
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			loaded := false
			if err := item.Value(func(val []byte) error {
				loaded = len(val) > 0 && val[0] == 1
				return nil
			}); err != nil {
				return err
			}
			if !loaded {
				continue
			}
			var cid uint64
			if _, err := fmt.Sscanf(string(item.Key()[len(prefix):]), "%016x", &cid); err != nil {
				return err
			}
			res = append(res, vec.ChunkID(cid))
		}
		return nil
	})
	return res, err
}

// EntitiesInChunk возвращает сущности, сохранённые в чанке.
func (r *BadgerWorldRepo) EntitiesInChunk(ctx context.Context, worldID string, cid vec.ChunkID) ([]uint64, error) {
	var res []uint64
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("entity:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var row badgerEntityRow
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &row)
			}); err != nil {
				return err
			}
			if row.WorldID != worldID || row.ChunkID == nil || *row.ChunkID != uint64(cid) {
				continue
			}
			var eid uint64
			if _, err := fmt.Sscanf(string(item.Key()), "entity:%016x", &eid); err != nil {
				return err
			}
			res = append(res, eid)
		}
		return nil
	})
	return res, err
}

// SaveEntity сохраняет строку сущности и её компоненты.
func (r *BadgerWorldRepo) SaveEntity(ctx context.Context, worldID string, entityID uint64, chunkID *vec.ChunkID, comps []StoredComponent) error {
	row := badgerEntityRow{WorldID: worldID}
	if chunkID != nil {
		raw := uint64(*chunkID)
		row.ChunkID = &raw
	}
	rowData, err := json.Marshal(row)
	if err != nil {
		return err
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(entityKey(entityID), rowData); err != nil {
			return err
		}
		for _, c := range comps {
			if err := txn.Set(compKey(entityID, c.TypeName), c.Payload); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("не удалось сохранить сущность %d: %w", entityID, err)
	}
	return nil
}

// LoadEntityComponents возвращает компоненты сущности.
func (r *BadgerWorldRepo) LoadEntityComponents(ctx context.Context, entityID uint64) ([]StoredComponent, error) {
	var res []StoredComponent
	prefix := []byte(fmt.Sprintf("comp:%016x:", entityID))
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			name := string(item.Key()[len(prefix):])
			var payload []byte
			if err := item.Value(func(val []byte) error {
				payload = append([]byte(nil), val...)
				return nil
			}); err != nil {
				return err
			}
			res = append(res, StoredComponent{TypeName: name, Payload: payload})
		}
		return nil
	})
	return res, err
}

// DeleteEntity удаляет сущность, её компоненты и записи игроков.
func (r *BadgerWorldRepo) DeleteEntity(ctx context.Context, entityID uint64) error {
	var doomed [][]byte
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for _, prefix := range [][]byte{
			entityKey(entityID),
			[]byte(fmt.Sprintf("comp:%016x:", entityID)),
		} {
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				doomed = append(doomed, it.Item().KeyCopy(nil))
			}
		}
		playerPrefix := []byte("player:")
		for it.Seek(playerPrefix); it.ValidForPrefix(playerPrefix); it.Next() {
			item := it.Item()
			var linked uint64
			if err := item.Value(func(val []byte) error {
				if len(val) == 8 {
					linked = binary.BigEndian.Uint64(val)
				}
				return nil
			}); err != nil {
				return err
			}
			if linked == entityID {
				doomed = append(doomed, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		for _, key := range doomed {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetPlayerEntity возвращает аватар пользователя в мире.
func (r *BadgerWorldRepo) GetPlayerEntity(ctx context.Context, username, worldID string) (uint64, bool, error) {
	var entityID uint64
	found := false
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(playerKey(worldID, username))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("повреждённая запись игрока %s", username)
			}
			entityID = binary.BigEndian.Uint64(val)
			found = true
			return nil
		})
	})
	return entityID, found, err
}

// CreatePlayer связывает пользователя с сущностью.
func (r *BadgerWorldRepo) CreatePlayer(ctx context.Context, username, worldID string, entityID uint64) error {
	val := make([]byte, 8)
	binary.BigEndian.PutUint64(val, entityID)
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(playerKey(worldID, username), val)
	})
}

// Close закрывает базу.
func (r *BadgerWorldRepo) Close() error {
	return r.db.Close()
}
