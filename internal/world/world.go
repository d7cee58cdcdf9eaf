package world

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"

	"github.com/annel0/mmo-world/internal/vec"
	"github.com/annel0/mmo-world/internal/world/component"
)

// handle — внутренний идентификатор записи в хранилище сущностей.
// Никогда не покидает пакет world: наружу отдаётся только внешний
// 64-битный EntityID из двунаправленной карты идентичностей.
type handle uint64

// column хранит значения одного типа компонента для всех сущностей
// вместе с трекерами переходов текущего тика. Каждый переход
// регистрируется не более одного раза за тик.
type column struct {
	values  map[handle]any
	added   map[handle]struct{}
	changed map[handle]struct{}
	removed map[handle]uint64 // handle -> внешний id на момент удаления
}

func newColumn() *column {
	return &column{
		values:  make(map[handle]any),
		added:   make(map[handle]struct{}),
		changed: make(map[handle]struct{}),
		removed: make(map[handle]uint64),
	}
}

// System — функция, исполняемая планировщиком над миром.
type System func(w *World)

// World владеет хранилищем сущностей, пространственным индексом, картой
// чанков, очередью удалений и планировщиком. Потокобезопасность
// обеспечивается снаружи: цикл тика и обработчики запросов берут
// общий RWMutex мира.
type World struct {
	name     string
	registry *component.Registry

	positionType component.TypeID
	playerType   component.TypeID
	entityIDType component.TypeID

	nextHandle handle
	entities   map[handle]map[component.TypeID]struct{}
	columns    map[component.TypeID]*column

	uuidToHandle map[uint64]handle
	handleToUUID map[handle]uint64

	// Пространственный индекс: поддерживается реактивными системами
	// фазы between-ticks, а не путями записи.
	positions     map[handle]vec.TilePos
	chunkEntities map[vec.ChunkID]map[handle]struct{}

	chunks        *ChunkMap
	deletionQueue []uint64
	events        map[string]*eventQueue

	preSystems  []System
	postSystems []System
}

// NewWorld создаёт мир с указанным именем. Встроенные типы компонентов
// регистрируются в переданном реестре.
func NewWorld(name string, registry *component.Registry) *World {
	w := &World{
		name:          name,
		registry:      registry,
		nextHandle:    1,
		entities:      make(map[handle]map[component.TypeID]struct{}),
		columns:       make(map[component.TypeID]*column),
		uuidToHandle:  make(map[uint64]handle),
		handleToUUID:  make(map[handle]uint64),
		positions:     make(map[handle]vec.TilePos),
		chunkEntities: make(map[vec.ChunkID]map[handle]struct{}),
		chunks:        NewChunkMap(),
		events:        make(map[string]*eventQueue),
	}

	w.positionType = component.Register[Position](registry, PositionTypeName)
	w.playerType = component.Register[Player](registry, PlayerTypeName)
	w.entityIDType = component.Register[EntityID](registry, EntityIDTypeName)
	return w
}

// Name возвращает имя мира.
func (w *World) Name() string {
	return w.name
}

// Registry возвращает реестр компонентов мира.
func (w *World) Registry() *component.Registry {
	return w.registry
}

// ===== Жизненный цикл сущностей =====

// Spawn создаёт сущность, назначает ей свежий внешний идентификатор и
// регистрирует пару в карте идентичностей.
func (w *World) Spawn() uint64 {
	return w.SpawnWithID(rand.Uint64())
}

// SpawnWithID создаёт сущность с заранее известным внешним идентификатором
// (используется при загрузке из персистентности).
func (w *World) SpawnWithID(externalID uint64) uint64 {
	h := w.allocHandle()
	w.attach(h, w.entityIDType, EntityID{Value: externalID})
	return externalID
}

// SpawnEmpty создаёт сущность без внешнего идентификатора. Система фазы
// between-ticks назначит его на ближайшем тике.
func (w *World) SpawnEmpty() {
	w.allocHandle()
}

func (w *World) allocHandle() handle {
	h := w.nextHandle
	w.nextHandle++
	w.entities[h] = make(map[component.TypeID]struct{})
	return h
}

// Despawn немедленно удаляет сущность из памяти мира: из карты
// идентичностей, из всех колонок компонентов и из пространственного
// индекса (сразу, без ожидания системы between-ticks).
func (w *World) Despawn(externalID uint64) bool {
	h, ok := w.uuidToHandle[externalID]
	if !ok {
		return false
	}
	for typeID := range w.entities[h] {
		w.removeFromColumn(h, typeID, externalID)
	}
	// Удаление немедленное: индекс чистится сразу, не дожидаясь
	// системы between-ticks.
	w.unindexPosition(h)
	delete(w.entities, h)
	delete(w.uuidToHandle, externalID)
	delete(w.handleToUUID, h)
	return true
}

// QueueDespawn ставит сущность в очередь отложенного удаления,
// обрабатываемую на границе тика.
func (w *World) QueueDespawn(externalID uint64) {
	w.deletionQueue = append(w.deletionQueue, externalID)
}

// DrainDeletions возвращает и очищает очередь отложенных удалений.
func (w *World) DrainDeletions() []uint64 {
	res := w.deletionQueue
	w.deletionQueue = nil
	return res
}

// Exists проверяет, что сущность существует в мире.
func (w *World) Exists(externalID uint64) bool {
	_, ok := w.uuidToHandle[externalID]
	return ok
}

// EntityCount возвращает число сущностей в хранилище.
func (w *World) EntityCount() int {
	return len(w.entities)
}

// ===== Компоненты =====

func (w *World) column(typeID component.TypeID) *column {
	col, ok := w.columns[typeID]
	if !ok {
		col = newColumn()
		w.columns[typeID] = col
	}
	return col
}

// attach вставляет или обновляет значение компонента, регистрируя
// переход в трекере. Компонент entity_id дополнительно синхронизирует
// карту идентичностей.
func (w *World) attach(h handle, typeID component.TypeID, v any) {
	col := w.column(typeID)
	codec, _ := w.registry.Lookup(typeID)

	if typeID == w.entityIDType {
		id := v.(EntityID)
		if old, ok := w.handleToUUID[h]; ok && old != id.Value {
			delete(w.uuidToHandle, old)
		}
		w.uuidToHandle[id.Value] = h
		w.handleToUUID[h] = id.Value
	}

	old, exists := col.values[h]
	col.values[h] = v
	w.entities[h][typeID] = struct{}{}

	switch {
	case !exists:
		// Добавление после удаления в том же тике схлопывается в изменение
		if _, wasRemoved := col.removed[h]; wasRemoved {
			delete(col.removed, h)
			col.changed[h] = struct{}{}
		} else {
			col.added[h] = struct{}{}
		}
	case codec.Equal == nil || !codec.Equal(old, v):
		if _, isNew := col.added[h]; !isNew {
			col.changed[h] = struct{}{}
		}
	}
}

func (w *World) removeFromColumn(h handle, typeID component.TypeID, externalID uint64) {
	col, ok := w.columns[typeID]
	if !ok {
		return
	}
	if _, exists := col.values[h]; !exists {
		return
	}
	delete(col.values, h)
	if set, ok := w.entities[h]; ok {
		delete(set, typeID)
	}
	// Добавленный и удалённый в одном тике компонент не виден снаружи
	if _, wasAdded := col.added[h]; wasAdded {
		delete(col.added, h)
		return
	}
	delete(col.changed, h)
	col.removed[h] = externalID
}

// Attach десериализует значение по точному каноническому имени типа и
// прикрепляет его к сущности. Для неизвестного имени возвращает
// component.ErrUnknownType.
func (w *World) Attach(externalID uint64, typeName string, payload json.RawMessage) error {
	h, ok := w.uuidToHandle[externalID]
	if !ok {
		return fmt.Errorf("сущность %d не существует", externalID)
	}
	v, typeID, err := w.registry.Decode(typeName, payload)
	if err != nil {
		return err
	}
	w.attach(h, typeID, v)
	return nil
}

// SetComponentValue прикрепляет уже типизированное значение по имени типа.
func (w *World) SetComponentValue(externalID uint64, typeName string, v any) error {
	h, ok := w.uuidToHandle[externalID]
	if !ok {
		return fmt.Errorf("сущность %d не существует", externalID)
	}
	codec, found := w.registry.LookupByName(typeName)
	if !found {
		return fmt.Errorf("%w: %s", component.ErrUnknownType, typeName)
	}
	w.attach(h, codec.ID, v)
	return nil
}

// ComponentValue возвращает значение компонента по имени типа.
func (w *World) ComponentValue(externalID uint64, typeName string) (any, bool) {
	h, ok := w.uuidToHandle[externalID]
	if !ok {
		return nil, false
	}
	codec, found := w.registry.LookupByName(typeName)
	if !found {
		return nil, false
	}
	col, ok := w.columns[codec.ID]
	if !ok {
		return nil, false
	}
	v, ok := col.values[h]
	return v, ok
}

// RemoveComponent удаляет компонент по имени типа.
func (w *World) RemoveComponent(externalID uint64, typeName string) bool {
	h, ok := w.uuidToHandle[externalID]
	if !ok {
		return false
	}
	codec, found := w.registry.LookupByName(typeName)
	if !found {
		return false
	}
	col, ok := w.columns[codec.ID]
	if !ok {
		return false
	}
	if _, exists := col.values[h]; !exists {
		return false
	}
	w.removeFromColumn(h, codec.ID, externalID)
	return true
}

// ComponentNames возвращает имена типов всех компонентов сущности.
func (w *World) ComponentNames(externalID uint64) []string {
	h, ok := w.uuidToHandle[externalID]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(w.entities[h]))
	for typeID := range w.entities[h] {
		if codec, ok := w.registry.Lookup(typeID); ok {
			names = append(names, codec.Name)
		}
	}
	return names
}

// EncodedComponent — сериализованный компонент для персистентности.
type EncodedComponent struct {
	TypeName string
	Payload  json.RawMessage
}

// EncodedComponents сериализует все компоненты сущности через кодеки
// реестра.
func (w *World) EncodedComponents(externalID uint64) ([]EncodedComponent, error) {
	h, ok := w.uuidToHandle[externalID]
	if !ok {
		return nil, fmt.Errorf("сущность %d не существует", externalID)
	}
	res := make([]EncodedComponent, 0, len(w.entities[h]))
	for typeID := range w.entities[h] {
		codec, ok := w.registry.Lookup(typeID)
		if !ok {
			continue
		}
		raw, err := codec.Encode(w.columns[typeID].values[h])
		if err != nil {
			return nil, err
		}
		res = append(res, EncodedComponent{TypeName: codec.Name, Payload: raw})
	}
	return res, nil
}

// ===== Типизированный доступ к встроенным компонентам =====

// SetPosition прикрепляет или обновляет позицию сущности.
func (w *World) SetPosition(externalID uint64, p Position) bool {
	h, ok := w.uuidToHandle[externalID]
	if !ok {
		return false
	}
	w.attach(h, w.positionType, p)
	return true
}

// PositionOf возвращает позицию сущности.
func (w *World) PositionOf(externalID uint64) (Position, bool) {
	v, ok := w.ComponentValue(externalID, PositionTypeName)
	if !ok {
		return Position{}, false
	}
	return v.(Position), true
}

// RemovePosition отцепляет позицию от сущности.
func (w *World) RemovePosition(externalID uint64) bool {
	return w.RemoveComponent(externalID, PositionTypeName)
}

// SetPlayer прикрепляет или обновляет компонент игрока.
func (w *World) SetPlayer(externalID uint64, p Player) bool {
	h, ok := w.uuidToHandle[externalID]
	if !ok {
		return false
	}
	w.attach(h, w.playerType, p)
	return true
}

// PlayerOf возвращает компонент игрока.
func (w *World) PlayerOf(externalID uint64) (Player, bool) {
	v, ok := w.ComponentValue(externalID, PlayerTypeName)
	if !ok {
		return Player{}, false
	}
	return v.(Player), true
}

// PlayerByUsername находит сущность-аватар по имени пользователя.
func (w *World) PlayerByUsername(username string) (uint64, bool) {
	col, ok := w.columns[w.playerType]
	if !ok {
		return 0, false
	}
	for h, v := range col.values {
		if v.(Player).Username == username {
			if id, ok := w.handleToUUID[h]; ok {
				return id, true
			}
		}
	}
	return 0, false
}

// SetComponent прикрепляет типизированное значение пользовательского
// компонента (типизированный фасад над хранилищем).
func SetComponent[T comparable](w *World, typeName string, externalID uint64, v T) error {
	return w.SetComponentValue(externalID, typeName, v)
}

// GetComponent возвращает типизированное значение компонента.
func GetComponent[T comparable](w *World, typeName string, externalID uint64) (T, bool) {
	var zero T
	v, ok := w.ComponentValue(externalID, typeName)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// ===== Сбор изменений =====

// HarvestChanges опрашивает трекеры всех зарегистрированных типов и
// возвращает переходы компонентов за тик, сгруппированные по внешнему
// идентификатору сущности. Каждый переход возвращается не более одного
// раза; трекеры при этом не очищаются (см. ClearTrackers).
func (w *World) HarvestChanges() map[uint64][]component.Update {
	res := make(map[uint64][]component.Update)
	appendUpdate := func(entity uint64, u component.Update) {
		res[entity] = append(res[entity], u)
	}

	for typeID, col := range w.columns {
		codec, ok := w.registry.Lookup(typeID)
		if !ok {
			continue
		}
		for h := range col.added {
			entity, ok := w.handleToUUID[h]
			if !ok {
				continue
			}
			raw, err := codec.Encode(col.values[h])
			if err != nil {
				log.Printf("Не удалось сериализовать компонент %s при сборе изменений: %v", codec.Name, err)
				continue
			}
			appendUpdate(entity, component.Update{
				Entity: entity, TypeName: codec.Name, TypeID: typeID,
				Kind: component.UpdateAdded, Payload: raw,
			})
		}
		for h := range col.changed {
			entity, ok := w.handleToUUID[h]
			if !ok {
				continue
			}
			raw, err := codec.Encode(col.values[h])
			if err != nil {
				log.Printf("Не удалось сериализовать компонент %s при сборе изменений: %v", codec.Name, err)
				continue
			}
			appendUpdate(entity, component.Update{
				Entity: entity, TypeName: codec.Name, TypeID: typeID,
				Kind: component.UpdateChanged, Payload: raw,
			})
		}
		for _, entity := range col.removed {
			appendUpdate(entity, component.Update{
				Entity: entity, TypeName: codec.Name, TypeID: typeID,
				Kind: component.UpdateRemoved,
			})
		}
	}
	return res
}

// ClearTrackers очищает трекеры всех колонок и карты чанков.
// Вызывается в конце каждого тика.
func (w *World) ClearTrackers() {
	for _, col := range w.columns {
		col.added = make(map[handle]struct{})
		col.changed = make(map[handle]struct{})
		col.removed = make(map[handle]uint64)
	}
	w.chunks.ClearTrackers()
}
