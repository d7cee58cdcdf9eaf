package component

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// TypeID представляет стабильный 64-битный идентификатор типа компонента,
// получаемый хэшированием канонического имени.
type TypeID uint64

// TypeIDOf возвращает идентификатор типа для канонического имени.
func TypeIDOf(canonicalName string) TypeID {
	return TypeID(xxhash.Sum64String(canonicalName))
}

// ErrUnknownType возвращается при обращении к незарегистрированному типу.
var ErrUnknownType = errors.New("unknown component type")

// UpdateKind определяет вид перехода компонента за тик.
type UpdateKind uint8

const (
	UpdateAdded   UpdateKind = iota // Компонент добавлен
	UpdateChanged                   // Значение компонента изменилось
	UpdateRemoved                   // Компонент удалён
)

// Update описывает один переход компонента, собранный трекером изменений.
// Payload заполняется только для Added и Changed.
type Update struct {
	Entity   uint64          `json:"entity"`
	TypeName string          `json:"type_name"`
	TypeID   TypeID          `json:"type_id"`
	Kind     UpdateKind      `json:"kind"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Codec содержит замыкания сериализации и обнаружения изменений для
// одного зарегистрированного типа компонента.
type Codec struct {
	Name   string
	ID     TypeID
	Decode func(json.RawMessage) (any, error)
	Encode func(any) (json.RawMessage, error)
	Equal  func(a, b any) bool
}

// Registry отображает канонические имена типов компонентов на их кодеки.
// Служит слоем рефлексии для динамически адресуемых компонентов.
type Registry struct {
	byID   map[TypeID]Codec
	byName map[string]TypeID
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[TypeID]Codec),
		byName: make(map[string]TypeID),
	}
}

// Register регистрирует тип T под каноническим именем. Операция
// идемпотентна: повторная регистрация того же имени возвращает
// существующий идентификатор.
func Register[T comparable](r *Registry, canonicalName string) TypeID {
	if id, ok := r.byName[canonicalName]; ok {
		return id
	}
	id := TypeIDOf(canonicalName)
	r.byID[id] = Codec{
		Name: canonicalName,
		ID:   id,
		Decode: func(raw json.RawMessage) (any, error) {
			var v T
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, fmt.Errorf("не удалось десериализовать компонент %s: %w", canonicalName, err)
			}
			return v, nil
		},
		Encode: func(v any) (json.RawMessage, error) {
			typed, ok := v.(T)
			if !ok {
				return nil, fmt.Errorf("компонент %s имеет неожиданный тип %T", canonicalName, v)
			}
			raw, err := json.Marshal(typed)
			if err != nil {
				return nil, fmt.Errorf("не удалось сериализовать компонент %s: %w", canonicalName, err)
			}
			return raw, nil
		},
		Equal: func(a, b any) bool {
			at, aok := a.(T)
			bt, bok := b.(T)
			return aok && bok && at == bt
		},
	}
	r.byName[canonicalName] = id
	return id
}

// Lookup возвращает кодек по идентификатору типа.
func (r *Registry) Lookup(id TypeID) (Codec, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// LookupByName возвращает кодек по точному каноническому имени.
func (r *Registry) LookupByName(canonicalName string) (Codec, bool) {
	id, ok := r.byName[canonicalName]
	if !ok {
		return Codec{}, false
	}
	return r.byID[id], true
}

// Decode десериализует значение компонента по каноническому имени.
// Для незарегистрированного имени возвращает ErrUnknownType.
func (r *Registry) Decode(canonicalName string, raw json.RawMessage) (any, TypeID, error) {
	c, ok := r.LookupByName(canonicalName)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownType, canonicalName)
	}
	v, err := c.Decode(raw)
	if err != nil {
		return nil, 0, err
	}
	return v, c.ID, nil
}

// Encode сериализует значение компонента по идентификатору типа.
func (r *Registry) Encode(id TypeID, v any) (json.RawMessage, error) {
	c, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, id)
	}
	return c.Encode(v)
}

// TypeIDs возвращает идентификаторы всех зарегистрированных типов.
func (r *Registry) TypeIDs() []TypeID {
	ids := make([]TypeID, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	return ids
}
