package block

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// ID представляет 16-битный идентификатор типа блока.
// Выводится из стабильного хэша канонического имени.
type ID uint16

// Layer определяет слой, который занимает блок.
type Layer uint8

const (
	LayerGround Layer = iota // Пол
	LayerSolid               // Твёрдое препятствие
	LayerWater               // Вода
	LayerPit                 // Яма
)

// String возвращает строковое представление слоя.
func (l Layer) String() string {
	switch l {
	case LayerGround:
		return "ground"
	case LayerSolid:
		return "solid"
	case LayerWater:
		return "water"
	case LayerPit:
		return "pit"
	default:
		return "unknown"
	}
}

// UnmarshalJSON разбирает слой из строкового значения пакета контента.
func (l *Layer) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "ground":
		*l = LayerGround
	case "solid":
		*l = LayerSolid
	case "water":
		*l = LayerWater
	case "pit":
		*l = LayerPit
	default:
		return fmt.Errorf("неизвестный слой блока: %q", s)
	}
	return nil
}

// Type описывает тип блока из каталога контента.
type Type struct {
	CanonicalName   string `json:"canonical_name"`
	DescriptiveName string `json:"descriptive_name"`
	RawPath         string `json:"raw_path"`
	Layer           Layer  `json:"layer"`
}

// IDOf возвращает стабильный 16-битный идентификатор для канонического имени.
func IDOf(canonicalName string) ID {
	return ID(xxhash.Sum64String(canonicalName))
}

// Catalog хранит неизменяемый после старта каталог типов блоков.
// Загрузкой из пакетов контента занимается внешний загрузчик; ядро
// работает только с уже зарегистрированными типами.
type Catalog struct {
	byID   map[ID]Type
	byName map[string]ID
}

// NewCatalog создаёт пустой каталог.
func NewCatalog() *Catalog {
	return &Catalog{
		byID:   make(map[ID]Type),
		byName: make(map[string]ID),
	}
}

// Register добавляет тип блока в каталог и возвращает его идентификатор.
// Повторная регистрация того же имени перезаписывает запись.
func (c *Catalog) Register(t Type) ID {
	id := IDOf(t.CanonicalName)
	c.byID[id] = t
	c.byName[t.CanonicalName] = id
	return id
}

// Get возвращает тип блока по идентификатору.
func (c *Catalog) Get(id ID) (Type, bool) {
	t, ok := c.byID[id]
	return t, ok
}

// GetByName возвращает тип блока по каноническому имени.
func (c *Catalog) GetByName(canonicalName string) (Type, bool) {
	id, ok := c.byName[canonicalName]
	if !ok {
		return Type{}, false
	}
	return c.byID[id], true
}

// IDByName возвращает идентификатор для канонического имени.
func (c *Catalog) IDByName(canonicalName string) (ID, bool) {
	id, ok := c.byName[canonicalName]
	return id, ok
}

// Len возвращает количество зарегистрированных типов.
func (c *Catalog) Len() int {
	return len(c.byID)
}

// LoadJSON регистрирует типы блоков из JSON-массива, подготовленного
// внешним загрузчиком пакетов контента.
func (c *Catalog) LoadJSON(data []byte) error {
	var types []Type
	if err := json.Unmarshal(data, &types); err != nil {
		return fmt.Errorf("не удалось разобрать каталог блоков: %w", err)
	}
	for _, t := range types {
		if t.CanonicalName == "" {
			return fmt.Errorf("тип блока без канонического имени: %+v", t)
		}
		c.Register(t)
	}
	return nil
}

// DefaultCatalog возвращает минимальный каталог, достаточный для эталонного
// генератора (сплошной каменный пол).
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	c.Register(Type{CanonicalName: "stonefloor", DescriptiveName: "Stone floor", RawPath: "blocks/stonefloor", Layer: LayerGround})
	c.Register(Type{CanonicalName: "stonewall", DescriptiveName: "Stone wall", RawPath: "blocks/stonewall", Layer: LayerSolid})
	c.Register(Type{CanonicalName: "water", DescriptiveName: "Water", RawPath: "blocks/water", Layer: LayerWater})
	c.Register(Type{CanonicalName: "pit", DescriptiveName: "Pit", RawPath: "blocks/pit", Layer: LayerPit})
	return c
}
