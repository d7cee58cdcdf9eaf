package world

import (
	"encoding/binary"
	"fmt"

	"github.com/annel0/mmo-world/internal/vec"
	"github.com/annel0/mmo-world/internal/world/block"
	"github.com/klauspost/compress/zstd"
)

// Chunk представляет участок мира 32x32 блока — единицу резидентности
// и персистентности. Кэш сущностей восстанавливается при загрузке и
// никогда не сериализуется.
type Chunk struct {
	Blocks   [vec.ChunkSize][vec.ChunkSize]block.ID
	entities map[uint64]struct{}
}

// NewChunk создаёт пустой чанк.
func NewChunk() *Chunk {
	return &Chunk{entities: make(map[uint64]struct{})}
}

// NewChunkFromBlocks создаёт чанк с заданной матрицей блоков.
func NewChunkFromBlocks(blocks [vec.ChunkSize][vec.ChunkSize]block.ID) *Chunk {
	c := NewChunk()
	c.Blocks = blocks
	return c
}

// BlockAt возвращает блок по локальным координатам.
func (c *Chunk) BlockAt(local vec.TilePos) block.ID {
	return c.Blocks[local.X][local.Y]
}

// SetBlock устанавливает блок по локальным координатам.
func (c *Chunk) SetBlock(local vec.TilePos, id block.ID) {
	c.Blocks[local.X][local.Y] = id
}

// AddEntity добавляет сущность в кэш чанка.
func (c *Chunk) AddEntity(entityID uint64) {
	c.entities[entityID] = struct{}{}
}

// RemoveEntity удаляет сущность из кэша чанка.
func (c *Chunk) RemoveEntity(entityID uint64) bool {
	_, ok := c.entities[entityID]
	delete(c.entities, entityID)
	return ok
}

// ContainsEntity проверяет присутствие сущности в чанке.
func (c *Chunk) ContainsEntity(entityID uint64) bool {
	_, ok := c.entities[entityID]
	return ok
}

// Entities возвращает идентификаторы сущностей, находящихся в чанке.
func (c *Chunk) Entities() []uint64 {
	res := make([]uint64, 0, len(c.entities))
	for id := range c.entities {
		res = append(res, id)
	}
	return res
}

// Формат бинарного представления чанка:
//
//	байты 0..1  — магическая сигнатура "WC"
//	байт  2     — версия формата
//	байт  3     — сторона чанка в тайлах
//	байты 4..   — zstd-сжатая матрица блоков, little-endian uint16,
//	              построчно по X
const (
	chunkBlobMagic0  = 'W'
	chunkBlobMagic1  = 'C'
	chunkBlobVersion = 1
)

var (
	chunkEncoder *zstd.Encoder
	chunkDecoder *zstd.Decoder
)

func init() {
	var err error
	chunkEncoder, err = zstd.NewWriter(nil)
	if err != nil {
		panic(fmt.Sprintf("zstd writer: %v", err))
	}
	chunkDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("zstd reader: %v", err))
	}
}

// Encode сериализует матрицу блоков в компактный самоописывающий блоб.
func (c *Chunk) Encode() []byte {
	raw := make([]byte, vec.ChunkSize*vec.ChunkSize*2)
	i := 0
	for x := 0; x < vec.ChunkSize; x++ {
		for y := 0; y < vec.ChunkSize; y++ {
			binary.LittleEndian.PutUint16(raw[i:], uint16(c.Blocks[x][y]))
			i += 2
		}
	}

	header := []byte{chunkBlobMagic0, chunkBlobMagic1, chunkBlobVersion, vec.ChunkSize}
	return chunkEncoder.EncodeAll(raw, header)
}

// DecodeChunk восстанавливает чанк из блоба, созданного Encode.
// Кэш сущностей возвращается пустым.
func DecodeChunk(dat []byte) (*Chunk, error) {
	if len(dat) < 4 {
		return nil, fmt.Errorf("блоб чанка слишком короткий: %d байт", len(dat))
	}
	if dat[0] != chunkBlobMagic0 || dat[1] != chunkBlobMagic1 {
		return nil, fmt.Errorf("неверная сигнатура блоба чанка")
	}
	if dat[2] != chunkBlobVersion {
		return nil, fmt.Errorf("неподдерживаемая версия блоба чанка: %d", dat[2])
	}
	if dat[3] != vec.ChunkSize {
		return nil, fmt.Errorf("неожиданный размер чанка в блобе: %d", dat[3])
	}

	raw, err := chunkDecoder.DecodeAll(dat[4:], nil)
	if err != nil {
		return nil, fmt.Errorf("не удалось распаковать блоб чанка: %w", err)
	}
	if len(raw) != vec.ChunkSize*vec.ChunkSize*2 {
		return nil, fmt.Errorf("неожиданная длина матрицы блоков: %d байт", len(raw))
	}

	c := NewChunk()
	i := 0
	for x := 0; x < vec.ChunkSize; x++ {
		for y := 0; y < vec.ChunkSize; y++ {
			c.Blocks[x][y] = block.ID(binary.LittleEndian.Uint16(raw[i:]))
			i += 2
		}
	}
	return c, nil
}
