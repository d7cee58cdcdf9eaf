package vec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkIDOf(t *testing.T) {
	// Позиции (32,64) и (63,95) лежат в чанке (1,2)
	a := ChunkIDOf(TilePos{X: 32, Y: 64})
	b := ChunkIDOf(TilePos{X: 63, Y: 95})
	assert.Equal(t, a, b, "обе позиции должны принадлежать одному чанку")

	cx, cy := a.Coords()
	assert.Equal(t, uint32(1), cx, "координата X чанка должна быть 1")
	assert.Equal(t, uint32(2), cy, "координата Y чанка должна быть 2")

	// Позиция (31,63) лежит в чанке (0,1)
	cx, cy = ChunkIDOf(TilePos{X: 31, Y: 63}).Coords()
	assert.Equal(t, uint32(0), cx)
	assert.Equal(t, uint32(1), cy)
}

func TestChunkIDDependsOnlyOnHighBits(t *testing.T) {
	base := TilePos{X: 320, Y: 640}
	for dx := uint32(0); dx < ChunkSize; dx++ {
		for dy := uint32(0); dy < ChunkSize; dy++ {
			p := TilePos{X: base.X + dx, Y: base.Y + dy}
			assert.Equal(t, ChunkIDOf(base), ChunkIDOf(p),
				"идентификатор чанка должен зависеть только от старших бит")
		}
	}
	assert.NotEqual(t, ChunkIDOf(base), ChunkIDOf(TilePos{X: base.X + ChunkSize, Y: base.Y}))
}

func TestLocalInChunk(t *testing.T) {
	local := TilePos{X: 32, Y: 64}.LocalInChunk()
	assert.Equal(t, TilePos{X: 0, Y: 0}, local)

	local = TilePos{X: 33, Y: 95}.LocalInChunk()
	assert.Equal(t, TilePos{X: 1, Y: 31}, local)
}

func TestOffsetWraps(t *testing.T) {
	// Смещение за нижнюю границу должно переноситься в конец координатного пространства
	p := TilePos{X: 0, Y: 0}.Offset(-1, -1)
	assert.Equal(t, uint32(0xFFFFFFFF), p.X, "координата X должна переноситься")
	assert.Equal(t, uint32(0xFFFFFFFF), p.Y, "координата Y должна переноситься")

	p = TilePos{X: 0xFFFFFFFF, Y: 0xFFFFFFFF}.Offset(1, 1)
	assert.Equal(t, TilePos{X: 0, Y: 0}, p)
}

func TestChunksInRadius(t *testing.T) {
	center := TilePos{X: 128, Y: 128}
	ids := ChunksInRadius(center, 1)
	assert.Len(t, ids, 9, "радиус 1 должен покрывать 3x3 чанка")

	seen := make(map[ChunkID]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	assert.Contains(t, seen, ChunkIDOf(center), "собственный чанк должен входить в радиус")
	assert.Contains(t, seen, ChunkIDOf(center.Offset(-ChunkSize, -ChunkSize)))
	assert.Contains(t, seen, ChunkIDOf(center.Offset(ChunkSize, ChunkSize)))
}

func TestChunksInRadiusWrapsAroundOrigin(t *testing.T) {
	// Вблизи начала координат радиус должен захватывать чанки с другой стороны тора
	ids := ChunksInRadius(TilePos{X: 0, Y: 0}, 1)
	seen := make(map[ChunkID]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	assert.Contains(t, seen, ChunkIDFromCoords(0xFFFFFFFF>>5, 0xFFFFFFFF>>5),
		"последний чанк тора должен быть соседом нулевого")
}
