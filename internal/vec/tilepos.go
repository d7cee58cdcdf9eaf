package vec

import "math"

// ChunkSize определяет сторону чанка в тайлах.
const ChunkSize = 32

// TilePos представляет координаты тайла в мире.
// Мир тороидальный: арифметика по обеим осям выполняется по модулю 2^32.
type TilePos struct {
	X, Y uint32
}

// ChunkID представляет упакованный 64-битный идентификатор чанка:
// старшие 32 бита — координата X чанка, младшие — Y.
type ChunkID uint64

// ChunkIDOf возвращает идентификатор чанка, содержащего позицию.
func ChunkIDOf(p TilePos) ChunkID {
	return ChunkID(uint64(p.X>>5)<<32 | uint64(p.Y>>5))
}

// ChunkIDFromCoords собирает идентификатор из координат чанка.
func ChunkIDFromCoords(cx, cy uint32) ChunkID {
	return ChunkID(uint64(cx)<<32 | uint64(cy))
}

// Coords возвращает координаты чанка (в чанковой сетке).
func (c ChunkID) Coords() (cx, cy uint32) {
	return uint32(c >> 32), uint32(c)
}

// Origin возвращает тайловую позицию левого верхнего угла чанка.
func (c ChunkID) Origin() TilePos {
	cx, cy := c.Coords()
	return TilePos{X: cx << 5, Y: cy << 5}
}

// LocalInChunk возвращает позицию тайла относительно его чанка.
func (p TilePos) LocalInChunk() TilePos {
	return TilePos{X: p.X & (ChunkSize - 1), Y: p.Y & (ChunkSize - 1)}
}

// Offset смещает позицию на (dx, dy) тайлов с переносом через границы мира.
func (p TilePos) Offset(dx, dy int32) TilePos {
	return TilePos{X: p.X + uint32(dx), Y: p.Y + uint32(dy)}
}

// DistanceTo вычисляет евклидово расстояние до другой позиции без учёта
// тороидальности (для близких точек этого достаточно).
func (p TilePos) DistanceTo(other TilePos) float64 {
	dx := float64(int64(p.X) - int64(other.X))
	dy := float64(int64(p.Y) - int64(other.Y))
	return math.Sqrt(dx*dx + dy*dy)
}

// ChunksInRadius возвращает идентификаторы чанков в радиусе r чанков вокруг
// позиции, включая собственный чанк. Смещения считаются в диапазоне -r..r
// с переносом в 32-битном координатном пространстве.
func ChunksInRadius(p TilePos, r int) []ChunkID {
	ids := make([]ChunkID, 0, (2*r+1)*(2*r+1))
	for dx := -r; dx <= r; dx++ {
		for dy := -r; dy <= r; dy++ {
			shifted := p.Offset(int32(dx)*ChunkSize, int32(dy)*ChunkSize)
			ids = append(ids, ChunkIDOf(shifted))
		}
	}
	return ids
}
