package world

import (
	"github.com/annel0/mmo-world/internal/vec"
	"github.com/annel0/mmo-world/internal/world/block"
	"github.com/aquilax/go-perlin"
)

// LocationAttributes описывает климатические характеристики позиции.
type LocationAttributes struct {
	Temperature float32
	Altitude    float32
	Humidity    float32
}

// ChunkGenerator — подключаемая способность генерации чанков.
type ChunkGenerator interface {
	// GenerateChunk создаёт блоки чанка, которого нет ни в памяти,
	// ни в персистентности.
	GenerateChunk(cid vec.ChunkID, catalog *block.Catalog) *Chunk
	// QueryAttributes возвращает характеристики местности в позиции.
	QueryAttributes(pos vec.TilePos) LocationAttributes
}

// FlatGenerator — эталонный генератор: сплошной пол из одного типа блока.
type FlatGenerator struct {
	BlockName string
}

// NewFlatGenerator создаёт генератор каменного пола.
func NewFlatGenerator() *FlatGenerator {
	return &FlatGenerator{BlockName: "stonefloor"}
}

// GenerateChunk заполняет чанк единственным типом блока.
func (g *FlatGenerator) GenerateChunk(cid vec.ChunkID, catalog *block.Catalog) *Chunk {
	id, _ := catalog.IDByName(g.BlockName)
	c := NewChunk()
	for x := 0; x < vec.ChunkSize; x++ {
		for y := 0; y < vec.ChunkSize; y++ {
			c.Blocks[x][y] = id
		}
	}
	return c
}

// QueryAttributes у плоского мира всюду одинаковы.
func (g *FlatGenerator) QueryAttributes(pos vec.TilePos) LocationAttributes {
	return LocationAttributes{Temperature: 0.5, Altitude: 0.5, Humidity: 0.5}
}

// Параметры шумовой генерации.
const (
	noiseAlpha  = 2.0
	noiseBeta   = 2.0
	noiseOctave = 3
	noiseScale  = 0.02
)

// Пороги высот для выбора блока.
const (
	waterMax = 0.30 // Ниже — вода
	pitMax   = 0.35 // Ниже — яма на границе воды
	wallMin  = 0.75 // Выше — стена
)

// NoiseGenerator генерирует ландшафт на основе шума Перлина: три
// независимых поля дают высоту, температуру и влажность.
type NoiseGenerator struct {
	seed        int64
	altitude    *perlin.Perlin
	temperature *perlin.Perlin
	humidity    *perlin.Perlin
}

// NewNoiseGenerator создаёт шумовой генератор с указанным сидом.
func NewNoiseGenerator(seed int64) *NoiseGenerator {
	return &NoiseGenerator{
		seed:        seed,
		altitude:    perlin.NewPerlin(noiseAlpha, noiseBeta, noiseOctave, seed),
		temperature: perlin.NewPerlin(noiseAlpha, noiseBeta, noiseOctave, seed+1),
		humidity:    perlin.NewPerlin(noiseAlpha, noiseBeta, noiseOctave, seed+2),
	}
}

// noiseAt нормализует значение шума из [-1,1] в [0,1].
func noiseAt(p *perlin.Perlin, pos vec.TilePos) float64 {
	v := p.Noise2D(float64(pos.X)*noiseScale, float64(pos.Y)*noiseScale)
	return (v + 1) / 2
}

// GenerateChunk выбирает блок каждого тайла по полю высот.
func (g *NoiseGenerator) GenerateChunk(cid vec.ChunkID, catalog *block.Catalog) *Chunk {
	floorID, _ := catalog.IDByName("stonefloor")
	wallID, hasWall := catalog.IDByName("stonewall")
	waterID, hasWater := catalog.IDByName("water")
	pitID, hasPit := catalog.IDByName("pit")

	origin := cid.Origin()
	c := NewChunk()
	for x := 0; x < vec.ChunkSize; x++ {
		for y := 0; y < vec.ChunkSize; y++ {
			pos := origin.Offset(int32(x), int32(y))
			h := noiseAt(g.altitude, pos)
			switch {
			case h < waterMax && hasWater:
				c.Blocks[x][y] = waterID
			case h < pitMax && hasPit:
				c.Blocks[x][y] = pitID
			case h > wallMin && hasWall:
				c.Blocks[x][y] = wallID
			default:
				c.Blocks[x][y] = floorID
			}
		}
	}
	return c
}

// QueryAttributes возвращает значения трёх шумовых полей в позиции.
func (g *NoiseGenerator) QueryAttributes(pos vec.TilePos) LocationAttributes {
	return LocationAttributes{
		Temperature: float32(noiseAt(g.temperature, pos)),
		Altitude:    float32(noiseAt(g.altitude, pos)),
		Humidity:    float32(noiseAt(g.humidity, pos)),
	}
}
