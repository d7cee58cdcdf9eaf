package world

import (
	"testing"

	"github.com/annel0/mmo-world/internal/vec"
	"github.com/annel0/mmo-world/internal/world/block"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatGeneratorUniformFloor(t *testing.T) {
	catalog := block.DefaultCatalog()
	gen := NewFlatGenerator()

	c := gen.GenerateChunk(vec.ChunkIDFromCoords(3, 4), catalog)
	stone, ok := catalog.IDByName("stonefloor")
	require.True(t, ok)

	for x := 0; x < vec.ChunkSize; x++ {
		for y := 0; y < vec.ChunkSize; y++ {
			assert.Equal(t, stone, c.Blocks[x][y], "эталонный генератор кладёт каменный пол всюду")
		}
	}
}

func TestNoiseGeneratorDeterministic(t *testing.T) {
	catalog := block.DefaultCatalog()
	g1 := NewNoiseGenerator(42)
	g2 := NewNoiseGenerator(42)

	cid := vec.ChunkIDFromCoords(10, 20)
	assert.Equal(t, g1.GenerateChunk(cid, catalog).Blocks, g2.GenerateChunk(cid, catalog).Blocks,
		"одинаковый сид должен давать одинаковый ландшафт")
}

func TestNoiseGeneratorAttributesInRange(t *testing.T) {
	g := NewNoiseGenerator(7)
	attrs := g.QueryAttributes(vec.TilePos{X: 1000, Y: 2000})

	for _, v := range []float32{attrs.Temperature, attrs.Altitude, attrs.Humidity} {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(1))
	}
}
