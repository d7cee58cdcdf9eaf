package world

import (
	"testing"

	"github.com/annel0/mmo-world/internal/vec"
	"github.com/annel0/mmo-world/internal/world/block"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkBlobRoundTrip(t *testing.T) {
	c := NewChunk()
	for x := 0; x < vec.ChunkSize; x++ {
		for y := 0; y < vec.ChunkSize; y++ {
			c.Blocks[x][y] = block.ID(x*vec.ChunkSize + y)
		}
	}
	c.AddEntity(42) // Кэш сущностей не должен попадать в блоб

	blob := c.Encode()
	back, err := DecodeChunk(blob)
	require.NoError(t, err, "декодирование собственного блоба не должно падать")

	assert.Equal(t, c.Blocks, back.Blocks, "матрица блоков должна пережить round-trip")
	assert.Empty(t, back.Entities(), "кэш сущностей восстанавливается пустым")
}

func TestDecodeChunkRejectsGarbage(t *testing.T) {
	_, err := DecodeChunk([]byte{1, 2, 3})
	assert.Error(t, err, "короткий блоб должен отклоняться")

	_, err = DecodeChunk([]byte{'X', 'Y', 1, 32, 0, 0})
	assert.Error(t, err, "неверная сигнатура должна отклоняться")

	_, err = DecodeChunk([]byte{'W', 'C', 99, 32})
	assert.Error(t, err, "неизвестная версия должна отклоняться")
}

func TestChunkEntityCache(t *testing.T) {
	c := NewChunk()
	c.AddEntity(1)
	c.AddEntity(2)

	assert.True(t, c.ContainsEntity(1))
	assert.ElementsMatch(t, []uint64{1, 2}, c.Entities())

	assert.True(t, c.RemoveEntity(1))
	assert.False(t, c.RemoveEntity(1), "повторное удаление должно возвращать false")
	assert.False(t, c.ContainsEntity(1))
}

func BenchmarkChunkEncode(b *testing.B) {
	c := NewChunk()
	for x := 0; x < vec.ChunkSize; x++ {
		for y := 0; y < vec.ChunkSize; y++ {
			c.Blocks[x][y] = block.ID((x + y) % 7)
		}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Encode()
	}
}
