package block

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogRegisterAndLookup(t *testing.T) {
	c := NewCatalog()
	id := c.Register(Type{CanonicalName: "stonefloor", DescriptiveName: "Stone floor", Layer: LayerGround})

	got, ok := c.Get(id)
	require.True(t, ok, "тип должен находиться по идентификатору")
	assert.Equal(t, "stonefloor", got.CanonicalName)

	byName, ok := c.GetByName("stonefloor")
	require.True(t, ok, "тип должен находиться по имени")
	assert.Equal(t, got, byName)

	_, ok = c.GetByName("lava")
	assert.False(t, ok, "незарегистрированное имя не должно находиться")
}

func TestIDOfStable(t *testing.T) {
	// Идентификатор должен быть детерминированным между вызовами
	assert.Equal(t, IDOf("stonefloor"), IDOf("stonefloor"))
	assert.NotEqual(t, IDOf("stonefloor"), IDOf("water"))
}

func TestCatalogLoadJSON(t *testing.T) {
	raw := []byte(`[
		{"canonical_name":"grass","descriptive_name":"Grass","raw_path":"blocks/grass","layer":"ground"},
		{"canonical_name":"boulder","descriptive_name":"Boulder","raw_path":"blocks/boulder","layer":"solid"}
	]`)

	c := NewCatalog()
	require.NoError(t, c.LoadJSON(raw))
	assert.Equal(t, 2, c.Len())

	grass, ok := c.GetByName("grass")
	require.True(t, ok)
	assert.Equal(t, LayerGround, grass.Layer)

	boulder, ok := c.GetByName("boulder")
	require.True(t, ok)
	assert.Equal(t, LayerSolid, boulder.Layer)
}

func TestCatalogLoadJSONRejectsUnknownLayer(t *testing.T) {
	c := NewCatalog()
	err := c.LoadJSON([]byte(`[{"canonical_name":"x","layer":"plasma"}]`))
	assert.Error(t, err, "неизвестный слой должен приводить к ошибке")
}
