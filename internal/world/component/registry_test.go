package component

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type health struct {
	Current int `json:"current"`
	Max     int `json:"max"`
}

func TestRegisterIdempotent(t *testing.T) {
	r := NewRegistry()
	id1 := Register[health](r, "health")
	id2 := Register[health](r, "health")
	assert.Equal(t, id1, id2, "повторная регистрация должна возвращать тот же идентификатор")
	assert.Equal(t, TypeIDOf("health"), id1)
}

func TestCodecRoundTrip(t *testing.T) {
	r := NewRegistry()
	id := Register[health](r, "health")
	c, ok := r.Lookup(id)
	require.True(t, ok)

	orig := health{Current: 7, Max: 20}
	raw, err := c.Encode(orig)
	require.NoError(t, err)

	back, err := c.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, orig, back, "десериализация сериализованного значения должна давать исходное")
	assert.True(t, c.Equal(orig, back), "детектор изменений должен считать значения равными")
	assert.False(t, c.Equal(orig, health{Current: 1, Max: 20}))
}

func TestDecodeUnknownType(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.Decode("no_such_type", json.RawMessage(`{}`))
	assert.True(t, errors.Is(err, ErrUnknownType), "незарегистрированный тип должен давать ErrUnknownType")
}

func TestDecodeByExactName(t *testing.T) {
	r := NewRegistry()
	Register[health](r, "health")

	v, id, err := r.Decode("health", json.RawMessage(`{"current":3,"max":10}`))
	require.NoError(t, err)
	assert.Equal(t, TypeIDOf("health"), id)
	assert.Equal(t, health{Current: 3, Max: 10}, v)

	// Совпадение должно быть точным, без нормализации регистра
	_, _, err = r.Decode("Health", json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestEncodeWrongDynamicType(t *testing.T) {
	r := NewRegistry()
	id := Register[health](r, "health")
	_, err := r.Encode(id, "не health")
	assert.Error(t, err, "сериализация значения чужого типа должна падать")
}
