package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_Int(t *testing.T) {
	n, err := Found("42").Int()
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	_, err = Found("forty-two").Int()
	require.ErrorIs(t, err, ErrCorruptValue)

	_, err = Found("1.5").Int()
	require.ErrorIs(t, err, ErrCorruptValue)
}

func TestValue_Float(t *testing.T) {
	f, err := Found("-60").Float()
	require.NoError(t, err)
	assert.Equal(t, -60.0, f)

	f, err = Found("12.25").Float()
	require.NoError(t, err)
	assert.Equal(t, 12.25, f)

	_, err = Found("").Float()
	require.ErrorIs(t, err, ErrCorruptValue)
}

func TestValue_Absent(t *testing.T) {
	var v Value
	assert.False(t, v.Present)
	assert.True(t, Found("0").Present)
}
