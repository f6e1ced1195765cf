package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCodec(t *testing.T) {
	_, err := NewCodec("float32le", 0)
	assert.Error(t, err)
	_, err = NewCodec("protobuf", 1)
	assert.Error(t, err)

	c, err := NewCodec("ascii", 3)
	require.NoError(t, err)
	assert.Equal(t, "ascii", c.Name())
	assert.Equal(t, 3, c.Width())
}

func TestFloat32LE_Decode(t *testing.T) {
	c := Float32LE{width: 3}
	payload := append(c.Encode(Sample{1, 2, 3}), c.Encode(Sample{-4.5, 0, 9.25})...)

	got, err := c.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, []Sample{{1, 2, 3}, {-4.5, 0, 9.25}}, got)

	// known little-endian bytes for 1.0
	got, err = Float32LE{width: 1}.Decode([]byte{0x00, 0x00, 0x80, 0x3f})
	require.NoError(t, err)
	assert.Equal(t, []Sample{{1}}, got)
}

func TestFloat32LE_RejectsBadLength(t *testing.T) {
	for _, n := range []int{0, 1, 3, 4, 13} {
		_, err := Float32LE{width: 2}.Decode(make([]byte, n))
		assert.ErrorIs(t, err, ErrMalformedPayload, "len %d", n)
	}
}

func TestASCII_Decode(t *testing.T) {
	got, err := ASCII{width: 1}.Decode([]byte("7"))
	require.NoError(t, err)
	assert.Equal(t, []Sample{{7}}, got)

	got, err = ASCII{width: 3}.Decode([]byte("1.5, -2 3e1\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []Sample{{1.5, -2, 30}}, got)

	enc := ASCII{width: 2}.Encode(Sample{0.5, -1})
	assert.Equal(t, "0.5,-1", string(enc))
}

func TestASCII_Rejects(t *testing.T) {
	c := ASCII{width: 2}
	for _, in := range [][]byte{
		[]byte("1"),
		[]byte("1,2,3"),
		[]byte("1,x"),
		{0x31, 0x2c, 0xff},
		{},
	} {
		_, err := c.Decode(in)
		assert.ErrorIs(t, err, ErrMalformedPayload, "%q", in)
	}
}
