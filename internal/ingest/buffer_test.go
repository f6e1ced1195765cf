package ingest

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func values(b *Batch) []float32 {
	out := make([]float32, len(b.Samples))
	for i, s := range b.Samples {
		out[i] = s[0]
	}
	return out
}

func TestNew_InvalidParameters(t *testing.T) {
	_, err := New(0, 1, nil)
	assert.Error(t, err)
	_, err = New(4, 0, nil)
	assert.Error(t, err)
	_, err = New(4, 5, nil)
	assert.Error(t, err)
}

func TestBuffer_FourSamplesBatch(t *testing.T) {
	b, err := New(10, 4, nil)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, b.Push(Sample{float32(i)}))
		assert.False(t, b.Ready())
	}
	require.NoError(t, b.Push(Sample{4}))
	require.True(t, b.Ready())

	batch, ok := b.TakeReady()
	require.True(t, ok)
	assert.Equal(t, uint64(1), batch.Seq)
	assert.Equal(t, []float32{1, 2, 3, 4}, values(batch))
}

func TestBuffer_TakeReadyIsOnce(t *testing.T) {
	b, err := New(4, 2, nil)
	require.NoError(t, err)
	require.NoError(t, b.Push(Sample{1}))
	require.NoError(t, b.Push(Sample{2}))

	_, ok := b.TakeReady()
	assert.True(t, ok)
	batch, ok := b.TakeReady()
	assert.False(t, ok)
	assert.Nil(t, batch)
}

func TestBuffer_WraparoundKeepsProducerOrder(t *testing.T) {
	b, err := New(5, 3, nil)
	require.NoError(t, err)

	// 12 writes wrap the 5-slot ring twice; the last batch spans the seam
	for i := 1; i <= 12; i++ {
		require.NoError(t, b.Push(Sample{float32(i)}))
	}

	batch, ok := b.TakeReady()
	require.True(t, ok)
	assert.Equal(t, []float32{10, 11, 12}, values(batch))
	assert.Equal(t, uint64(4), batch.Seq)

	st := b.Stats()
	assert.Equal(t, uint64(12), st.Writes)
	assert.Equal(t, uint64(4), st.Batches)
	assert.Equal(t, uint64(3), st.Superseded)
}

func TestBuffer_NoSampleOlderThanCapacity(t *testing.T) {
	for _, tc := range []struct{ capacity, batch int }{{10, 4}, {8, 8}, {7, 3}, {400, 200}} {
		b, err := New(tc.capacity, tc.batch, nil)
		require.NoError(t, err)

		total := tc.capacity*3 + tc.batch
		for i := 1; i <= total; i++ {
			require.NoError(t, b.Push(Sample{float32(i)}))
			if i%tc.batch != 0 {
				continue
			}
			batch, ok := b.TakeReady()
			require.True(t, ok)
			require.Len(t, batch.Samples, tc.batch)
			for j, v := range values(batch) {
				assert.Greater(t, v, float32(i-tc.capacity), "capacity %d batch %d", tc.capacity, tc.batch)
				assert.Equal(t, float32(i-tc.batch+1+j), v)
			}
		}
	}
}

func TestBuffer_PushPayloadRejectsMalformed(t *testing.T) {
	codec, err := NewCodec("float32le", 2)
	require.NoError(t, err)
	b, err := New(10, 2, codec)
	require.NoError(t, err)

	n, err := b.PushPayload(codec.Encode(Sample{1.5, -2}))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	before := b.Stats()
	n, err = b.PushPayload([]byte{1, 2, 3, 4, 5, 6, 7}) // 7 bytes, not a multiple of 8
	assert.ErrorIs(t, err, ErrMalformedPayload)
	assert.Zero(t, n)

	after := b.Stats()
	assert.Equal(t, before.Writes, after.Writes)
	assert.Equal(t, before.Rejected+1, after.Rejected)
	assert.False(t, b.Ready())
}

func TestBuffer_PushPayloadMultipleSamples(t *testing.T) {
	codec, err := NewCodec("float32le", 1)
	require.NoError(t, err)
	b, err := New(10, 4, codec)
	require.NoError(t, err)

	var payload []byte
	for _, v := range []float32{0.25, 0.5, 0.75, 1} {
		payload = append(payload, codec.Encode(Sample{v})...)
	}
	n, err := b.PushPayload(payload)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	batch, ok := b.TakeReady()
	require.True(t, ok)
	assert.Equal(t, []float32{0.25, 0.5, 0.75, 1}, values(batch))
}

func TestBuffer_BusyProducerDrops(t *testing.T) {
	b, err := New(4, 2, nil)
	require.NoError(t, err)

	b.busy.Set()
	assert.ErrorIs(t, b.Push(Sample{1}), ErrBusy)
	b.busy.UnSet()
	require.NoError(t, b.Push(Sample{2}))

	st := b.Stats()
	assert.Equal(t, uint64(1), st.Dropped)
	assert.Equal(t, uint64(1), st.Writes)
}

func TestBuffer_ConcurrentProducerAndConsumer(t *testing.T) {
	const pushes = 10000
	b, err := New(16, 4, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= pushes; i++ {
			_ = b.Push(Sample{float32(i)})
		}
	}()

	seen := map[uint64]bool{}
	var lastSeq uint64
	for {
		if batch, ok := b.TakeReady(); ok {
			require.False(t, seen[batch.Seq], "batch %d handed out twice", batch.Seq)
			seen[batch.Seq] = true
			require.Greater(t, batch.Seq, lastSeq)
			lastSeq = batch.Seq
			vs := values(batch)
			for j := 1; j < len(vs); j++ {
				require.Equal(t, vs[j-1]+1, vs[j])
			}
		}
		if b.Stats().Writes == pushes && !b.Ready() {
			break
		}
	}
	wg.Wait()
	assert.NotEmpty(t, seen)
}
