package app

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relabs-tech/telemetry_node/internal/ingest"
)

type recordingHandler struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (r *recordingHandler) HandleWrite(key string, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
}

func (r *recordingHandler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func TestMockLink_EmitsDecodableSamples(t *testing.T) {
	for _, encoding := range []string{"float32le", "ascii"} {
		t.Run(encoding, func(t *testing.T) {
			codec, err := ingest.NewCodec(encoding, 3)
			require.NoError(t, err)

			out := &recordingHandler{}
			m := newMockLink(codec, 2*time.Millisecond, out, zap.NewNop())
			m.Start()
			require.Eventually(t, func() bool { return out.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
			require.NoError(t, m.Close())

			out.mu.Lock()
			defer out.mu.Unlock()
			for _, p := range out.payloads {
				samples, err := codec.Decode(p)
				require.NoError(t, err)
				require.Len(t, samples, 1)
				assert.Len(t, samples[0], 3)
				for _, v := range samples[0] {
					assert.LessOrEqual(t, v, float32(20))
					assert.GreaterOrEqual(t, v, float32(-20))
				}
			}
		})
	}
}

func TestMockLink_SampleIsSmooth(t *testing.T) {
	codec, err := ingest.NewCodec("float32le", 2)
	require.NoError(t, err)
	m := newMockLink(codec, time.Second, &recordingHandler{}, zap.NewNop())

	a, b := m.sample(1.0), m.sample(1.01)
	for i := range a {
		assert.InDelta(t, a[i], b[i], 1)
	}
	assert.NotEqual(t, a[0], a[1], "channels differ")
}
