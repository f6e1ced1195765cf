// Package ingest holds the bounded store that absorbs wireless link writes.
//
// Buffer has exactly two sides. The producer side (Push, PushPayload) is
// called from the link's delivery callback and never blocks, sleeps or does
// I/O. The consumer side (TakeReady) is called from the main loop. The ring
// itself is touched only by the producer; finished batches cross to the
// consumer through a single atomic pointer, so each batch is handed over at
// most once.
package ingest

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/tevino/abool/v2"
)

// ErrBusy is returned when a push arrives while another push is still
// writing. The sample is dropped instead of waiting.
var ErrBusy = errors.New("ingest: producer busy")

// Batch is the most recent BatchSize samples, oldest first, taken when the
// write count reached a multiple of BatchSize.
type Batch struct {
	Seq     uint64   // 1-based emission number
	Samples []Sample // producer order
}

// Stats are running counters, safe to read from any goroutine.
type Stats struct {
	Writes     uint64 `json:"writes"`     // samples written to the ring
	Batches    uint64 `json:"batches"`    // batches emitted
	Superseded uint64 `json:"superseded"` // batches replaced before being taken
	Rejected   uint64 `json:"rejected"`   // payloads that failed to decode
	Dropped    uint64 `json:"dropped"`    // pushes refused while busy
}

// Buffer is a fixed-capacity ring of samples with batch-threshold readiness.
type Buffer struct {
	slots     []Sample
	batchSize int
	codec     Codec
	cursor    int // producer only

	busy  *abool.AtomicBool
	ready atomic.Pointer[Batch]

	writes     atomic.Uint64
	batches    atomic.Uint64
	superseded atomic.Uint64
	rejected   atomic.Uint64
	dropped    atomic.Uint64
}

// New creates a buffer of capacity slots that emits a batch every batchSize
// writes. codec is used by PushPayload and may be nil if only Push is used.
func New(capacity, batchSize int, codec Codec) (*Buffer, error) {
	if capacity <= 0 || batchSize <= 0 || batchSize > capacity {
		return nil, fmt.Errorf("invalid buffer parameters: capacity=%d, batchSize=%d", capacity, batchSize)
	}
	return &Buffer{
		slots:     make([]Sample, capacity),
		batchSize: batchSize,
		codec:     codec,
		busy:      abool.New(),
	}, nil
}

// Capacity returns the number of slots.
func (b *Buffer) Capacity() int { return len(b.slots) }

// BatchSize returns the number of samples per batch.
func (b *Buffer) BatchSize() int { return b.batchSize }

// Push writes one sample. Producer side.
func (b *Buffer) Push(s Sample) error {
	if !b.busy.SetToIf(false, true) {
		b.dropped.Add(1)
		return ErrBusy
	}
	b.write(s)
	b.busy.UnSet()
	return nil
}

// PushPayload decodes a raw link payload and writes every sample in it.
// A payload that does not decode completely is rejected and leaves the
// buffer unchanged. Producer side.
func (b *Buffer) PushPayload(payload []byte) (int, error) {
	if b.codec == nil {
		return 0, errors.New("ingest: no codec configured")
	}
	samples, err := b.codec.Decode(payload)
	if err != nil {
		b.rejected.Add(1)
		return 0, err
	}

	if !b.busy.SetToIf(false, true) {
		b.dropped.Add(uint64(len(samples)))
		return 0, ErrBusy
	}
	for _, s := range samples {
		b.write(s)
	}
	b.busy.UnSet()
	return len(samples), nil
}

func (b *Buffer) write(s Sample) {
	b.slots[b.cursor] = s
	b.cursor = (b.cursor + 1) % len(b.slots)

	n := b.writes.Add(1)
	if n%uint64(b.batchSize) == 0 {
		b.emit(n)
	}
}

// emit snapshots the last batchSize slots, handling wraparound, and
// publishes them as the ready batch.
func (b *Buffer) emit(n uint64) {
	capacity := len(b.slots)
	start := (b.cursor - b.batchSize + capacity) % capacity

	samples := make([]Sample, b.batchSize)
	for i := range samples {
		samples[i] = b.slots[(start+i)%capacity]
	}

	batch := &Batch{Seq: n / uint64(b.batchSize), Samples: samples}
	if old := b.ready.Swap(batch); old != nil {
		b.superseded.Add(1)
	}
	b.batches.Add(1)
}

// TakeReady returns the ready batch and clears the readiness flag. A batch
// is returned to at most one caller. Consumer side.
func (b *Buffer) TakeReady() (*Batch, bool) {
	batch := b.ready.Swap(nil)
	return batch, batch != nil
}

// Ready reports whether a batch is waiting, without taking it.
func (b *Buffer) Ready() bool {
	return b.ready.Load() != nil
}

// Stats returns a snapshot of the counters.
func (b *Buffer) Stats() Stats {
	return Stats{
		Writes:     b.writes.Load(),
		Batches:    b.batches.Load(),
		Superseded: b.superseded.Load(),
		Rejected:   b.rejected.Load(),
		Dropped:    b.dropped.Load(),
	}
}
