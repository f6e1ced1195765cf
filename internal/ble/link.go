// Package ble receives sample payloads from a phone or wearable over a BLE
// GATT peripheral and feeds them into the ingest buffer.
package ble

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map"
	"github.com/tevino/abool/v2"
	"go.uber.org/zap"

	"github.com/relabs-tech/telemetry_node/internal/indicator"
	"github.com/relabs-tech/telemetry_node/internal/ingest"
	"github.com/relabs-tech/telemetry_node/internal/logging"
)

// Sink accepts raw payloads. Implemented by *ingest.Buffer.
type Sink interface {
	PushPayload(payload []byte) (int, error)
}

// peer tracks one connection handle.
type peer struct {
	firstSeen time.Time
	writes    atomic.Uint64
	samples   atomic.Uint64
}

// PeerInfo is a snapshot of one peer.
type PeerInfo struct {
	Handle    string    `json:"handle"`
	FirstSeen time.Time `json:"first_seen"`
	Writes    uint64    `json:"writes"`
	Samples   uint64    `json:"samples"`
}

// Link routes write events into a Sink. HandleWrite runs in the radio
// stack's callback context and never blocks.
type Link struct {
	sink      Sink
	indicator indicator.Indicator
	peers     cmap.ConcurrentMap
	connected *abool.AtomicBool
	log       *zap.Logger

	stop func() error
}

// NewLink creates a link delivering into sink. ind may be nil.
func NewLink(sink Sink, ind indicator.Indicator, logger *zap.Logger) *Link {
	if ind == nil {
		ind = indicator.None{}
	}
	return &Link{
		sink:      sink,
		indicator: ind,
		peers:     cmap.New(),
		connected: abool.New(),
		log:       logging.OrNop(logger).Named("ble"),
	}
}

// HandleWrite delivers one characteristic write from the peer identified
// by key.
func (l *Link) HandleWrite(key string, payload []byte) {
	p := &peer{firstSeen: time.Now()}
	if l.peers.SetIfAbsent(key, p) {
		l.connected.Set()
		l.indicator.Flash(indicator.Blue, 2, 200*time.Millisecond)
		l.log.Info("peer connected", zap.String("handle", key))
	} else if v, ok := l.peers.Get(key); ok {
		p = v.(*peer)
	}
	p.writes.Add(1)

	n, err := l.sink.PushPayload(payload)
	switch {
	case errors.Is(err, ingest.ErrMalformedPayload):
		l.log.Debug("dropping malformed payload", zap.String("handle", key), zap.Int("bytes", len(payload)), zap.Error(err))
	case errors.Is(err, ingest.ErrBusy):
		l.log.Debug("dropping payload, buffer busy", zap.String("handle", key))
	case err != nil:
		l.log.Warn("failed to ingest payload", zap.String("handle", key), zap.Error(err))
	default:
		p.samples.Add(uint64(n))
	}
}

// Connected reports whether any peer has written since startup.
func (l *Link) Connected() bool {
	return l.connected.IsSet()
}

// PeerCount returns the number of peers seen.
func (l *Link) PeerCount() int {
	return l.peers.Count()
}

// Peers returns a snapshot of every peer seen.
func (l *Link) Peers() []PeerInfo {
	out := make([]PeerInfo, 0, l.peers.Count())
	for item := range l.peers.IterBuffered() {
		p := item.Val.(*peer)
		out = append(out, PeerInfo{
			Handle:    item.Key,
			FirstSeen: p.firstSeen,
			Writes:    p.writes.Load(),
			Samples:   p.samples.Load(),
		})
	}
	return out
}

// Close stops advertising, if Start was called.
func (l *Link) Close() error {
	if l.stop == nil {
		return nil
	}
	if err := l.stop(); err != nil {
		return fmt.Errorf("stop advertising: %w", err)
	}
	return nil
}
