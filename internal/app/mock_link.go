// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/telemetry_node/internal/ingest"
)

// writeHandler is the link-side entry point shared with the BLE peripheral.
type writeHandler interface {
	HandleWrite(key string, payload []byte)
}

// mockLink stands in for a paired wearable. It emits smoothly changing
// samples on a ticker, encoded with the configured codec.
type mockLink struct {
	start    time.Time
	codec    ingest.Codec
	interval time.Duration
	out      writeHandler
	log      *zap.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

func newMockLink(codec ingest.Codec, interval time.Duration, out writeHandler, logger *zap.Logger) *mockLink {
	return &mockLink{
		start:    time.Now(),
		codec:    codec,
		interval: interval,
		out:      out,
		log:      logger.Named("mock_link"),
		stop:     make(chan struct{}),
	}
}

// sample returns the value at elapsed seconds. Channel i is a sine with its
// own frequency and phase.
func (m *mockLink) sample(elapsed float64) ingest.Sample {
	s := make(ingest.Sample, m.codec.Width())
	for i := range s {
		f := 1 + 0.7*float64(i)
		s[i] = float32(20 * math.Sin(elapsed*f+float64(i)))
	}
	return s
}

func (m *mockLink) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.log.Info("mock link started", zap.Duration("interval", m.interval), zap.String("encoding", m.codec.Name()))
		for {
			select {
			case <-m.stop:
				return
			case now := <-ticker.C:
				s := m.sample(now.Sub(m.start).Seconds())
				m.out.HandleWrite("mock", m.codec.Encode(s))
			}
		}
	}()
}

func (m *mockLink) Close() error {
	close(m.stop)
	m.wg.Wait()
	return nil
}
