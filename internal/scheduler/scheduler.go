// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package scheduler decides when a report is built and sent, and backs off
// when the uplink keeps failing.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/relabs-tech/telemetry_node/internal/gps"
	"github.com/relabs-tech/telemetry_node/internal/indicator"
	"github.com/relabs-tech/telemetry_node/internal/ingest"
	"github.com/relabs-tech/telemetry_node/internal/logging"
	"github.com/relabs-tech/telemetry_node/internal/telemetry"
	"github.com/relabs-tech/telemetry_node/internal/uplink"
)

// Phase is where the scheduler is in its upload cycle. Idle is the resting
// phase; Success and Failed are reported by Tick for the tick that ended an
// attempt.
type Phase int

const (
	Idle Phase = iota
	Ready
	Sending
	Success
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "IDLE"
	case Ready:
		return "READY"
	case Sending:
		return "SENDING"
	case Success:
		return "SUCCESS"
	case Failed:
		return "FAILED"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UploadState is the backoff state.
type UploadState struct {
	LastAttempt         time.Time     `json:"last_attempt"`
	CurrentInterval     time.Duration `json:"current_interval"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
}

// Status is a point-in-time copy of the scheduler for observers.
type Status struct {
	UploadState
	Phase      Phase  `json:"phase"`
	Pending    bool   `json:"pending"`
	PendingSeq uint64 `json:"pending_seq,omitempty"`
	Attempts   uint64 `json:"attempts"`
	Successes  uint64 `json:"successes"`
	Failures   uint64 `json:"failures"`
	Replaced   uint64 `json:"replaced"` // unsent pending batches replaced by newer ones
}

// FixSource is the position side of the scheduler: the parser.
type FixSource interface {
	Fix() gps.Fix
	Invalidate()
}

// BatchSource hands over ready batches at most once each.
type BatchSource interface {
	TakeReady() (*ingest.Batch, bool)
}

// Options configures a Scheduler.
type Options struct {
	DeviceID         string
	MinInterval      time.Duration
	MaxInterval      time.Duration
	FailureThreshold int
	SendTimeout      time.Duration
	Location         *time.Location // report timestamps; defaults to time.Local

	// OnSent is called after every accepted report, on the Tick goroutine.
	OnSent func(rec telemetry.Record, payload []byte)
}

func (o Options) validate() error {
	if o.MinInterval <= 0 {
		return errors.New("min interval must be positive")
	}
	if o.MaxInterval < o.MinInterval {
		return fmt.Errorf("max interval %s is below min interval %s", o.MaxInterval, o.MinInterval)
	}
	if o.FailureThreshold <= 0 {
		return errors.New("failure threshold must be positive")
	}
	if o.SendTimeout <= 0 {
		return errors.New("send timeout must be positive")
	}
	return nil
}

// Scheduler runs the IDLE -> READY -> SENDING -> SUCCESS|FAILED cycle.
//
// Tick must be called from a single goroutine. Status may be called from
// any goroutine.
type Scheduler struct {
	opts      Options
	fixes     FixSource
	batches   BatchSource
	transport uplink.Transport
	indicator indicator.Indicator
	assembler *telemetry.Assembler
	log       *zap.Logger

	mu        sync.Mutex
	state     UploadState
	phase     Phase
	pending   *ingest.Batch
	attempts  uint64
	successes uint64
	failures  uint64
	replaced  uint64
}

// New creates a Scheduler. ind may be nil.
func New(opts Options, fixes FixSource, batches BatchSource, transport uplink.Transport, ind indicator.Indicator, logger *zap.Logger) (*Scheduler, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler options: %w", err)
	}
	if fixes == nil || batches == nil || transport == nil {
		return nil, errors.New("scheduler needs a fix source, a batch source and a transport")
	}
	if ind == nil {
		ind = indicator.None{}
	}

	return &Scheduler{
		opts:      opts,
		fixes:     fixes,
		batches:   batches,
		transport: transport,
		indicator: ind,
		assembler: telemetry.NewAssembler(opts.Location),
		log:       logging.OrNop(logger).Named("scheduler"),
		state:     UploadState{CurrentInterval: opts.MinInterval},
	}, nil
}

// Tick runs one scheduling step at now and reports how it ended: Idle when
// no attempt was made, otherwise Success or Failed.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) Phase {
	s.collect()

	s.mu.Lock()
	due := now.Sub(s.state.LastAttempt) >= s.state.CurrentInterval
	batch := s.pending
	s.mu.Unlock()

	if !due || batch == nil {
		return Idle
	}
	fix := s.fixes.Fix()
	if !fix.Valid {
		return Idle
	}

	s.setPhase(Ready)
	rec, ok := s.assembler.Build(s.opts.DeviceID, fix, batch, now)
	if !ok {
		s.setPhase(Idle)
		return Idle
	}
	payload, err := rec.Marshal()
	if err != nil {
		s.log.Error("failed to encode report", zap.Error(err))
		s.setPhase(Idle)
		return Idle
	}

	s.setPhase(Sending)
	sendCtx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	err = s.transport.Send(sendCtx, payload)
	cancel()

	if err != nil {
		s.fail(now, err)
		return Failed
	}
	s.succeed(now)
	s.indicator.Flash(indicator.Cyan, 2, 200*time.Millisecond)
	s.log.Debug("report sent",
		zap.Uint64("batch_seq", batch.Seq),
		zap.Int("samples", len(batch.Samples)),
		zap.String("size", humanize.Bytes(uint64(len(payload)))),
	)
	if s.opts.OnSent != nil {
		s.opts.OnSent(rec, payload)
	}
	return Success
}

// collect moves a freshly emitted batch into the pending slot. An unsent
// batch still waiting there is replaced.
func (s *Scheduler) collect() {
	batch, ok := s.batches.TakeReady()
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		s.replaced++
		s.log.Debug("unsent batch replaced",
			zap.Uint64("old_seq", s.pending.Seq),
			zap.Uint64("new_seq", batch.Seq),
		)
	}
	s.pending = batch
}

func (s *Scheduler) succeed(now time.Time) {
	s.fixes.Invalidate()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	s.successes++
	s.pending = nil
	s.state = UploadState{
		LastAttempt:     now,
		CurrentInterval: s.opts.MinInterval,
	}
	s.phase = Idle
}

func (s *Scheduler) fail(now time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	s.failures++
	s.state.LastAttempt = now
	s.state.ConsecutiveFailures++
	if s.state.ConsecutiveFailures >= s.opts.FailureThreshold {
		s.state.CurrentInterval = min(2*s.state.CurrentInterval, s.opts.MaxInterval)
		s.state.ConsecutiveFailures = 0
	}
	s.phase = Idle

	s.log.Warn("upload failed",
		zap.Error(err),
		zap.Int("consecutive_failures", s.state.ConsecutiveFailures),
		zap.Duration("interval", s.state.CurrentInterval),
	)
}

func (s *Scheduler) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// Status returns a copy of the scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		UploadState: s.state,
		Phase:       s.phase,
		Pending:     s.pending != nil,
		Attempts:    s.attempts,
		Successes:   s.successes,
		Failures:    s.failures,
		Replaced:    s.replaced,
	}
	if s.pending != nil {
		st.PendingSeq = s.pending.Seq
	}
	return st
}
