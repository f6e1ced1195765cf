// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"github.com/relabs-tech/telemetry_node/internal/ble"
	"github.com/relabs-tech/telemetry_node/internal/config"
	"github.com/relabs-tech/telemetry_node/internal/gps"
	"github.com/relabs-tech/telemetry_node/internal/indicator"
	"github.com/relabs-tech/telemetry_node/internal/ingest"
	"github.com/relabs-tech/telemetry_node/internal/logging"
	"github.com/relabs-tech/telemetry_node/internal/metrics"
	"github.com/relabs-tech/telemetry_node/internal/scheduler"
	"github.com/relabs-tech/telemetry_node/internal/telemetry"
	"github.com/relabs-tech/telemetry_node/internal/uplink"
)

// NodeStatus is what /api/status returns.
type NodeStatus struct {
	DeviceID      string           `json:"device_id"`
	StartedAt     time.Time        `json:"started_at"`
	Since         string           `json:"since"`
	Fix           gps.Fix          `json:"fix"`
	LastKnownGood *gps.Fix         `json:"last_known_good,omitempty"`
	Sentences     gps.Stats        `json:"sentences"`
	Buffer        ingest.Stats     `json:"buffer"`
	Upload        scheduler.Status `json:"upload"`
	Link          LinkStatus       `json:"link"`
}

// LinkStatus describes the wireless side.
type LinkStatus struct {
	Source    string         `json:"source"`
	Connected bool           `json:"connected"`
	Peers     []ble.PeerInfo `json:"peers"`
}

// nodeDeps replaces hardware-backed components. Nil fields are built from
// the configuration.
type nodeDeps struct {
	stream    gps.Stream
	transport uplink.Transport
	indicator indicator.Indicator
}

// Node owns every component and runs the main loop.
type Node struct {
	cfg       *config.Config
	log       *zap.Logger
	metrics   *metrics.Metrics
	indicator indicator.Indicator
	parser    *gps.Parser
	buffer    *ingest.Buffer
	link      *ble.Link
	scheduler *scheduler.Scheduler
	status    *statusServer
	startedAt time.Time

	// released in reverse order by Close
	closers []func() error

	// copies of the parser state for readers outside the loop
	mu        sync.RWMutex
	fix       gps.Fix
	lastGood  gps.Fix
	haveGood  bool
	sentences gps.Stats
}

// RunNode starts the node from the global configuration and runs it until
// SIGINT or SIGTERM.
func RunNode() error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("configuration not loaded")
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, "telemetry-node")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	node, err := NewNode(cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	defer node.Close()

	return node.Run(ctx)
}

// NewNode brings up every component in dependency order. If any step fails
// the components already started are released and the error is returned.
func NewNode(cfg *config.Config, logger *zap.Logger) (*Node, error) {
	return newNode(cfg, logger, nodeDeps{})
}

func newNode(cfg *config.Config, logger *zap.Logger, deps nodeDeps) (n *Node, err error) {
	n = &Node{
		cfg:       cfg,
		log:       logging.OrNop(logger),
		metrics:   metrics.New(),
		startedAt: time.Now(),
	}
	defer func() {
		if err != nil {
			n.Close()
			n = nil
		}
	}()

	// indicator
	n.indicator = deps.indicator
	if n.indicator == nil {
		ind, closeInd, err := indicator.Open(cfg.Indicator, cfg.IndicatorSPIDevice, cfg.IndicatorPixels, n.log)
		if err != nil {
			return n, fmt.Errorf("indicator: %w", err)
		}
		n.indicator = ind
		n.closers = append(n.closers, closeInd)
	}

	// positioning
	stream := deps.stream
	if stream == nil {
		rx, err := gps.OpenSerial(cfg.GPSSerialPort, cfg.GPSBaudRate, cfg.GPSReadSize, n.log)
		if err != nil {
			return n, err
		}
		stream = rx
		n.closers = append(n.closers, rx.Close)
	}
	n.parser = gps.NewParser(stream, gps.ParserOptions{
		MinInterval:    config.Millis(cfg.GPSPollInterval),
		VerifyChecksum: cfg.GPSVerifyChecksum,
		OnSentence:     n.metrics.Sentence,
		OnAcquired: func(f gps.Fix) {
			n.log.Info("position fix acquired", zap.Float64("lat", f.Latitude), zap.Float64("lon", f.Longitude))
			n.indicator.Flash(indicator.Yellow, 2, 200*time.Millisecond)
		},
	}, n.log)
	n.metrics.WatchPosition(n.currentFix)

	// ingest
	codec, err := ingest.NewCodec(cfg.SampleEncoding, cfg.SampleWidth)
	if err != nil {
		return n, err
	}
	n.buffer, err = ingest.New(cfg.BufferCapacity, cfg.BatchSize, codec)
	if err != nil {
		return n, err
	}
	n.metrics.WatchBuffer(n.buffer.Stats)

	// wireless link
	n.link = ble.NewLink(n.buffer, n.indicator, n.log)
	switch cfg.LinkSource {
	case "ble":
		err := n.link.Start(ble.PeripheralOptions{
			LocalName:   cfg.BLEDeviceName,
			ServiceUUID: cfg.BLEServiceUUID,
			CharUUID:    cfg.BLECharUUID,
		})
		if err != nil {
			return n, fmt.Errorf("ble link: %w", err)
		}
		n.closers = append(n.closers, n.link.Close)
	case "mock":
		mock := newMockLink(codec, config.Millis(cfg.MockSampleInterval), n.link, n.log)
		mock.Start()
		n.closers = append(n.closers, mock.Close)
	default:
		return n, fmt.Errorf("unknown link source %q", cfg.LinkSource)
	}
	n.metrics.WatchLink(n.link.PeerCount)

	// uplink
	transport := deps.transport
	if transport == nil {
		transport, err = newTransport(cfg, n.log)
		if err != nil {
			return n, err
		}
	}
	n.closers = append(n.closers, transport.Close)

	n.scheduler, err = scheduler.New(scheduler.Options{
		DeviceID:         cfg.DeviceID,
		MinInterval:      config.Millis(cfg.UploadMinInterval),
		MaxInterval:      config.Millis(cfg.UploadMaxInterval),
		FailureThreshold: cfg.UploadFailureThreshold,
		SendTimeout:      config.Millis(cfg.UploadTimeout),
		OnSent:           n.onSent,
	}, n.parser, n.buffer, transport, n.indicator, n.log)
	if err != nil {
		return n, err
	}
	n.metrics.WatchScheduler(n.scheduler.Status)

	// status server
	if cfg.StatusAddr != "" {
		n.status, err = newStatusServer(cfg.StatusAddr, n.Status, n.metrics.Handler(), n.log)
		if err != nil {
			return n, fmt.Errorf("status server: %w", err)
		}
		n.status.Start()
		n.closers = append(n.closers, n.status.Close)
	}

	n.log.Info("node started",
		zap.String("device_id", cfg.DeviceID),
		zap.String("link", cfg.LinkSource),
		zap.String("uplink", cfg.UplinkTransport),
	)
	n.indicator.Flash(indicator.Green, 2, 200*time.Millisecond)
	return n, nil
}

func newTransport(cfg *config.Config, logger *zap.Logger) (uplink.Transport, error) {
	switch cfg.UplinkTransport {
	case "http":
		return uplink.NewHTTPTransport(cfg.UploadURL, config.Millis(cfg.UploadTimeout), logger), nil
	case "mqtt":
		return uplink.NewMQTTTransport(uplink.MQTTOptions{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Topic:    cfg.MQTTTopic,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			QoS:      1,
			Timeout:  config.Millis(cfg.UploadTimeout),
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown uplink transport %q", cfg.UplinkTransport)
	}
}

// Run paces the main loop at LoopRate ticks per second until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	rl := ratelimit.New(n.cfg.LoopRate)
	for {
		now := rl.Take()
		if ctx.Err() != nil {
			n.log.Info("shutting down")
			return nil
		}
		n.step(ctx, now)
	}
}

// step is one loop iteration: read the receiver, then give the scheduler
// a chance to upload.
func (n *Node) step(ctx context.Context, now time.Time) {
	n.parser.Poll(now)
	n.publishFix()
	if n.scheduler.Tick(ctx, now) == scheduler.Success {
		n.publishFix()
	}
}

func (n *Node) publishFix() {
	lastGood, ok := n.parser.LastKnownGood()
	n.mu.Lock()
	n.fix = n.parser.Fix()
	n.lastGood, n.haveGood = lastGood, ok
	n.sentences = n.parser.Stats()
	n.mu.Unlock()
}

func (n *Node) currentFix() gps.Fix {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.fix
}

func (n *Node) onSent(rec telemetry.Record, payload []byte) {
	if n.status != nil {
		n.status.Broadcast(payload)
	}
}

// Status returns a snapshot for the status API. Safe from any goroutine.
func (n *Node) Status() NodeStatus {
	n.mu.RLock()
	st := NodeStatus{
		DeviceID:  n.cfg.DeviceID,
		StartedAt: n.startedAt,
		Since:     humanize.Time(n.startedAt),
		Fix:       n.fix,
		Sentences: n.sentences,
	}
	if n.haveGood {
		lg := n.lastGood
		st.LastKnownGood = &lg
	}
	n.mu.RUnlock()

	st.Buffer = n.buffer.Stats()
	st.Upload = n.scheduler.Status()
	st.Link = LinkStatus{
		Source:    n.cfg.LinkSource,
		Connected: n.link.Connected(),
		Peers:     n.link.Peers(),
	}
	return st
}

// Close releases every component in reverse start order.
func (n *Node) Close() error {
	var errs []error
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	n.closers = nil
	return errors.Join(errs...)
}
