// Package indicator drives the node's status light.
//
// Flashes are fire-and-forget: Flash returns immediately and the on/off
// sequence plays on its own goroutine. Only one sequence plays at a time; a
// flash requested while another is still playing is dropped.
package indicator

import (
	"fmt"
	"sync"
	"time"

	"github.com/tevino/abool/v2"
	"go.uber.org/zap"

	"github.com/relabs-tech/telemetry_node/internal/logging"
)

// Color is an RGB triple.
type Color struct {
	R, G, B uint8
}

func (c Color) String() string {
	if name, ok := colorNames[c]; ok {
		return name
	}
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

var (
	Off    = Color{}
	Blue   = Color{B: 255}         // wireless link connected
	Yellow = Color{R: 255, G: 255} // position fix acquired
	Cyan   = Color{G: 255, B: 255} // upload succeeded
	Green  = Color{G: 255}         // startup complete
)

var colorNames = map[Color]string{
	Off:    "off",
	Blue:   "blue",
	Yellow: "yellow",
	Cyan:   "cyan",
	Green:  "green",
}

// Indicator is the capability the rest of the node uses.
type Indicator interface {
	Flash(c Color, times int, d time.Duration)
}

// Light shows a single color. Implementations need not be safe for
// concurrent use; Flasher serializes access.
type Light interface {
	Set(c Color) error
	Close() error
}

// Flasher plays flash sequences on a Light.
type Flasher struct {
	light   Light
	playing *abool.AtomicBool
	wg      sync.WaitGroup
	sleep   func(time.Duration)
	log     *zap.Logger
}

// NewFlasher wraps light. A nil light yields a Flasher that only logs.
func NewFlasher(light Light, logger *zap.Logger) *Flasher {
	return &Flasher{
		light:   light,
		playing: abool.New(),
		sleep:   time.Sleep,
		log:     logging.OrNop(logger).Named("indicator"),
	}
}

func (f *Flasher) Flash(c Color, times int, d time.Duration) {
	if times <= 0 {
		return
	}
	if !f.playing.SetToIf(false, true) {
		f.log.Debug("flash dropped, another sequence is playing", zap.Stringer("color", c))
		return
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer f.playing.UnSet()
		f.play(c, times, d)
	}()
}

func (f *Flasher) play(c Color, times int, d time.Duration) {
	f.log.Debug("flash", zap.Stringer("color", c), zap.Int("times", times), zap.Duration("duration", d))
	if f.light == nil {
		return
	}
	for i := 0; i < times; i++ {
		if err := f.light.Set(c); err != nil {
			f.log.Warn("failed to set light", zap.Error(err))
			return
		}
		f.sleep(d)
		if err := f.light.Set(Off); err != nil {
			f.log.Warn("failed to clear light", zap.Error(err))
			return
		}
		f.sleep(d)
	}
}

// Wait blocks until the current sequence, if any, has finished.
func (f *Flasher) Wait() {
	f.wg.Wait()
}

// Close waits for the current sequence and releases the light.
func (f *Flasher) Close() error {
	f.wg.Wait()
	if f.light == nil {
		return nil
	}
	return f.light.Close()
}

// None is an Indicator that does nothing.
type None struct{}

func (None) Flash(Color, int, time.Duration) {}

// Open builds the indicator selected by kind: "none", "log" or "nrzled".
func Open(kind, spiDevice string, pixels int, logger *zap.Logger) (Indicator, func() error, error) {
	switch kind {
	case "none", "":
		return None{}, func() error { return nil }, nil
	case "log":
		f := NewFlasher(nil, logger)
		return f, f.Close, nil
	case "nrzled":
		light, err := OpenNRZ(spiDevice, pixels)
		if err != nil {
			return nil, nil, err
		}
		f := NewFlasher(light, logger)
		return f, f.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown indicator %q", kind)
	}
}
