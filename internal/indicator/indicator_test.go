package indicator

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLight struct {
	mu     sync.Mutex
	colors []Color
	err    error
	closed bool
}

func (l *recordingLight) Set(c Color) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.colors = append(l.colors, c)
	return nil
}

func (l *recordingLight) Close() error {
	l.closed = true
	return nil
}

func (l *recordingLight) seen() []Color {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Color(nil), l.colors...)
}

func TestFlasher_PlaysSequence(t *testing.T) {
	light := &recordingLight{}
	f := NewFlasher(light, nil)
	f.sleep = func(time.Duration) {}

	f.Flash(Cyan, 2, 10*time.Millisecond)
	f.Wait()

	assert.Equal(t, []Color{Cyan, Off, Cyan, Off}, light.seen())
}

func TestFlasher_DropsWhilePlaying(t *testing.T) {
	light := &recordingLight{}
	f := NewFlasher(light, nil)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	f.sleep = func(time.Duration) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	}

	f.Flash(Blue, 1, time.Millisecond)
	<-started
	f.Flash(Yellow, 1, time.Millisecond)
	close(release)
	f.Wait()

	assert.Equal(t, []Color{Blue, Off}, light.seen())

	f.Flash(Yellow, 1, time.Millisecond)
	f.Wait()
	assert.Equal(t, []Color{Blue, Off, Yellow, Off}, light.seen())
}

func TestFlasher_LightErrorEndsSequence(t *testing.T) {
	light := &recordingLight{err: errors.New("spi gone")}
	f := NewFlasher(light, nil)
	f.sleep = func(time.Duration) {}

	f.Flash(Green, 3, time.Millisecond)
	f.Wait()
	assert.Empty(t, light.seen())

	// the guard is released after a failed sequence
	light.mu.Lock()
	light.err = nil
	light.mu.Unlock()
	f.Flash(Green, 1, time.Millisecond)
	f.Wait()
	assert.Equal(t, []Color{Green, Off}, light.seen())
}

func TestFlasher_IgnoresNonPositiveTimes(t *testing.T) {
	light := &recordingLight{}
	f := NewFlasher(light, nil)
	f.Flash(Cyan, 0, time.Millisecond)
	f.Wait()
	assert.Empty(t, light.seen())
}

func TestFlasher_CloseReleasesLight(t *testing.T) {
	light := &recordingLight{}
	f := NewFlasher(light, nil)
	require.NoError(t, f.Close())
	assert.True(t, light.closed)
}

func TestOpen(t *testing.T) {
	ind, closeFn, err := Open("none", "", 0, nil)
	require.NoError(t, err)
	assert.IsType(t, None{}, ind)
	assert.NoError(t, closeFn())

	ind, closeFn, err = Open("log", "", 0, nil)
	require.NoError(t, err)
	ind.Flash(Green, 1, 0)
	assert.NoError(t, closeFn())

	_, _, err = Open("neon", "", 0, nil)
	assert.Error(t, err)
}

func TestFill(t *testing.T) {
	assert.Equal(t, []byte{0, 255, 255, 0, 255, 255}, fill(Cyan, 2))
}

func TestColorString(t *testing.T) {
	assert.Equal(t, "cyan", Cyan.String())
	assert.Equal(t, "#102030", Color{R: 0x10, G: 0x20, B: 0x30}.String())
}
