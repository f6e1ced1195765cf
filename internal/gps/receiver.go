package gps

import (
	"errors"
	"fmt"
	"io"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
	"github.com/tevino/abool/v2"
	"go.uber.org/zap"

	"github.com/relabs-tech/telemetry_node/internal/logging"
)

// pendingChunks is how many reads the receiver holds before it starts
// dropping. At 9600 baud a 1 KiB read is roughly one second of output.
const pendingChunks = 8

const closeWait = time.Second

// Receiver reads the positioning module on a background goroutine and hands
// the bytes to the parser through Drain, which never blocks.
type Receiver struct {
	port    io.ReadCloser
	chunks  chan []byte
	closed  *abool.AtomicBool
	done    chan struct{}
	dropped uint64
	log     *zap.Logger
}

// OpenSerial opens the receiver's UART (8N1) and starts reading from it.
func OpenSerial(portName string, baud, readSize int, logger *zap.Logger) (*Receiver, error) {
	opts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open GPS serial port %s: %w", portName, err)
	}
	r := NewReceiver(port, readSize, logger)
	r.log.Info("GPS serial port opened", zap.String("port", portName), zap.Int("baud", baud))
	return r, nil
}

// NewReceiver starts reading from port in chunks of at most readSize bytes.
func NewReceiver(port io.ReadCloser, readSize int, logger *zap.Logger) *Receiver {
	if readSize <= 0 {
		readSize = 1024
	}
	r := &Receiver{
		port:   port,
		chunks: make(chan []byte, pendingChunks),
		closed: abool.New(),
		done:   make(chan struct{}),
		log:    logging.OrNop(logger).Named("gps.receiver"),
	}
	go r.run(readSize)
	return r
}

func (r *Receiver) run(readSize int) {
	defer close(r.done)

	buf := make([]byte, readSize)
	for {
		n, err := r.port.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case r.chunks <- chunk:
			default:
				// only this goroutine writes dropped before done is closed
				r.dropped++
			}
		}
		if err != nil {
			if r.closed.IsSet() {
				return
			}
			if errors.Is(err, io.EOF) {
				r.log.Info("GPS stream ended")
				return
			}
			r.log.Warn("GPS read error, stopping receiver", zap.Error(err))
			return
		}
	}
}

// Drain returns every byte read since the previous call, or nil.
func (r *Receiver) Drain() []byte {
	var out []byte
	for {
		select {
		case c := <-r.chunks:
			out = append(out, c...)
		default:
			return out
		}
	}
}

// Close stops the reader and closes the port.
func (r *Receiver) Close() error {
	if !r.closed.SetToIf(false, true) {
		return nil
	}
	err := r.port.Close()
	select {
	case <-r.done:
		if r.dropped > 0 {
			r.log.Warn("GPS chunks dropped while loop was busy", zap.Uint64("chunks", r.dropped))
		}
	case <-time.After(closeWait):
		// some tty drivers do not interrupt a pending read on close
		r.log.Warn("GPS reader did not stop after close")
	}
	return err
}
