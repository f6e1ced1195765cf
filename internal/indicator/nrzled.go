// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package indicator

import (
	"fmt"

	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/nrzled"
	"periph.io/x/host/v3"
)

// NRZ is a strip of WS2812 pixels driven over SPI. Every pixel shows the
// same color.
type NRZ struct {
	port   spi.PortCloser
	dev    *nrzled.Dev
	pixels int
}

// OpenNRZ initializes periph and opens the strip on spiDevice
// (e.g. "/dev/spidev0.0").
func OpenNRZ(spiDevice string, pixels int) (*NRZ, error) {
	if pixels <= 0 {
		return nil, fmt.Errorf("pixel count must be positive, got %d", pixels)
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	port, err := spireg.Open(spiDevice)
	if err != nil {
		return nil, fmt.Errorf("LED SPI open %s: %w", spiDevice, err)
	}

	opts := nrzled.DefaultOpts
	opts.NumPixels = pixels
	opts.Channels = 3

	dev, err := nrzled.NewSPI(port, &opts)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("LED init: %w", err)
	}

	n := &NRZ{port: port, dev: dev, pixels: pixels}
	if err := n.Set(Off); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

func (n *NRZ) Set(c Color) error {
	if _, err := n.dev.Write(fill(c, n.pixels)); err != nil {
		return fmt.Errorf("LED write: %w", err)
	}
	return nil
}

func (n *NRZ) Close() error {
	n.dev.Halt()
	return n.port.Close()
}

// fill returns an RGB frame with every pixel set to c.
func fill(c Color, pixels int) []byte {
	frame := make([]byte, 3*pixels)
	for i := 0; i < len(frame); i += 3 {
		frame[i] = c.R
		frame[i+1] = c.G
		frame[i+2] = c.B
	}
	return frame
}
