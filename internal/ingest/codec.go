package ingest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrMalformedPayload is returned when a link payload does not decode to a
// whole number of samples.
var ErrMalformedPayload = errors.New("ingest: malformed payload")

// Sample is one decoded reading from the wireless link. A sample is never
// modified after it has been decoded.
type Sample []float32

// Codec converts link payloads to samples and back.
type Codec interface {
	Name() string
	Width() int
	Decode(payload []byte) ([]Sample, error)
	Encode(s Sample) []byte
}

// NewCodec returns the codec registered under name.
func NewCodec(name string, width int) (Codec, error) {
	if width <= 0 {
		return nil, fmt.Errorf("ingest: sample width must be positive, got %d", width)
	}
	switch name {
	case "float32le":
		return Float32LE{width: width}, nil
	case "ascii":
		return ASCII{width: width}, nil
	default:
		return nil, fmt.Errorf("ingest: unknown sample encoding %q", name)
	}
}

// Float32LE decodes runs of little-endian IEEE-754 float32 values, width
// values per sample. A payload may carry several samples back to back.
type Float32LE struct {
	width int
}

func (c Float32LE) Name() string { return "float32le" }
func (c Float32LE) Width() int   { return c.width }

func (c Float32LE) Decode(payload []byte) ([]Sample, error) {
	stride := 4 * c.width
	if len(payload) == 0 || len(payload)%stride != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrMalformedPayload, len(payload), stride)
	}

	out := make([]Sample, 0, len(payload)/stride)
	for off := 0; off < len(payload); off += stride {
		s := make(Sample, c.width)
		for i := range s {
			bits := binary.LittleEndian.Uint32(payload[off+4*i:])
			s[i] = math.Float32frombits(bits)
		}
		out = append(out, s)
	}
	return out, nil
}

func (c Float32LE) Encode(s Sample) []byte {
	buf := make([]byte, 4*len(s))
	for i, v := range s {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// ASCII decodes one sample per payload written as decimal text, values
// separated by commas or whitespace. The single-character-per-write scheme
// is the width 1 case.
type ASCII struct {
	width int
}

func (c ASCII) Name() string { return "ascii" }
func (c ASCII) Width() int   { return c.width }

func (c ASCII) Decode(payload []byte) ([]Sample, error) {
	for _, b := range payload {
		if b > 0x7e || (b < 0x20 && b != '\t' && b != '\r' && b != '\n') {
			return nil, fmt.Errorf("%w: non-printable byte 0x%02x", ErrMalformedPayload, b)
		}
	}

	tokens := strings.FieldsFunc(string(payload), func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\r' || r == '\n'
	})
	if len(tokens) != c.width {
		return nil, fmt.Errorf("%w: %d values, want %d", ErrMalformedPayload, len(tokens), c.width)
	}

	s := make(Sample, c.width)
	for i, tok := range tokens {
		v, err := strconv.ParseFloat(tok, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		s[i] = float32(v)
	}
	return []Sample{s}, nil
}

func (c ASCII) Encode(s Sample) []byte {
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
	}
	return []byte(strings.Join(parts, ","))
}
