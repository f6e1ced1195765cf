package gps

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"go.uber.org/zap"

	"github.com/relabs-tech/telemetry_node/internal/logging"
)

var (
	// ErrUnsupportedSentence is returned for sentences other than GLL.
	ErrUnsupportedSentence = errors.New("gps: unsupported sentence")
	// ErrMalformedSentence is returned for GLL sentences that cannot be decoded.
	ErrMalformedSentence = errors.New("gps: malformed sentence")
)

// maxFragment bounds the carry-over of an unterminated sentence between polls.
// NMEA caps a sentence at 82 characters.
const maxFragment = 256

// gllFields is the minimum number of comma separated fields in a GLL sentence,
// address included, up to and including the status field.
const gllFields = 7

// Stream is a source of raw receiver bytes that never blocks.
type Stream interface {
	Drain() []byte
}

// ParserOptions configures a Parser.
type ParserOptions struct {
	// MinInterval is the minimum time between two polls that actually read
	// the stream. Calls in between return immediately.
	MinInterval time.Duration
	// VerifyChecksum rejects sentences whose checksum does not match.
	VerifyChecksum bool
	// OnAcquired is called from Poll when the fix goes from invalid to valid.
	OnAcquired func(Fix)
	// OnSentence is called once per handled line with "valid", "void",
	// "malformed" or "ignored".
	OnSentence func(result string)
}

// Parser turns the receiver stream into a Fix with last-known-good fallback.
// All methods must be called from the same goroutine.
type Parser struct {
	src    Stream
	opts   ParserOptions
	log    *zap.Logger
	nmea   nmea.SentenceParser
	carry  []byte
	polled time.Time

	fix      Fix
	lastGood Fix
	haveGood bool
	stats    Stats
}

// NewParser creates a parser reading from src.
func NewParser(src Stream, opts ParserOptions, logger *zap.Logger) *Parser {
	p := &Parser{
		src:  src,
		opts: opts,
		log:  logging.OrNop(logger).Named("gps"),
	}
	if !opts.VerifyChecksum {
		// The receiver firmware this node shipped with never validated
		// checksums; many cheap modules emit stale ones.
		p.nmea.CheckCRC = func(nmea.BaseSentence, string) error { return nil }
	}
	return p
}

// Poll drains the stream and applies every complete sentence in order.
// It never fails; undecodable input leaves the fix untouched.
func (p *Parser) Poll(now time.Time) {
	if !p.polled.IsZero() && now.Sub(p.polled) < p.opts.MinInterval {
		return
	}
	p.polled = now

	data := p.src.Drain()
	if len(data) == 0 {
		return
	}
	p.carry = append(p.carry, data...)

	for {
		i := bytes.IndexByte(p.carry, '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimRight(p.carry[:i], "\r"))
		n := copy(p.carry, p.carry[i+1:])
		p.carry = p.carry[:n]
		p.handle(line, now)
	}

	if len(p.carry) > maxFragment {
		p.log.Debug("dropping unterminated sentence fragment", zap.Int("bytes", len(p.carry)))
		p.carry = p.carry[:0]
	}
}

// Feed applies one sentence as if it had just been read from the stream.
func (p *Parser) Feed(line string, now time.Time) {
	p.handle(line, now)
}

func (p *Parser) handle(line string, now time.Time) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	valid, lat, lon, err := p.decode(line)
	switch {
	case errors.Is(err, ErrUnsupportedSentence):
		p.stats.Ignored++
		p.report("ignored")
		return
	case err != nil:
		p.stats.Malformed++
		p.report("malformed")
		p.log.Debug("discarding sentence", zap.String("sentence", line), zap.Error(err))
		return
	}

	wasValid := p.fix.Valid
	if valid {
		p.fix = Fix{Latitude: lat, Longitude: lon, Valid: true, CapturedAt: now}
		p.lastGood = p.fix
		p.haveGood = true
		p.stats.Valid++
		p.report("valid")
		p.log.Debug("valid fix", zap.Float64("lat", lat), zap.Float64("lon", lon))
	} else {
		p.stats.Void++
		p.report("void")
		if p.haveGood {
			p.fix = p.lastGood
			p.log.Debug("void sentence, using last known fix",
				zap.Float64("lat", p.fix.Latitude), zap.Float64("lon", p.fix.Longitude))
		} else {
			p.fix.Valid = false
			p.log.Debug("void sentence, no fix yet")
		}
	}

	if !wasValid && p.fix.Valid && p.opts.OnAcquired != nil {
		p.opts.OnAcquired(p.fix)
	}
}

// decode reports whether line is an active GLL and, if so, its coordinates.
// The status field is inspected before the coordinates so a void sentence
// with empty position fields still counts as void rather than malformed.
func (p *Parser) decode(line string) (valid bool, lat, lon float64, err error) {
	if !strings.HasPrefix(line, "$") {
		return false, 0, 0, ErrUnsupportedSentence
	}
	body := line[1:]
	if i := strings.IndexByte(body, '*'); i >= 0 {
		body = body[:i]
	}
	fields := strings.Split(body, ",")
	if !strings.HasSuffix(fields[0], nmea.TypeGLL) {
		return false, 0, 0, ErrUnsupportedSentence
	}
	if len(fields) < gllFields {
		return false, 0, 0, fmt.Errorf("%w: %d fields", ErrMalformedSentence, len(fields))
	}
	if p.opts.VerifyChecksum && !checksumOK(line) {
		return false, 0, 0, fmt.Errorf("%w: checksum mismatch", ErrMalformedSentence)
	}
	if fields[6] != nmea.ValidGLL {
		return false, 0, 0, nil
	}

	s, err := p.nmea.Parse(line)
	if err != nil {
		return false, 0, 0, fmt.Errorf("%w: %v", ErrMalformedSentence, err)
	}
	gll, ok := s.(nmea.GLL)
	if !ok {
		return false, 0, 0, fmt.Errorf("%w: unexpected type %s", ErrMalformedSentence, s.DataType())
	}
	return true, gll.Latitude, gll.Longitude, nil
}

// checksumOK reports whether the two hex digits after '*' equal the XOR of
// every byte between '$' and '*'.
func checksumOK(line string) bool {
	star := strings.LastIndexByte(line, '*')
	if star < 1 || len(line) < star+3 {
		return false
	}
	want, err := strconv.ParseUint(line[star+1:star+3], 16, 8)
	if err != nil {
		return false
	}
	var sum byte
	for i := 1; i < star; i++ {
		sum ^= line[i]
	}
	return sum == byte(want)
}

func (p *Parser) report(result string) {
	if p.opts.OnSentence != nil {
		p.opts.OnSentence(result)
	}
}

// Fix returns a copy of the current fix.
func (p *Parser) Fix() Fix {
	return p.fix
}

// LastKnownGood returns the most recent active fix, if any.
func (p *Parser) LastKnownGood() (Fix, bool) {
	return p.lastGood, p.haveGood
}

// Invalidate marks the current fix as consumed. The last known good fix is
// kept, so the next void sentence restores it.
func (p *Parser) Invalidate() {
	p.fix.Valid = false
}

// Stats returns sentence counters.
func (p *Parser) Stats() Stats {
	return p.stats
}
