// Package telemetry assembles the report the node sends upstream.
package telemetry

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/relabs-tech/telemetry_node/internal/gps"
	"github.com/relabs-tech/telemetry_node/internal/ingest"
)

// TimestampLayout is the server's time_stamp format, in the node's local time.
const TimestampLayout = "2006-01-02 15:04:05"

// CoordinateDecimals is the fixed precision of position_x and position_y.
const CoordinateDecimals = 6

// Record is one report. Records are built fresh for every upload attempt
// and never modified afterwards.
type Record struct {
	DeviceID  string          `json:"device_id"`
	PositionX string          `json:"position_x"` // longitude
	PositionY string          `json:"position_y"` // latitude
	Timestamp string          `json:"time_stamp"`
	UserData  []ingest.Sample `json:"user_data"`
}

// Marshal encodes the record as the JSON document the server expects.
func (r Record) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Assembler merges a fix and a batch into a Record. It caches the formatted
// timestamp for the current wall-clock second. Not safe for concurrent use.
type Assembler struct {
	loc *time.Location

	cachedSec int64
	cached    string
}

// NewAssembler formats timestamps in loc; nil means time.Local.
func NewAssembler(loc *time.Location) *Assembler {
	if loc == nil {
		loc = time.Local
	}
	return &Assembler{loc: loc}
}

// Build returns a record, or false when the fix is not valid or there is no
// batch.
func (a *Assembler) Build(deviceID string, fix gps.Fix, batch *ingest.Batch, now time.Time) (Record, bool) {
	if !fix.Valid || batch == nil || len(batch.Samples) == 0 {
		return Record{}, false
	}

	samples := make([]ingest.Sample, len(batch.Samples))
	copy(samples, batch.Samples)

	return Record{
		DeviceID:  deviceID,
		PositionX: formatCoordinate(fix.Longitude),
		PositionY: formatCoordinate(fix.Latitude),
		Timestamp: a.timestamp(now),
		UserData:  samples,
	}, true
}

// timestamp reuses the last string while now is in the same second, so it
// is never stale by a second or more.
func (a *Assembler) timestamp(now time.Time) string {
	sec := now.Unix()
	if a.cached != "" && sec == a.cachedSec {
		return a.cached
	}
	a.cached = now.In(a.loc).Format(TimestampLayout)
	a.cachedSec = sec
	return a.cached
}

func formatCoordinate(v float64) string {
	return strconv.FormatFloat(v, 'f', CoordinateDecimals, 64)
}
