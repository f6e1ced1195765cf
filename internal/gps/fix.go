package gps

import "time"

// Fix is the node's current position as seen by the uploader.
type Fix struct {
	Latitude   float64   `json:"lat"`   // decimal degrees, south negative
	Longitude  float64   `json:"lon"`   // decimal degrees, west negative
	Valid      bool      `json:"valid"` // usable for a report
	CapturedAt time.Time `json:"captured_at"`
}

// Stats counts sentences by how the parser handled them.
type Stats struct {
	Valid     uint64 `json:"valid"`     // active GLL, fix committed
	Void      uint64 `json:"void"`      // void GLL, fallback applied
	Malformed uint64 `json:"malformed"` // GLL that failed to decode
	Ignored   uint64 `json:"ignored"`   // other sentence types and noise
}
