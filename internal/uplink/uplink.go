// Package uplink sends finished reports off the node.
package uplink

import (
	"context"
	"errors"
)

// ErrRejected is returned when the server answered but did not accept the
// report.
var ErrRejected = errors.New("uplink: rejected")

// Transport delivers one serialized report. Send must return within the
// context's deadline; any error counts as a failed attempt.
type Transport interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}
