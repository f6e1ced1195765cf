package uplink

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/relabs-tech/telemetry_node/internal/logging"
)

// HTTPTransport POSTs each report as JSON to a fixed URL.
type HTTPTransport struct {
	client *resty.Client
	url    string
	log    *zap.Logger
}

// NewHTTPTransport creates a transport posting to url. timeout bounds every
// request end to end. Retries are left to the scheduler's backoff.
func NewHTTPTransport(url string, timeout time.Duration, logger *zap.Logger) *HTTPTransport {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &HTTPTransport{
		client: client,
		url:    url,
		log:    logging.OrNop(logger).Named("uplink.http"),
	}
}

func (t *HTTPTransport) Send(ctx context.Context, payload []byte) error {
	start := time.Now()
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(t.url)
	if err != nil {
		return fmt.Errorf("post %s: %w", t.url, err)
	}

	if !resp.IsSuccess() {
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode(), truncate(resp.String(), 128))
	}

	t.log.Debug("report posted",
		zap.String("size", humanize.Bytes(uint64(len(payload)))),
		zap.Int("status_code", resp.StatusCode()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (t *HTTPTransport) Close() error {
	t.client.GetClient().CloseIdleConnections()
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
