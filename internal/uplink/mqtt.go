package uplink

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relabs-tech/telemetry_node/internal/logging"
)

// MQTTOptions configures an MQTTTransport.
type MQTTOptions struct {
	Broker   string
	ClientID string
	Topic    string
	Username string
	Password string
	QoS      byte
	Timeout  time.Duration // connect and write timeout
}

// MQTTTransport publishes each report in its own broker session: connect,
// publish, disconnect. The session is released on every path out of Send,
// so a failed attempt never leaves a half-open connection behind.
type MQTTTransport struct {
	opts      MQTTOptions
	newClient func(*mqtt.ClientOptions) mqtt.Client
	log       *zap.Logger
}

// NewMQTTTransport creates a transport for opts.
func NewMQTTTransport(opts MQTTOptions, logger *zap.Logger) *MQTTTransport {
	return &MQTTTransport{
		opts:      opts,
		newClient: mqtt.NewClient,
		log:       logging.OrNop(logger).Named("uplink.mqtt"),
	}
}

func (t *MQTTTransport) clientOptions() *mqtt.ClientOptions {
	// a fresh suffix per session keeps a lingering session on the broker
	// from kicking the next one off
	clientID := fmt.Sprintf("%s-%s", t.opts.ClientID, uuid.NewString()[:8])

	opts := mqtt.NewClientOptions().
		AddBroker(t.opts.Broker).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false)
	if t.opts.Timeout > 0 {
		opts.SetConnectTimeout(t.opts.Timeout).SetWriteTimeout(t.opts.Timeout)
	}
	if t.opts.Username != "" {
		opts.SetUsername(t.opts.Username)
	}
	if t.opts.Password != "" {
		opts.SetPassword(t.opts.Password)
	}
	return opts
}

func (t *MQTTTransport) Send(ctx context.Context, payload []byte) error {
	client := t.newClient(t.clientOptions())

	if err := waitToken(ctx, client.Connect()); err != nil {
		// paho may hold sockets from a partial connect
		client.Disconnect(0)
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", t.opts.Broker, err)
	}
	defer client.Disconnect(250)

	if err := waitToken(ctx, client.Publish(t.opts.Topic, t.opts.QoS, false, payload)); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", t.opts.Topic, err)
	}

	t.log.Debug("report published",
		zap.String("topic", t.opts.Topic),
		zap.String("size", humanize.Bytes(uint64(len(payload)))),
	)
	return nil
}

func (t *MQTTTransport) Close() error { return nil }

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
