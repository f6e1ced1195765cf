package uplink

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const report = `{"device_id":"3","position_x":"-121.972360","position_y":"37.387458","time_stamp":"2026-03-01 04:05:06","user_data":[[1]]}`

func TestHTTPTransport_Success(t *testing.T) {
	var gotBody, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/device/data", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL+"/api/device/data", time.Second, nil)
	defer tr.Close()

	require.NoError(t, tr.Send(context.Background(), []byte(report)))
	assert.Equal(t, report, gotBody)
	assert.True(t, strings.HasPrefix(gotType, "application/json"))
}

func TestHTTPTransport_Non2xxIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad device", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewHTTPTransport(srv.URL, time.Second, nil).Send(context.Background(), []byte(report))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "400")
}

func TestHTTPTransport_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	err := NewHTTPTransport(srv.URL, 50*time.Millisecond, nil).Send(context.Background(), []byte(report))
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHTTPTransport_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewHTTPTransport(url, time.Second, nil).Send(context.Background(), []byte(report))
	assert.Error(t, err)
}

// fakeToken completes immediately with err.
type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error { return t.err }

// fakeClient records the session lifecycle. Unused methods panic through the
// embedded nil interface.
type fakeClient struct {
	mqtt.Client
	connectErr error
	publishErr error
	hang       bool

	clientID    string
	published   []string
	topics      []string
	disconnects int
}

func (c *fakeClient) Connect() mqtt.Token {
	if c.hang {
		return &fakeToken{done: make(chan struct{})}
	}
	return newToken(c.connectErr)
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.topics = append(c.topics, topic)
	c.published = append(c.published, string(payload.([]byte)))
	return newToken(c.publishErr)
}

func (c *fakeClient) Disconnect(uint) { c.disconnects++ }

func newFakeTransport(fc *fakeClient) *MQTTTransport {
	tr := NewMQTTTransport(MQTTOptions{
		Broker:   "tcp://broker:1883",
		ClientID: "node-3",
		Topic:    "telemetry/3",
		QoS:      1,
		Timeout:  time.Second,
	}, nil)
	tr.newClient = func(o *mqtt.ClientOptions) mqtt.Client {
		fc.clientID = o.ClientID
		return fc
	}
	return tr
}

func TestMQTTTransport_SessionPerSend(t *testing.T) {
	fc := &fakeClient{}
	tr := newFakeTransport(fc)

	require.NoError(t, tr.Send(context.Background(), []byte(report)))
	assert.Equal(t, []string{report}, fc.published)
	assert.Equal(t, []string{"telemetry/3"}, fc.topics)
	assert.Equal(t, 1, fc.disconnects)
	assert.True(t, strings.HasPrefix(fc.clientID, "node-3-"))
}

func TestMQTTTransport_ConnectFailure(t *testing.T) {
	fc := &fakeClient{connectErr: errors.New("network unreachable")}
	tr := newFakeTransport(fc)

	err := tr.Send(context.Background(), []byte(report))
	require.Error(t, err)
	assert.Empty(t, fc.published)
	assert.Equal(t, 1, fc.disconnects)
}

func TestMQTTTransport_PublishFailureStillDisconnects(t *testing.T) {
	fc := &fakeClient{publishErr: errors.New("broker closed connection")}
	tr := newFakeTransport(fc)

	err := tr.Send(context.Background(), []byte(report))
	require.Error(t, err)
	assert.Equal(t, 1, fc.disconnects)
}

func TestMQTTTransport_ContextDeadline(t *testing.T) {
	fc := &fakeClient{hang: true}
	tr := newFakeTransport(fc)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := tr.Send(ctx, []byte(report))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, fc.disconnects)
}
