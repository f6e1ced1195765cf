package app

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/relabs-tech/telemetry_node/internal/config"
	"github.com/relabs-tech/telemetry_node/internal/telemetry"
)

// RunConsoleMQTT subscribes to the telemetry topic and prints every report
// the nodes publish. It is the bench counterpart of the MQTT uplink.
func RunConsoleMQTT() error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID("telemetry-console-" + uuid.NewString()[:8])
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.MQTTTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		printReport(os.Stdout, msg.Topic(), msg.Payload())
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: subscribed to %s", cfg.MQTTTopic)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}

func printReport(w io.Writer, topic string, payload []byte) {
	var rec telemetry.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		log.Printf("console: report unmarshal error on %s: %v", topic, err)
		return
	}

	samples := make([]string, len(rec.UserData))
	for i, s := range rec.UserData {
		vals := make([]string, len(s))
		for j, v := range s {
			vals[j] = fmt.Sprintf("%.3f", v)
		}
		samples[i] = strings.Join(vals, "/")
	}

	fmt.Fprintf(w,
		"[%s] device=%s time=%s lon=%s lat=%s samples=%d [%s]\n",
		topic, rec.DeviceID, rec.Timestamp, rec.PositionX, rec.PositionY,
		len(rec.UserData), strings.Join(samples, " "),
	)
}
