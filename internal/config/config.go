// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration values.
type Config struct {
	// Identity
	DeviceID string

	// Logging
	LogLevel  string // debug, info, warn, error
	LogFormat string // json or console

	// GPS
	GPSSerialPort     string
	GPSBaudRate       int
	GPSPollInterval   int // milliseconds
	GPSReadSize       int // bytes per serial read
	GPSVerifyChecksum bool

	// Wireless link
	LinkSource         string // "ble" or "mock"
	BLEDeviceName      string
	BLEServiceUUID     string
	BLECharUUID        string
	SampleEncoding     string // "float32le" or "ascii"
	SampleWidth        int    // values per sample
	BufferCapacity     int
	BatchSize          int
	MockSampleInterval int // milliseconds

	// Uplink
	UplinkTransport string // "http" or "mqtt"
	UploadURL       string
	UploadTimeout   int // milliseconds
	MQTTBroker      string
	MQTTClientID    string
	MQTTTopic       string
	MQTTUsername    string
	MQTTPassword    string

	// Upload scheduling
	UploadMinInterval      int // milliseconds
	UploadMaxInterval      int // milliseconds
	UploadFailureThreshold int
	LoopRate               int // ticks per second

	// Indicator
	Indicator          string // "none", "log" or "nrzled"
	IndicatorSPIDevice string
	IndicatorPixels    int

	// Status server; empty disables it
	StatusAddr string
}

// Package-level singleton, same pattern as the rest of the binaries:
// InitGlobal sets it once, Get reads it under a read lock.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the configuration the node ships with.
func Default() *Config {
	return &Config{
		DeviceID:  "3",
		LogLevel:  "info",
		LogFormat: "json",

		GPSSerialPort:   "/dev/serial0",
		GPSBaudRate:     9600,
		GPSPollInterval: 2000,
		GPSReadSize:     1024,

		LinkSource:         "ble",
		BLEDeviceName:      "Seizure-3",
		BLEServiceUUID:     "6E400001-B5A3-F393-E0A9-E50E24DCCA9E",
		BLECharUUID:        "6E400002-B5A3-F393-E0A9-E50E24DCCA9E",
		SampleEncoding:     "float32le",
		SampleWidth:        1,
		BufferCapacity:     10,
		BatchSize:          4,
		MockSampleInterval: 50,

		UplinkTransport: "http",
		UploadURL:       "http://10.120.87.109:5000/api/device/data",
		UploadTimeout:   5000,
		MQTTBroker:      "tcp://localhost:1883",
		MQTTClientID:    "telemetry-node",
		MQTTTopic:       "telemetry/device",

		UploadMinInterval:      500,
		UploadMaxInterval:      3000,
		UploadFailureThreshold: 3,
		LoopRate:               10,

		Indicator:          "log",
		IndicatorSPIDevice: "/dev/spidev0.0",
		IndicatorPixels:    1,
	}
}

// Load reads the configuration file on top of Default and returns the result.
// Files ending in .yaml or .yml are parsed as YAML with lower-case keys;
// anything else is read as KEY=VALUE lines.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		err = cfg.readYAML(file)
	default:
		err = cfg.readKeyValue(file)
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) readKeyValue(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := c.setValue(key, value); err != nil {
			return fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

func (c *Config) readYAML(r io.Reader) error {
	raw := map[string]any{}
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && err != io.EOF {
		return fmt.Errorf("error reading config file: %w", err)
	}

	for k, v := range raw {
		if v == nil {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(k))
		if err := c.setValue(key, fmt.Sprint(v)); err != nil {
			return fmt.Errorf("config key %s: %w", k, err)
		}
	}
	return nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	case "DEVICE_ID":
		c.DeviceID = value

	// Logging
	case "LOG_LEVEL":
		switch value {
		case "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", value)
		}
		c.LogLevel = value
	case "LOG_FORMAT":
		if value != "json" && value != "console" {
			return fmt.Errorf("LOG_FORMAT must be json or console, got %q", value)
		}
		c.LogFormat = value

	// GPS
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid GPS_BAUD_RATE %q: %w", value, err)
		}
		c.GPSBaudRate = rate
	case "GPS_POLL_INTERVAL":
		return setPositive(&c.GPSPollInterval, key, value)
	case "GPS_READ_SIZE":
		return setPositive(&c.GPSReadSize, key, value)
	case "GPS_VERIFY_CHECKSUM":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid GPS_VERIFY_CHECKSUM %q: %w", value, err)
		}
		c.GPSVerifyChecksum = b

	// Wireless link
	case "LINK_SOURCE":
		if value != "ble" && value != "mock" {
			return fmt.Errorf("LINK_SOURCE must be ble or mock, got %q", value)
		}
		c.LinkSource = value
	case "BLE_DEVICE_NAME":
		c.BLEDeviceName = value
	case "BLE_SERVICE_UUID":
		c.BLEServiceUUID = value
	case "BLE_CHAR_UUID":
		c.BLECharUUID = value
	case "SAMPLE_ENCODING":
		if value != "float32le" && value != "ascii" {
			return fmt.Errorf("SAMPLE_ENCODING must be float32le or ascii, got %q", value)
		}
		c.SampleEncoding = value
	case "SAMPLE_WIDTH":
		return setPositive(&c.SampleWidth, key, value)
	case "BUFFER_CAPACITY":
		return setPositive(&c.BufferCapacity, key, value)
	case "BATCH_SIZE":
		return setPositive(&c.BatchSize, key, value)
	case "MOCK_SAMPLE_INTERVAL":
		return setPositive(&c.MockSampleInterval, key, value)

	// Uplink
	case "UPLINK_TRANSPORT":
		if value != "http" && value != "mqtt" {
			return fmt.Errorf("UPLINK_TRANSPORT must be http or mqtt, got %q", value)
		}
		c.UplinkTransport = value
	case "UPLOAD_URL":
		c.UploadURL = value
	case "UPLOAD_TIMEOUT":
		return setPositive(&c.UploadTimeout, key, value)
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "MQTT_TOPIC":
		c.MQTTTopic = value
	case "MQTT_USERNAME":
		c.MQTTUsername = value
	case "MQTT_PASSWORD":
		c.MQTTPassword = value

	// Upload scheduling
	case "UPLOAD_MIN_INTERVAL":
		return setPositive(&c.UploadMinInterval, key, value)
	case "UPLOAD_MAX_INTERVAL":
		return setPositive(&c.UploadMaxInterval, key, value)
	case "UPLOAD_FAILURE_THRESHOLD":
		return setPositive(&c.UploadFailureThreshold, key, value)
	case "LOOP_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid LOOP_RATE %q: %w", value, err)
		}
		if rate < 1 || rate > 1000 {
			return fmt.Errorf("LOOP_RATE must be 1-1000, got %d", rate)
		}
		c.LoopRate = rate

	// Indicator
	case "INDICATOR":
		switch value {
		case "none", "log", "nrzled":
		default:
			return fmt.Errorf("INDICATOR must be none, log or nrzled, got %q", value)
		}
		c.Indicator = value
	case "INDICATOR_SPI_DEVICE":
		c.IndicatorSPIDevice = value
	case "INDICATOR_PIXELS":
		return setPositive(&c.IndicatorPixels, key, value)

	case "STATUS_ADDR":
		c.StatusAddr = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

func setPositive(dst *int, key, value string) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v <= 0 {
		return fmt.Errorf("%s must be positive, got %d", key, v)
	}
	*dst = v
	return nil
}

// validate checks required fields and cross-field constraints.
func (c *Config) validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("DEVICE_ID is required")
	}
	if c.GPSSerialPort == "" {
		return fmt.Errorf("GPS_SERIAL_PORT is required")
	}
	if c.GPSBaudRate == 0 {
		return fmt.Errorf("GPS_BAUD_RATE is required")
	}
	if c.BatchSize > c.BufferCapacity {
		return fmt.Errorf("BATCH_SIZE (%d) must not exceed BUFFER_CAPACITY (%d)", c.BatchSize, c.BufferCapacity)
	}
	if c.UploadMinInterval > c.UploadMaxInterval {
		return fmt.Errorf("UPLOAD_MIN_INTERVAL (%d) must not exceed UPLOAD_MAX_INTERVAL (%d)", c.UploadMinInterval, c.UploadMaxInterval)
	}
	switch c.UplinkTransport {
	case "http":
		if c.UploadURL == "" {
			return fmt.Errorf("UPLOAD_URL is required for http transport")
		}
	case "mqtt":
		if c.MQTTBroker == "" || c.MQTTTopic == "" {
			return fmt.Errorf("MQTT_BROKER and MQTT_TOPIC are required for mqtt transport")
		}
	}
	if c.LinkSource == "ble" && (c.BLEServiceUUID == "" || c.BLECharUUID == "") {
		return fmt.Errorf("BLE_SERVICE_UUID and BLE_CHAR_UUID are required for ble link")
	}
	return nil
}

// Millis converts one of the millisecond fields to a time.Duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// InitGlobal initializes the global configuration from file.
// Only the first call loads; later calls return the first result.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
