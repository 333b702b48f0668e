package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/exepirit/agribeacon-go/internal/log"
	"github.com/exepirit/agribeacon-go/pkg/beacon"
	"github.com/joho/godotenv"
)

// Transports.
const (
	TransportBLE    = "ble"
	TransportSerial = "serial"
)

// Config holds the application configuration
type Config struct {
	Transport   string
	TargetName  string
	ServiceUUID string
	TXUUID      string
	RXUUID      string
	SerialPort  string
	SerialBaud  int
	ScanTimeout time.Duration

	LogLevel string
	LogDir   string
	LogJSON  bool

	MQTTBrokerURL string
	MQTTRootTopic string
	MQTTEncoding  string
	NATSURL       string
	RedisAddr     string
}

// Load reads the given .env files (".env" when none are given, missing
// files are ignored), then the environment.
func Load(files ...string) (*Config, error) {
	_ = godotenv.Load(files...)

	cfg := &Config{
		Transport:     getenv("BEACON_TRANSPORT", TransportBLE),
		TargetName:    getenv("BEACON_TARGET_NAME", beacon.DefaultTargetName),
		ServiceUUID:   strings.ToLower(getenv("BEACON_SERVICE_UUID", beacon.DefaultServiceUUID)),
		TXUUID:        strings.ToLower(getenv("BEACON_TX_UUID", beacon.DefaultTXUUID)),
		RXUUID:        strings.ToLower(getenv("BEACON_RX_UUID", beacon.DefaultRXUUID)),
		SerialPort:    os.Getenv("BEACON_SERIAL_PORT"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		LogDir:        os.Getenv("LOG_DIR"),
		MQTTBrokerURL: os.Getenv("MQTT_BROKER_URL"),
		MQTTRootTopic: getenv("MQTT_ROOT_TOPIC", "agribeacon"),
		MQTTEncoding:  getenv("MQTT_ENCODING", "json"),
		NATSURL:       os.Getenv("NATS_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
	}

	var err error
	if cfg.SerialBaud, err = getInt("BEACON_SERIAL_BAUD", 115200); err != nil {
		return nil, err
	}
	if cfg.ScanTimeout, err = getDuration("BEACON_SCAN_TIMEOUT", beacon.DefaultScanTimeout); err != nil {
		return nil, err
	}
	if cfg.LogJSON, err = getBool("LOG_JSON", false); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that have no usable default.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportBLE, TransportSerial:
	default:
		return fmt.Errorf("BEACON_TRANSPORT must be %q or %q, got %q", TransportBLE, TransportSerial, c.Transport)
	}
	if c.TargetName == "" {
		return fmt.Errorf("BEACON_TARGET_NAME must not be empty")
	}
	if c.SerialBaud <= 0 {
		return fmt.Errorf("BEACON_SERIAL_BAUD must be positive, got %d", c.SerialBaud)
	}
	if c.ScanTimeout <= 0 {
		return fmt.Errorf("BEACON_SCAN_TIMEOUT must be positive, got %s", c.ScanTimeout)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// LinkConfig returns the link settings.
func (c *Config) LinkConfig() beacon.LinkConfig {
	return beacon.LinkConfig{
		TargetName:  c.TargetName,
		ServiceUUID: c.ServiceUUID,
		TXUUID:      c.TXUUID,
		RXUUID:      c.RXUUID,
	}
}

// LogOptions returns the logger settings.
func (c *Config) LogOptions() log.Options {
	return log.Options{
		Level: c.LogLevel,
		Dir:   c.LogDir,
		JSON:  c.LogJSON,
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
