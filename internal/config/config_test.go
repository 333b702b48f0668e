package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/exepirit/agribeacon-go/pkg/beacon"
)

var configKeys = []string{
	"BEACON_TRANSPORT", "BEACON_TARGET_NAME", "BEACON_SERVICE_UUID", "BEACON_TX_UUID",
	"BEACON_RX_UUID", "BEACON_SERIAL_PORT", "BEACON_SERIAL_BAUD", "BEACON_SCAN_TIMEOUT",
	"LOG_LEVEL", "LOG_DIR", "LOG_JSON", "MQTT_BROKER_URL", "MQTT_ROOT_TOPIC",
	"MQTT_ENCODING", "NATS_URL", "REDIS_ADDR",
}

// clearEnv empties every variable Load reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Transport != TransportBLE {
		t.Errorf("Transport = %q, want %q", cfg.Transport, TransportBLE)
	}
	if cfg.TargetName != beacon.DefaultTargetName {
		t.Errorf("TargetName = %q, want %q", cfg.TargetName, beacon.DefaultTargetName)
	}
	if cfg.SerialBaud != 115200 {
		t.Errorf("SerialBaud = %d, want 115200", cfg.SerialBaud)
	}
	if cfg.ScanTimeout != beacon.DefaultScanTimeout {
		t.Errorf("ScanTimeout = %v, want %v", cfg.ScanTimeout, beacon.DefaultScanTimeout)
	}
	if cfg.LinkConfig() != (beacon.LinkConfig{
		TargetName:  beacon.DefaultTargetName,
		ServiceUUID: beacon.DefaultServiceUUID,
		TXUUID:      beacon.DefaultTXUUID,
		RXUUID:      beacon.DefaultRXUUID,
	}) {
		t.Errorf("LinkConfig() = %+v", cfg.LinkConfig())
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("BEACON_TRANSPORT", "serial")
	t.Setenv("BEACON_SERIAL_PORT", "/dev/ttyUSB0")
	t.Setenv("BEACON_SERIAL_BAUD", "57600")
	t.Setenv("BEACON_SCAN_TIMEOUT", "10s")
	t.Setenv("BEACON_RX_UUID", "6E400003-B5A3-F393-E0A9-E50E24DCCA9E")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_JSON", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Transport != TransportSerial || cfg.SerialPort != "/dev/ttyUSB0" || cfg.SerialBaud != 57600 {
		t.Errorf("serial settings = %q %q %d", cfg.Transport, cfg.SerialPort, cfg.SerialBaud)
	}
	if cfg.ScanTimeout != 10*time.Second {
		t.Errorf("ScanTimeout = %v, want 10s", cfg.ScanTimeout)
	}
	if cfg.RXUUID != beacon.DefaultRXUUID {
		t.Errorf("RXUUID = %q, want lower case %q", cfg.RXUUID, beacon.DefaultRXUUID)
	}
	if opts := cfg.LogOptions(); opts.Level != "debug" || !opts.JSON {
		t.Errorf("LogOptions() = %+v", opts)
	}
}

func TestLoad_FromDotEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	content := "BEACON_TARGET_NAME=Field Beacon 7\nREDIS_ADDR=localhost:6379\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv("BEACON_TARGET_NAME")
		os.Unsetenv("REDIS_ADDR")
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.TargetName != "Field Beacon 7" {
		t.Errorf("TargetName = %q", cfg.TargetName)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr = %q", cfg.RedisAddr)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"BEACON_TRANSPORT", "wifi"},
		{"BEACON_SERIAL_BAUD", "fast"},
		{"BEACON_SERIAL_BAUD", "-1"},
		{"BEACON_SCAN_TIMEOUT", "soon"},
		{"BEACON_SCAN_TIMEOUT", "-1s"},
		{"LOG_LEVEL", "verbose"},
		{"LOG_JSON", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
			if err == nil {
				t.Fatalf("Load() = %+v, want error", cfg)
			}
			if cfg != nil {
				t.Error("Load() returned a config with an error")
			}
		})
	}
}
