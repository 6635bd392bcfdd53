package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "web:\n  port: 9000\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log level default: got %s, want info", cfg.Log.Level)
	}
	if cfg.Fleet.Host != "127.0.0.1" {
		t.Errorf("host default: got %s", cfg.Fleet.Host)
	}
	if len(cfg.Fleet.Ports) != 1 || cfg.Fleet.Ports[0] != 14550 {
		t.Errorf("ports default: got %v", cfg.Fleet.Ports)
	}
	if cfg.Fleet.NameOffset != 219 {
		t.Errorf("name offset default: got %d, want 219", cfg.Fleet.NameOffset)
	}
	if cfg.Fleet.HandshakeTimeout != 5 {
		t.Errorf("handshake timeout default: got %d, want 5", cfg.Fleet.HandshakeTimeout)
	}
	if cfg.Fleet.StaleAfter != 60 {
		t.Errorf("stale threshold default: got %d, want 60", cfg.Fleet.StaleAfter)
	}
	if cfg.Web.Port != 9000 {
		t.Errorf("web port: got %d, want 9000", cfg.Web.Port)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
fleet:
  host: 10.0.0.5
  ports: [14550, 14551]
  name_offset: 100
  rescan_interval: 15
web:
  port: 8080
mqtt:
  enabled: true
  broker: tcp://broker:1883
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Fleet.Host != "10.0.0.5" || len(cfg.Fleet.Ports) != 2 {
		t.Errorf("fleet section not parsed: %+v", cfg.Fleet)
	}
	if cfg.MQTT.ClientID != "uav-system-gcs" || cfg.MQTT.Topic != "gcs/fleet" || cfg.MQTT.Interval != 5 {
		t.Errorf("mqtt defaults not applied: %+v", cfg.MQTT)
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	path := writeConfig(t, "fleet:\n  ports: [99999]\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestLoadRejectsMQTTWithoutBroker(t *testing.T) {
	path := writeConfig(t, "mqtt:\n  enabled: true\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for mqtt without broker")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
