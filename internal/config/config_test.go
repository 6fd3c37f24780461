package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"openfms/flic/internal/protocol"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"FLICD_HOST", "FLICD_PORT", "LATENCY_MODE", "AUTO_DISCONNECT_TIME", "RECONNECT_DELAY"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	if cfg.FlicdHost != "localhost" || cfg.FlicdPort != 5551 {
		t.Errorf("flicd = %s:%d, want localhost:5551", cfg.FlicdHost, cfg.FlicdPort)
	}
	if cfg.LatencyMode != protocol.NormalLatency || cfg.AutoDisconnectTime != 511 {
		t.Errorf("channel params = %v/%d", cfg.LatencyMode, cfg.AutoDisconnectTime)
	}
	if cfg.ReconnectDelay != 5*time.Second {
		t.Errorf("ReconnectDelay = %v, want 5s", cfg.ReconnectDelay)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("FLICD_HOST", "10.0.0.5")
	t.Setenv("FLICD_PORT", "6000")
	t.Setenv("LATENCY_MODE", "low")
	t.Setenv("AUTO_DISCONNECT_TIME", "512")
	t.Setenv("RECONNECT_DELAY", "30")
	cfg := Load()
	if cfg.FlicdHost != "10.0.0.5" || cfg.FlicdPort != 6000 {
		t.Errorf("flicd = %s:%d", cfg.FlicdHost, cfg.FlicdPort)
	}
	if cfg.LatencyMode != protocol.LowLatency {
		t.Errorf("LatencyMode = %v, want LowLatency", cfg.LatencyMode)
	}
	if cfg.AutoDisconnectTime != protocol.AutoDisconnectTimeDisabled {
		t.Errorf("AutoDisconnectTime = %d, want 512", cfg.AutoDisconnectTime)
	}
	if cfg.ReconnectDelay != 30*time.Second {
		t.Errorf("ReconnectDelay = %v, want 30s", cfg.ReconnectDelay)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.FlicdPort = 70000 }},
		{"latency", func(c *Config) { c.LatencyMode = 9 }},
		{"auto disconnect", func(c *Config) { c.AutoDisconnectTime = 513 }},
		{"cron", func(c *Config) { c.InfoPollCron = "every minute" }},
		{"rate", func(c *Config) { c.DownlinkRatePerMin = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted an invalid config")
			}
		})
	}
}

const overlay = `
flicd:
  host: flicd.local
gateway_id: hallway
latency_mode: high
auto_disconnect_time: 0
reconnect_delay: 10s
buttons:
  allow: ["80:E4:DA:70:12:34"]
  names:
    "80:e4:da:70:12:34": Kitchen
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flic.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFileApply(t *testing.T) {
	f, err := LoadFile(writeFile(t, overlay))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	cfg := Load()
	port := cfg.FlicdPort
	if err := cfg.Apply(f); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if cfg.FlicdHost != "flicd.local" || cfg.FlicdPort != port {
		t.Errorf("flicd = %s:%d", cfg.FlicdHost, cfg.FlicdPort)
	}
	if cfg.GatewayID != "hallway" || cfg.LatencyMode != protocol.HighLatency {
		t.Errorf("gateway = %s, latency = %v", cfg.GatewayID, cfg.LatencyMode)
	}
	if cfg.AutoDisconnectTime != 0 {
		t.Errorf("AutoDisconnectTime = %d, want explicit 0", cfg.AutoDisconnectTime)
	}
	if cfg.ReconnectDelay != 10*time.Second {
		t.Errorf("ReconnectDelay = %v", cfg.ReconnectDelay)
	}

	kitchen := protocol.MustParseBdAddr("80:e4:da:70:12:34")
	other := protocol.MustParseBdAddr("80:e4:da:70:99:99")
	if !cfg.Buttons.Allowed(kitchen) || cfg.Buttons.Allowed(other) {
		t.Error("allow-list not applied")
	}
	if got := cfg.Buttons.Name(kitchen); got != "Kitchen" {
		t.Errorf("Name = %q, want Kitchen", got)
	}
}

func TestEmptyAllowListAllowsAll(t *testing.T) {
	var b ButtonsConfig
	if !b.Allowed(protocol.MustParseBdAddr("00:00:00:00:00:01")) {
		t.Error("empty allow-list rejected a button")
	}
}

func TestLoadFileRejectsBadAddress(t *testing.T) {
	if _, err := LoadFile(writeFile(t, "buttons:\n  allow: [\"not-an-address\"]\n")); err == nil {
		t.Error("LoadFile accepted an invalid address")
	}
}

func TestWatcherReloads(t *testing.T) {
	path := writeFile(t, "gateway_id: before\n")
	w, err := NewWatcher(path)
	if err != nil {
		t.Fatal(err)
	}
	w.debounce = 10 * time.Millisecond
	got := make(chan string, 4)
	w.OnChange(func(f *File) { got <- f.GatewayID })
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("gateway_id: after\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case id := <-got:
		if id != "after" {
			t.Errorf("reloaded gateway_id = %q, want after", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not reload")
	}
}
