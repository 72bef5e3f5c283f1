package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.Limiter.Requests != 100 || cfg.Limiter.Window != 15*time.Minute {
		t.Fatalf("unexpected limiter defaults: %+v", cfg.Limiter)
	}
	if cfg.Detection.RepeatedScanThreshold != 5 || cfg.Detection.DailyPointsLimit != 50 {
		t.Fatalf("unexpected detection defaults: %+v", cfg.Detection)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Addr = ":6001"
	cfg.Limiter.Requests = 42
	cfg.Detection.DailyScanLimit = 7
	cfg.Exemptions.TrustedIPs = []string{"192.0.2.10"}

	path := filepath.Join(t.TempDir(), "scanguard.yaml")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Server.Addr != ":6001" || loaded.Limiter.Requests != 42 {
		t.Fatalf("round trip lost values: %+v", loaded)
	}
	if loaded.Detection.DailyScanLimit != 7 {
		t.Fatalf("round trip lost detection values: %+v", loaded.Detection)
	}
	if len(loaded.Exemptions.TrustedIPs) != 1 {
		t.Fatalf("round trip lost exemptions: %+v", loaded.Exemptions)
	}
}

func TestLoadJSONConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanguard.json")
	body := `{"server":{"addr":":7000"},"limiter":{"requests":9}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":7000" || cfg.Limiter.Requests != 9 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	// untouched sections keep their defaults
	if cfg.Detection.RapidFireThreshold != 20 {
		t.Fatalf("expected default detection values, got %+v", cfg.Detection)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero requests", func(c *Config) { c.Limiter.Requests = 0 }},
		{"bad fail mode", func(c *Config) { c.Limiter.FailMode = "maybe" }},
		{"zero repeated threshold", func(c *Config) { c.Detection.RepeatedScanThreshold = 0 }},
		{"quiet hour out of range", func(c *Config) { c.Detection.QuietHoursStart = 24 }},
		{"bad timezone", func(c *Config) { c.Detection.Timezone = "Mars/Olympus" }},
		{"bad counter backend", func(c *Config) { c.Counter.Backend = "etcd" }},
		{"redis without addr", func(c *Config) { c.Counter.Backend = "redis"; c.Counter.Redis.Addr = "" }},
		{"kafka without topic", func(c *Config) { c.Notify.Kafka.Enabled = true; c.Notify.Kafka.Brokers = []string{"b:9092"} }},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(cfg)
		if err := Validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestManagerReloadPicksUpChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanguard.yaml")
	cfg := DefaultConfig()
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if m.Get().Limiter.Requests != 100 {
		t.Fatalf("unexpected initial config")
	}

	cfg.Limiter.Requests = 250
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := m.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if m.Get().Limiter.Requests != 250 {
		t.Fatalf("reload did not pick up change, got %d", m.Get().Limiter.Requests)
	}
}

func TestManagerWithoutPathServesDefaults(t *testing.T) {
	m, err := NewManager("")
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if m.Get().Server.Addr != ":5000" {
		t.Fatalf("expected default addr, got %q", m.Get().Server.Addr)
	}
	if needs, err := m.NeedsReload(); err != nil || needs {
		t.Fatalf("pathless manager never reloads, got %v %v", needs, err)
	}
}
