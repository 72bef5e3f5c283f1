package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel   string           `json:"log_level" yaml:"log_level"`
	Server     ServerConfig     `json:"server" yaml:"server"`
	Limiter    LimiterConfig    `json:"limiter" yaml:"limiter"`
	Detection  DetectionConfig  `json:"detection" yaml:"detection"`
	Counter    CounterConfig    `json:"counter" yaml:"counter"`
	Alerts     AlertsConfig     `json:"alerts" yaml:"alerts"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Notify     NotifyConfig     `json:"notify" yaml:"notify"`
	Dashboard  DashboardConfig  `json:"dashboard" yaml:"dashboard"`
	Exemptions ExemptionsConfig `json:"exemptions" yaml:"exemptions"`
}

type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// LimiterConfig governs the per-IP request ceiling. FailMode decides what
// happens when the counter backend errors: "closed" denies the request,
// "open" lets it through.
type LimiterConfig struct {
	Requests int           `json:"requests" yaml:"requests"`
	Window   time.Duration `json:"window" yaml:"window"`
	FailMode string        `json:"fail_mode" yaml:"fail_mode"`
}

type DetectionConfig struct {
	Timezone               string        `json:"timezone" yaml:"timezone"`
	RepeatedScanThreshold  int           `json:"repeated_scan_threshold" yaml:"repeated_scan_threshold"`
	RepeatedScanWindow     time.Duration `json:"repeated_scan_window" yaml:"repeated_scan_window"`
	RapidFireThreshold     int           `json:"rapid_fire_threshold" yaml:"rapid_fire_threshold"`
	RapidFireWindow        time.Duration `json:"rapid_fire_window" yaml:"rapid_fire_window"`
	DailyScanLimit         int           `json:"daily_scan_limit" yaml:"daily_scan_limit"`
	DailyPointsLimit       int           `json:"daily_points_limit" yaml:"daily_points_limit"`
	QuietHoursStart        int           `json:"quiet_hours_start" yaml:"quiet_hours_start"`
	QuietHoursEnd          int           `json:"quiet_hours_end" yaml:"quiet_hours_end"`
	QuietHoursEnabled      bool          `json:"quiet_hours_enabled" yaml:"quiet_hours_enabled"`
}

type CounterConfig struct {
	Backend string      `json:"backend" yaml:"backend"`
	Redis   RedisConfig `json:"redis" yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

type AlertsConfig struct {
	StoreLimit  int `json:"store_limit" yaml:"store_limit"`
	QueueBuffer int `json:"queue_buffer" yaml:"queue_buffer"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type NotifyConfig struct {
	Kafka KafkaConfig `json:"kafka" yaml:"kafka"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

// DashboardConfig is advisory: PollInterval is surfaced on the status
// endpoint so dashboard clients can tune their refresh rate without a
// redeploy.
type DashboardConfig struct {
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
}

type ExemptionsConfig struct {
	TrustedIPs       []string `json:"trusted_ips" yaml:"trusted_ips"`
	TrustedEmployees []string `json:"trusted_employees" yaml:"trusted_employees"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Server:   ServerConfig{Addr: ":5000"},
		Limiter: LimiterConfig{
			Requests: 100,
			Window:   15 * time.Minute,
			FailMode: "closed",
		},
		Detection: DetectionConfig{
			Timezone:              "UTC",
			RepeatedScanThreshold: 5,
			RepeatedScanWindow:    1 * time.Hour,
			RapidFireThreshold:    20,
			RapidFireWindow:       1 * time.Minute,
			DailyScanLimit:        10,
			DailyPointsLimit:      50,
			QuietHoursStart:       23,
			QuietHoursEnd:         5,
			QuietHoursEnabled:     true,
		},
		Counter:   CounterConfig{Backend: "memory", Redis: RedisConfig{Addr: "localhost:6379"}},
		Alerts:    AlertsConfig{StoreLimit: 1000, QueueBuffer: 256},
		Storage:   StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:scanguard.db?_pragma=busy_timeout(5000)"},
		Notify:    NotifyConfig{Kafka: KafkaConfig{Enabled: false}},
		Dashboard: DashboardConfig{PollInterval: 30 * time.Second},
	}
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault returns the defaults (with env overrides) when no config
// file is present, so the service can run with zero setup.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		_ = godotenv.Load()
		cfg := DefaultConfig()
		applyEnv(cfg)
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Load(path)
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":5000"
	}
	if cfg.Limiter.Requests <= 0 {
		cfg.Limiter.Requests = 100
	}
	if cfg.Limiter.Window <= 0 {
		cfg.Limiter.Window = 15 * time.Minute
	}
	if cfg.Limiter.FailMode == "" {
		cfg.Limiter.FailMode = "closed"
	}
	if cfg.Detection.Timezone == "" {
		cfg.Detection.Timezone = "UTC"
	}
	if cfg.Counter.Backend == "" {
		cfg.Counter.Backend = "memory"
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = 1000
	}
	if cfg.Alerts.QueueBuffer <= 0 {
		cfg.Alerts.QueueBuffer = 256
	}
	if cfg.Dashboard.PollInterval <= 0 {
		cfg.Dashboard.PollInterval = 30 * time.Second
	}
}

func applyEnv(cfg *Config) {
	if v := getEnv("SCANGUARD_ADDR", ""); v != "" {
		cfg.Server.Addr = v
	}
	if v := getEnv("SCANGUARD_LOG_LEVEL", ""); v != "" {
		cfg.LogLevel = v
	}
	if v := getEnv("SCANGUARD_REDIS_ADDR", ""); v != "" {
		cfg.Counter.Backend = "redis"
		cfg.Counter.Redis.Addr = v
	}
	if v := getEnv("SCANGUARD_STORAGE_DSN", ""); v != "" {
		cfg.Storage.Enabled = true
		cfg.Storage.DSN = v
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func Validate(cfg *Config) error {
	if cfg.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if cfg.Limiter.Requests <= 0 {
		return errors.New("limiter.requests must be > 0")
	}
	if cfg.Limiter.Window <= 0 {
		return errors.New("limiter.window must be > 0")
	}
	switch cfg.Limiter.FailMode {
	case "open", "closed":
	default:
		return fmt.Errorf("limiter.fail_mode must be open or closed, got %q", cfg.Limiter.FailMode)
	}
	if cfg.Detection.RepeatedScanThreshold <= 0 || cfg.Detection.RepeatedScanWindow <= 0 {
		return errors.New("detection.repeated_scan_threshold and window must be > 0")
	}
	if cfg.Detection.RapidFireThreshold <= 0 || cfg.Detection.RapidFireWindow <= 0 {
		return errors.New("detection.rapid_fire_threshold and window must be > 0")
	}
	if cfg.Detection.DailyScanLimit <= 0 {
		return errors.New("detection.daily_scan_limit must be > 0")
	}
	if cfg.Detection.DailyPointsLimit <= 0 {
		return errors.New("detection.daily_points_limit must be > 0")
	}
	if cfg.Detection.QuietHoursStart < 0 || cfg.Detection.QuietHoursStart > 23 {
		return errors.New("detection.quiet_hours_start must be within 0-23")
	}
	if cfg.Detection.QuietHoursEnd < 0 || cfg.Detection.QuietHoursEnd > 23 {
		return errors.New("detection.quiet_hours_end must be within 0-23")
	}
	if _, err := time.LoadLocation(cfg.Detection.Timezone); err != nil {
		return fmt.Errorf("detection.timezone: %w", err)
	}
	switch strings.ToLower(cfg.Counter.Backend) {
	case "memory":
	case "redis":
		if cfg.Counter.Redis.Addr == "" {
			return errors.New("counter.redis.addr required when counter.backend is redis")
		}
	default:
		return fmt.Errorf("unsupported counter backend: %s", cfg.Counter.Backend)
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres", "postgresql":
		default:
			return fmt.Errorf("unsupported storage driver: %s", cfg.Storage.Driver)
		}
	}
	if cfg.Notify.Kafka.Enabled {
		if len(cfg.Notify.Kafka.Brokers) == 0 || cfg.Notify.Kafka.Topic == "" {
			return errors.New("notify.kafka requires brokers and topic")
		}
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	if path != "" {
		if info, err := os.Stat(path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	return m, nil
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
		if info, err := os.Stat(m.path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	m.cfg.Store(cfg)
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
