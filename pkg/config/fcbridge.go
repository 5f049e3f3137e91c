package config

import (
	"fmt"
	"math"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"fcbridge/pkg/protocol"
)

const DefaultConfigPath = "fcbridge.toml"

type Config struct {
	Bridge     BridgeConfig   `toml:"bridge"`
	Log        LogConfig      `toml:"log"`
	Status     StatusConfig   `toml:"status"`
	Foxglove   FoxgloveConfig `toml:"foxglove"`
	Mock       MockConfig     `toml:"mock"`
	configPath string         `toml:"-"`
	baseDir    string         `toml:"-"`
}

type BridgeConfig struct {
	ListenAddr  string `toml:"listen_addr"`
	PeerAddr    string `toml:"peer_addr"`
	RecvBuf     int    `toml:"recv_buf"`
	OSD         bool   `toml:"osd"`
	ReadTimeout string `toml:"read_timeout,omitempty"`
}

type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file,omitempty"`
	JSONL string `toml:"jsonl,omitempty"`
	// JSONLOSD adds the OSD rows to each JSONL record.
	JSONLOSD bool `toml:"jsonl_osd"`
}

type StatusConfig struct {
	Every int  `toml:"every"`
	TUI   bool `toml:"tui"`
}

type FoxgloveConfig struct {
	Enabled     bool   `toml:"enabled"`
	WSAddr      string `toml:"ws_addr"`
	TopicPrefix string `toml:"topic_prefix"`
	ParentFrame string `toml:"parent_frame"`
	FrameID     string `toml:"frame_id"`
}

// MockConfig drives the built-in physics host stand-in.
type MockConfig struct {
	RateHz int     `toml:"rate_hz"`
	Steps  int     `toml:"steps"`
	Delta  float32 `toml:"delta"`
}

func Default() Config {
	return Config{
		Bridge: BridgeConfig{
			ListenAddr: "127.0.0.1:7777",
			PeerAddr:   "127.0.0.1:6666",
			RecvBuf:    1024,
			OSD:        true,
		},
		Log: LogConfig{
			Level: "info",
		},
		Status: StatusConfig{
			Every: 100,
		},
		Foxglove: FoxgloveConfig{
			WSAddr:      "127.0.0.1:8765",
			TopicPrefix: "fcbridge",
			ParentFrame: "world",
			FrameID:     "quad",
		},
		Mock: MockConfig{
			RateHz: 0,
			Steps:  1000,
			Delta:  0.004,
		},
	}
}

func Load(path string) (Config, error) {
	cfg, exists, err := LoadOrDefault(path)
	if err != nil {
		return Config{}, err
	}
	if !exists {
		return Config{}, os.ErrNotExist
	}
	return cfg, nil
}

// LoadOrDefault reads path over the defaults. A missing file is not an
// error; exists reports whether it was found.
func LoadOrDefault(path string) (Config, bool, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.normalize(path)
			return cfg, false, nil
		}
		return Config{}, false, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, true, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize(path)

	if err := cfg.Validate(); err != nil {
		return Config{}, true, err
	}
	return cfg, true, nil
}

func (cfg *Config) Save(path string) error {
	cfg.normalize(path)
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (cfg *Config) ConfigPath() string {
	return cfg.configPath
}

func (cfg *Config) Validate() error {
	for name, addr := range map[string]string{
		"bridge.listen_addr": cfg.Bridge.ListenAddr,
		"bridge.peer_addr":   cfg.Bridge.PeerAddr,
	} {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("%s %q: %w", name, addr, err)
		}
	}
	// An oversized datagram must arrive with at least one trailing byte so
	// the decoder can reject it instead of seeing a truncated valid packet.
	if cfg.Bridge.RecvBuf <= protocol.InitPacketSize {
		return fmt.Errorf("bridge.recv_buf must exceed %d bytes: %d", protocol.InitPacketSize, cfg.Bridge.RecvBuf)
	}
	if _, err := cfg.ReadTimeout(); err != nil {
		return err
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level unknown: %q", cfg.Log.Level)
	}
	if cfg.Status.Every < 0 {
		return fmt.Errorf("status.every must not be negative: %d", cfg.Status.Every)
	}
	if cfg.Foxglove.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Foxglove.WSAddr); err != nil {
			return fmt.Errorf("foxglove.ws_addr %q: %w", cfg.Foxglove.WSAddr, err)
		}
	}
	if cfg.Mock.RateHz < 0 {
		return fmt.Errorf("mock.rate_hz must not be negative: %d", cfg.Mock.RateHz)
	}
	if cfg.Mock.Steps < 0 {
		return fmt.Errorf("mock.steps must not be negative: %d", cfg.Mock.Steps)
	}
	if d := float64(cfg.Mock.Delta); math.IsNaN(d) || math.IsInf(d, 0) {
		return fmt.Errorf("mock.delta must be finite: %v", cfg.Mock.Delta)
	}
	return nil
}

// ReadTimeout parses bridge.read_timeout. Empty means block forever.
func (cfg *Config) ReadTimeout() (time.Duration, error) {
	if cfg.Bridge.ReadTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(cfg.Bridge.ReadTimeout)
	if err != nil {
		return 0, fmt.Errorf("bridge.read_timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("bridge.read_timeout must not be negative: %s", d)
	}
	return d, nil
}

// LogFilePath resolves log.file against the config file directory.
func (cfg *Config) LogFilePath() string {
	return cfg.resolve(cfg.Log.File)
}

// JSONLPath resolves log.jsonl against the config file directory.
func (cfg *Config) JSONLPath() string {
	return cfg.resolve(cfg.Log.JSONL)
}

func (cfg *Config) resolve(p string) string {
	if p == "" || p == "-" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(cfg.baseDir, p)
}

func (cfg *Config) normalize(path string) {
	def := Default()

	if cfg.Bridge.ListenAddr == "" {
		cfg.Bridge.ListenAddr = def.Bridge.ListenAddr
	}
	if cfg.Bridge.PeerAddr == "" {
		cfg.Bridge.PeerAddr = def.Bridge.PeerAddr
	}
	if cfg.Bridge.RecvBuf <= 0 {
		cfg.Bridge.RecvBuf = def.Bridge.RecvBuf
	}
	cfg.Bridge.ReadTimeout = strings.TrimSpace(cfg.Bridge.ReadTimeout)

	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)

	if cfg.Foxglove.WSAddr == "" {
		cfg.Foxglove.WSAddr = def.Foxglove.WSAddr
	}
	if cfg.Foxglove.ParentFrame == "" {
		cfg.Foxglove.ParentFrame = def.Foxglove.ParentFrame
	}
	if cfg.Foxglove.FrameID == "" {
		cfg.Foxglove.FrameID = def.Foxglove.FrameID
	}

	if cfg.Mock.Delta == 0 {
		cfg.Mock.Delta = def.Mock.Delta
	}

	if path == "" {
		path = cfg.configPath
	}
	if path == "" {
		path = DefaultConfigPath
	}
	cfg.configPath = path

	baseDir := filepath.Dir(path)
	if baseDir == "" {
		baseDir = "."
	}
	if abs, err := filepath.Abs(baseDir); err == nil {
		baseDir = abs
	}
	cfg.baseDir = baseDir
}
