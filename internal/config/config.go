package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "DLNAMEDIA_"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Device    DeviceConfig    `yaml:"device"`
	Library   LibraryConfig   `yaml:"library"`
	Database  DatabaseConfig  `yaml:"database"`
	Transcode TranscodeConfig `yaml:"transcode"`
	SSDP      SSDPConfig      `yaml:"ssdp"`
	Art       ArtConfig       `yaml:"art"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DeviceConfig struct {
	FriendlyName string `yaml:"friendly_name"`
	// UDN is derived from the hostname and friendly name when empty.
	UDN          string `yaml:"udn"`
	Manufacturer string `yaml:"manufacturer"`
	ModelName    string `yaml:"model_name"`
	ModelNumber  string `yaml:"model_number"`
}

type LibraryConfig struct {
	Roots            []string      `yaml:"roots"`
	Name             string        `yaml:"name"`
	Watch            bool          `yaml:"watch"`
	Debounce         time.Duration `yaml:"debounce"`
	ProbeConcurrency int           `yaml:"probe_concurrency"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type TranscodeConfig struct {
	FFmpeg      string        `yaml:"ffmpeg"`
	FFprobe     string        `yaml:"ffprobe"`
	Fallback    string        `yaml:"fallback"` // mp3, flac or lpcm
	Bitrate     int           `yaml:"bitrate"`  // bits per second, mp3 only
	ReadTimeout time.Duration `yaml:"read_timeout"`
	KillGrace   time.Duration `yaml:"kill_grace"`
	StderrLimit ByteSize      `yaml:"stderr_limit"`
}

type SSDPConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Interfaces     []string      `yaml:"interfaces"`
	NotifyInterval time.Duration `yaml:"notify_interval"`
	MaxAge         int           `yaml:"max_age"`
}

type ArtConfig struct {
	Dir           string   `yaml:"dir"`
	CacheCapacity int      `yaml:"cache_capacity"`
	CacheMaxSize  ByteSize `yaml:"cache_max_size"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Pretty     bool   `yaml:"pretty"`
	// File enables a rotating log file next to console output.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// ByteSize accepts plain integers or human strings such as "64MB" or
// "1.5 GiB".
type ByteSize int64

func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return b.parse(s)
}

func (b *ByteSize) parse(s string) error {
	n, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", s, err)
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8200,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // streams last as long as playback
		},
		Device: DeviceConfig{
			FriendlyName: "dlnamedia",
			Manufacturer: "dlnamedia",
			ModelName:    "dlnamedia",
			ModelNumber:  "1.0",
		},
		Library: LibraryConfig{
			Name:             "Music",
			Debounce:         2 * time.Second,
			ProbeConcurrency: 8,
			ProbeTimeout:     30 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "data/probe-cache.db",
		},
		Transcode: TranscodeConfig{
			FFmpeg:      "ffmpeg",
			FFprobe:     "ffprobe",
			Fallback:    "mp3",
			Bitrate:     320000,
			ReadTimeout: 15 * time.Second,
			KillGrace:   2 * time.Second,
			StderrLimit: 4096,
		},
		SSDP: SSDPConfig{
			Enabled:        true,
			NotifyInterval: 30 * time.Second,
			MaxAge:         1800,
		},
		Art: ArtConfig{
			Dir:           "data/art",
			CacheCapacity: 512,
			CacheMaxSize:  64 << 20,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Pretty:     true,
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
	}
}

// Load applies, in order: defaults, the yaml file at path (a missing file
// is fine), a .env file in the working directory, and DLNAMEDIA_*
// environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, err
		}
	}

	// godotenv never overrides variables that are already set.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch strings.ToLower(c.Transcode.Fallback) {
	case "mp3", "flac", "lpcm", "wav", "pcm":
	default:
		return fmt.Errorf("transcode.fallback %q: want mp3, flac or lpcm", c.Transcode.Fallback)
	}
	if c.SSDP.MaxAge <= 0 {
		return fmt.Errorf("ssdp.max_age must be positive")
	}
	if c.SSDP.NotifyInterval >= time.Duration(c.SSDP.MaxAge)*time.Second {
		return fmt.Errorf("ssdp.notify_interval %s must be shorter than max_age %ds", c.SSDP.NotifyInterval, c.SSDP.MaxAge)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + strconv.Itoa(c.Server.Port)
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("HOST", &c.Server.Host)
	e.int("PORT", &c.Server.Port)

	e.str("FRIENDLY_NAME", &c.Device.FriendlyName)
	e.str("UDN", &c.Device.UDN)

	e.list("LIBRARY_ROOTS", &c.Library.Roots)
	e.str("LIBRARY_NAME", &c.Library.Name)
	e.bool("LIBRARY_WATCH", &c.Library.Watch)
	e.int("PROBE_CONCURRENCY", &c.Library.ProbeConcurrency)

	e.str("DATABASE_PATH", &c.Database.Path)

	e.str("FFMPEG", &c.Transcode.FFmpeg)
	e.str("FFPROBE", &c.Transcode.FFprobe)
	e.str("TRANSCODE_FALLBACK", &c.Transcode.Fallback)
	e.int("TRANSCODE_BITRATE", &c.Transcode.Bitrate)
	e.duration("TRANSCODE_READ_TIMEOUT", &c.Transcode.ReadTimeout)

	e.bool("SSDP_ENABLED", &c.SSDP.Enabled)
	e.list("SSDP_INTERFACES", &c.SSDP.Interfaces)

	e.str("ART_DIR", &c.Art.Dir)
	e.size("ART_CACHE_MAX_SIZE", &c.Art.CacheMaxSize)

	e.str("LOG_LEVEL", &c.Logging.Level)
	e.bool("LOG_PRETTY", &c.Logging.Pretty)
	e.str("LOG_FILE", &c.Logging.File)

	return e.err
}

// envReader applies DLNAMEDIA_* variables and keeps the first parse error.
type envReader struct {
	lookup lookupFunc
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(envPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) bool(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = d
	}
}

func (e *envReader) size(key string, dst *ByteSize) {
	if v, ok := e.get(key); ok {
		if err := dst.parse(v); err != nil {
			e.fail(key, err)
		}
	}
}

// list reads a comma-separated value.
func (e *envReader) list(key string, dst *[]string) {
	if v, ok := e.get(key); ok {
		var out []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}
