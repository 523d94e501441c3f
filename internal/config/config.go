// Package config holds the typed runtime configuration shared by the CLI
// commands and the web front-end.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/epub2tts/epub2tts/internal/cache"
	"github.com/epub2tts/epub2tts/internal/dispatch"
	"github.com/epub2tts/epub2tts/internal/launcher"
	"github.com/epub2tts/epub2tts/utils"
)

// Defaults of the web front-end.
const (
	DefaultHost          = "0.0.0.0"
	DefaultPort          = 7860
	DefaultMaxConcurrent = 1
	DefaultRateLimit     = 0.2 // submissions per second
	DefaultRateBurst     = 3
	DefaultMaxUploadMB   = 512
)

// Config contains all epub2tts configuration options.
type Config struct {
	Debug bool `yaml:"debug"`

	Server    ServerConfig    `yaml:"server"`
	Converter ConverterConfig `yaml:"converter"`
	Voices    VoicesConfig    `yaml:"voices"`
	Cache     CacheConfig     `yaml:"cache"`
	Preview   PreviewConfig   `yaml:"preview"`
}

// ServerConfig configures the web front-end.
type ServerConfig struct {
	Host          string   `yaml:"host"`
	Port          int      `yaml:"port"`
	MaxConcurrent int64    `yaml:"max_concurrent"`
	RateLimit     float64  `yaml:"rate_limit"`
	RateBurst     int      `yaml:"rate_burst"`
	UploadDir     string   `yaml:"upload_dir"`
	SourceRoot    string   `yaml:"source_root"`
	MaxUploadMB   int64    `yaml:"max_upload_mb"`
	CORSOrigins   []string `yaml:"cors_origins"`
}

// DefaultUploadDir is where uploads go when no upload_dir is configured.
func DefaultUploadDir() string {
	return filepath.Join(os.TempDir(), "epub2tts-uploads")
}

// Uploads returns the upload directory.
func (c ServerConfig) Uploads() string {
	if c.UploadDir == "" {
		return DefaultUploadDir()
	}
	return c.UploadDir
}

// Addr returns host:port.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ConverterConfig describes the external conversion tool.
type ConverterConfig struct {
	Interpreter string        `yaml:"interpreter"`
	Script      string        `yaml:"script"`
	Modules     []string      `yaml:"modules"`
	Binaries    []string      `yaml:"binaries"`
	WorkDir     string        `yaml:"work_dir"`
	TailLines   int           `yaml:"tail_lines"`
	CleanStale  bool          `yaml:"clean_stale"`
	KillGrace   time.Duration `yaml:"kill_grace"`
}

// VoicesConfig locates Kyutai voice files.
type VoicesConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// CacheConfig sizes the preview cache and the job log archive.
type CacheConfig struct {
	Dir              string        `yaml:"dir"`
	PreviewMB        int64         `yaml:"preview_mb"`
	ArchiveMB        int64         `yaml:"archive_mb"`
	CompressionLevel int           `yaml:"compression_level"`
	TTL              time.Duration `yaml:"ttl"`
}

// PreviewConfig configures voice samples.
type PreviewConfig struct {
	Enabled       bool          `yaml:"enabled"`
	OpenAIKey     string        `yaml:"openai_key"`
	OpenAIBaseURL string        `yaml:"openai_base_url"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	req := launcher.DefaultRequirements()
	disp := dispatch.DefaultOptions()
	cc := cache.DefaultConfig()

	return Config{
		Server: ServerConfig{
			Host:          DefaultHost,
			Port:          DefaultPort,
			MaxConcurrent: DefaultMaxConcurrent,
			RateLimit:     DefaultRateLimit,
			RateBurst:     DefaultRateBurst,
			MaxUploadMB:   DefaultMaxUploadMB,
			CORSOrigins:   []string{"*"},
		},
		Converter: ConverterConfig{
			Interpreter: req.Interpreter,
			Script:      req.Script,
			Modules:     req.Modules,
			Binaries:    req.Binaries,
			TailLines:   disp.TailLines,
			CleanStale:  disp.CleanStale,
			KillGrace:   disp.KillGrace,
		},
		Voices: VoicesConfig{
			Watch: true,
		},
		Cache: CacheConfig{
			PreviewMB:        cc.MemoryCapacity >> 20,
			ArchiveMB:        cc.ArchiveCapacity >> 20,
			CompressionLevel: cc.CompressionLevel,
			TTL:              cc.TTL,
		},
		Preview: PreviewConfig{
			Enabled: true,
			Timeout: 30 * time.Second,
		},
	}
}

// Validate checks if the configuration is valid and expands paths.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.MaxConcurrent < 1 {
		return fmt.Errorf("server max_concurrent must be at least 1, got %d", c.Server.MaxConcurrent)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server rate_limit cannot be negative, got %f", c.Server.RateLimit)
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		return fmt.Errorf("server rate_burst must be at least 1, got %d", c.Server.RateBurst)
	}
	if c.Server.MaxUploadMB < 1 {
		return fmt.Errorf("server max_upload_mb must be at least 1, got %d", c.Server.MaxUploadMB)
	}

	if c.Converter.Interpreter == "" {
		return fmt.Errorf("converter interpreter cannot be empty")
	}
	if c.Converter.Script == "" {
		return fmt.Errorf("converter script cannot be empty")
	}
	if c.Converter.TailLines < 1 || c.Converter.TailLines > 1000 {
		return fmt.Errorf("converter tail_lines must be between 1 and 1000, got %d", c.Converter.TailLines)
	}
	if c.Converter.KillGrace < 0 {
		return fmt.Errorf("converter kill_grace cannot be negative, got %v", c.Converter.KillGrace)
	}

	if c.Cache.PreviewMB < 0 || c.Cache.ArchiveMB < 0 {
		return fmt.Errorf("cache sizes cannot be negative")
	}
	if c.Cache.CompressionLevel < 1 || c.Cache.CompressionLevel > 22 {
		return fmt.Errorf("cache compression_level must be between 1 and 22, got %d", c.Cache.CompressionLevel)
	}

	if c.Preview.Timeout < time.Second {
		return fmt.Errorf("preview timeout must be at least 1 second, got %v", c.Preview.Timeout)
	}

	c.Converter.Script = utils.ExpandPath(c.Converter.Script)
	c.Converter.WorkDir = utils.ExpandPath(c.Converter.WorkDir)
	c.Server.UploadDir = utils.ExpandPath(c.Server.UploadDir)
	c.Server.SourceRoot = utils.AbsPath(c.Server.SourceRoot)
	c.Voices.Dir = utils.ExpandPath(c.Voices.Dir)
	c.Cache.Dir = utils.ExpandPath(c.Cache.Dir)

	return nil
}

// Requirements returns what the launcher must verify before starting.
func (c *Config) Requirements() launcher.Requirements {
	return launcher.Requirements{
		Interpreter: c.Converter.Interpreter,
		Modules:     c.Converter.Modules,
		Script:      c.Converter.Script,
		Binaries:    c.Converter.Binaries,
	}
}

// DispatchOptions converts the converter section to dispatcher options.
func (c *Config) DispatchOptions() dispatch.Options {
	opts := dispatch.DefaultOptions()
	opts.Interpreter = c.Converter.Interpreter
	opts.Script = c.Converter.Script
	opts.WorkDir = c.Converter.WorkDir
	opts.TailLines = c.Converter.TailLines
	opts.CleanStale = c.Converter.CleanStale
	opts.KillGrace = c.Converter.KillGrace
	opts.OwnedDirs = []string{c.Server.Uploads()}
	return opts
}

// CacheOptions converts the cache section. Archive files live in
// <dir>/logs; an empty dir or archive_mb of 0 disables the archive.
func (c *Config) CacheOptions() cache.Config {
	cc := cache.DefaultConfig()
	cc.MemoryCapacity = c.Cache.PreviewMB << 20
	cc.ArchiveCapacity = c.Cache.ArchiveMB << 20
	cc.CompressionLevel = c.Cache.CompressionLevel
	cc.TTL = c.Cache.TTL
	cc.ArchivePath = ""
	if c.Cache.Dir != "" && c.Cache.ArchiveMB > 0 {
		cc.ArchivePath = filepath.Join(c.Cache.Dir, "logs")
	}
	return cc
}
