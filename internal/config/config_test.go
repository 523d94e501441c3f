package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
	if cfg.Server.Addr() != "0.0.0.0:7860" {
		t.Errorf("Expected 0.0.0.0:7860, got %s", cfg.Server.Addr())
	}
	if cfg.Server.MaxConcurrent != 1 {
		t.Errorf("Expected conversions to be serialized by default, got %d", cfg.Server.MaxConcurrent)
	}
	if cfg.Converter.Interpreter != "python3" || len(cfg.Converter.Modules) == 0 {
		t.Errorf("Unexpected converter defaults: %+v", cfg.Converter)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "port"},
		{"no concurrency", func(c *Config) { c.Server.MaxConcurrent = 0 }, "max_concurrent"},
		{"negative rate", func(c *Config) { c.Server.RateLimit = -1 }, "rate_limit"},
		{"rate without burst", func(c *Config) { c.Server.RateBurst = 0 }, "rate_burst"},
		{"empty interpreter", func(c *Config) { c.Converter.Interpreter = "" }, "interpreter"},
		{"empty script", func(c *Config) { c.Converter.Script = "" }, "script"},
		{"tail lines", func(c *Config) { c.Converter.TailLines = 0 }, "tail_lines"},
		{"compression", func(c *Config) { c.Cache.CompressionLevel = 30 }, "compression_level"},
		{"preview timeout", func(c *Config) { c.Preview.Timeout = time.Millisecond }, "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Expected error to mention %q, got %v", tt.errMsg, err)
			}
		})
	}
}

func TestRateLimitDisabled(t *testing.T) {
	cfg := Default()
	cfg.Server.RateLimit = 0
	cfg.Server.RateBurst = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected disabled rate limit to be valid, got %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "epub2tts.yml")
	content := `
server:
  port: 9000
  max_concurrent: 2
converter:
  interpreter: python3.11
  modules: [ebooklib, TTS]
  kill_grace: 2s
voices:
  dir: /srv/voices
cache:
  dir: /var/cache/epub2tts
  preview_mb: 8
preview:
  openai_key: sk-file
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatal(err)
	}

	t.Setenv("OPENAI_API_KEY", "sk-env")
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9000 || cfg.Server.MaxConcurrent != 2 {
		t.Errorf("Unexpected server config: %+v", cfg.Server)
	}
	if cfg.Server.Host != DefaultHost {
		t.Errorf("Expected default host to survive, got %q", cfg.Server.Host)
	}
	if cfg.Converter.Interpreter != "python3.11" || len(cfg.Converter.Modules) != 2 {
		t.Errorf("Unexpected converter config: %+v", cfg.Converter)
	}
	if cfg.Converter.KillGrace != 2*time.Second {
		t.Errorf("Expected kill grace 2s, got %v", cfg.Converter.KillGrace)
	}
	if cfg.Preview.OpenAIKey != "sk-file" {
		t.Errorf("Expected file key to win over OPENAI_API_KEY, got %q", cfg.Preview.OpenAIKey)
	}

	opts := cfg.DispatchOptions()
	if opts.Interpreter != "python3.11" || opts.KillGrace != 2*time.Second {
		t.Errorf("Unexpected dispatch options: %+v", opts)
	}
	cc := cfg.CacheOptions()
	if cc.MemoryCapacity != 8<<20 || cc.ArchivePath != filepath.Join("/var/cache/epub2tts", "logs") {
		t.Errorf("Unexpected cache options: %+v", cc)
	}
	if r := cfg.Requirements(); r.Interpreter != "python3.11" || r.Modules[1] != "TTS" {
		t.Errorf("Unexpected requirements: %+v", r)
	}
}

func TestLoadBadDuration(t *testing.T) {
	v := viper.New()
	v.Set("cache.ttl", "forever")
	if _, err := Load(v); err == nil || !strings.Contains(err.Error(), "cache.ttl") {
		t.Errorf("Expected cache.ttl error, got %v", err)
	}
}

func TestLoadSizes(t *testing.T) {
	tests := []struct {
		in      any
		want    int64
		wantErr bool
	}{
		{64, 64, false},
		{"128", 128, false},
		{"1g", 1024, false},
		{"512MB", 512, false},
		{"huge", 0, true},
	}

	for _, tt := range tests {
		v := viper.New()
		v.Set("cache.archive_mb", tt.in)
		cfg, err := Load(v)
		if tt.wantErr {
			if err == nil || !strings.Contains(err.Error(), "cache.archive_mb") {
				t.Errorf("Load(%v) expected cache.archive_mb error, got %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Load(%v) error = %v", tt.in, err)
			continue
		}
		if cfg.Cache.ArchiveMB != tt.want {
			t.Errorf("Load(%v) archive_mb = %d, expected %d", tt.in, cfg.Cache.ArchiveMB, tt.want)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EPUB2TTS_PORT", "8080")
	t.Setenv("EPUB2TTS_PYTHON", "/opt/venv/bin/python")
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg, err := Load(viper.New())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Converter.Interpreter != "/opt/venv/bin/python" {
		t.Errorf("Expected interpreter override, got %q", cfg.Converter.Interpreter)
	}
	if cfg.Preview.OpenAIKey != "sk-env" {
		t.Errorf("Expected key from environment, got %q", cfg.Preview.OpenAIKey)
	}
}

func TestArchiveDisabled(t *testing.T) {
	tests := []struct {
		name      string
		dir       string
		archiveMB int64
		want      string
	}{
		{"enabled", "/var/cache/epub2tts", 64, filepath.Join("/var/cache/epub2tts", "logs")},
		{"zero size", "/var/cache/epub2tts", 0, ""},
		{"no dir", "", 64, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Cache.Dir = tt.dir
			cfg.Cache.ArchiveMB = tt.archiveMB
			if err := cfg.Validate(); err != nil {
				t.Fatal(err)
			}
			if got := cfg.CacheOptions().ArchivePath; got != tt.want {
				t.Errorf("Expected archive path %q, got %q", tt.want, got)
			}
		})
	}
}

func TestDispatchOwnsUploads(t *testing.T) {
	cfg := Default()
	opts := cfg.DispatchOptions()
	if len(opts.OwnedDirs) != 1 || opts.OwnedDirs[0] != DefaultUploadDir() {
		t.Errorf("Expected the default upload dir to be owned, got %v", opts.OwnedDirs)
	}

	cfg.Server.UploadDir = "/srv/uploads"
	opts = cfg.DispatchOptions()
	if len(opts.OwnedDirs) != 1 || opts.OwnedDirs[0] != "/srv/uploads" {
		t.Errorf("Expected /srv/uploads to be owned, got %v", opts.OwnedDirs)
	}
}

func TestLoadSourceRoot(t *testing.T) {
	cfg, err := Load(viper.New())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.SourceRoot != "" {
		t.Errorf("Expected no source root by default, got %q", cfg.Server.SourceRoot)
	}

	v := viper.New()
	v.Set("server.source_root", "books")
	cfg, err = Load(v)
	if err != nil {
		t.Fatal(err)
	}
	if !filepath.IsAbs(cfg.Server.SourceRoot) || filepath.Base(cfg.Server.SourceRoot) != "books" {
		t.Errorf("Expected an absolute source root, got %q", cfg.Server.SourceRoot)
	}
}
