package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"

	"github.com/epub2tts/epub2tts/utils"
)

// EnvOverrides are read from the process environment and take precedence
// over the config file.
type EnvOverrides struct {
	Debug       bool   `env:"EPUB2TTS_DEBUG"`
	Host        string `env:"EPUB2TTS_HOST"`
	Port        int    `env:"EPUB2TTS_PORT"`
	Interpreter string `env:"EPUB2TTS_PYTHON"`
	Script      string `env:"EPUB2TTS_SCRIPT"`
	WorkDir     string `env:"EPUB2TTS_WORKDIR"`
	VoicesDir   string `env:"EPUB2TTS_VOICES_DIR"`
	CacheDir    string `env:"EPUB2TTS_CACHE_DIR"`
	OpenAIKey   string `env:"OPENAI_API_KEY"`
	OpenAIBase  string `env:"OPENAI_BASE_URL"`
}

// Apply copies every set override into cfg.
func (o EnvOverrides) Apply(cfg *Config) {
	if o.Debug {
		cfg.Debug = true
	}
	if o.Host != "" {
		cfg.Server.Host = o.Host
	}
	if o.Port != 0 {
		cfg.Server.Port = o.Port
	}
	if o.Interpreter != "" {
		cfg.Converter.Interpreter = o.Interpreter
	}
	if o.Script != "" {
		cfg.Converter.Script = o.Script
	}
	if o.WorkDir != "" {
		cfg.Converter.WorkDir = o.WorkDir
	}
	if o.VoicesDir != "" {
		cfg.Voices.Dir = o.VoicesDir
	}
	if o.CacheDir != "" {
		cfg.Cache.Dir = o.CacheDir
	}
	if o.OpenAIKey != "" && cfg.Preview.OpenAIKey == "" {
		cfg.Preview.OpenAIKey = o.OpenAIKey
	}
	if o.OpenAIBase != "" && cfg.Preview.OpenAIBaseURL == "" {
		cfg.Preview.OpenAIBaseURL = o.OpenAIBase
	}
}

// SetDefaults registers the defaults with Viper so they show up in
// `config --print` and can be bound to flags.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("debug", d.Debug)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.max_concurrent", d.Server.MaxConcurrent)
	v.SetDefault("server.rate_limit", d.Server.RateLimit)
	v.SetDefault("server.rate_burst", d.Server.RateBurst)
	v.SetDefault("server.upload_dir", d.Server.UploadDir)
	v.SetDefault("server.source_root", d.Server.SourceRoot)
	v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)

	v.SetDefault("converter.interpreter", d.Converter.Interpreter)
	v.SetDefault("converter.script", d.Converter.Script)
	v.SetDefault("converter.modules", d.Converter.Modules)
	v.SetDefault("converter.binaries", d.Converter.Binaries)
	v.SetDefault("converter.work_dir", d.Converter.WorkDir)
	v.SetDefault("converter.tail_lines", d.Converter.TailLines)
	v.SetDefault("converter.clean_stale", d.Converter.CleanStale)
	v.SetDefault("converter.kill_grace", d.Converter.KillGrace.String())

	v.SetDefault("voices.dir", d.Voices.Dir)
	v.SetDefault("voices.watch", d.Voices.Watch)

	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("cache.preview_mb", d.Cache.PreviewMB)
	v.SetDefault("cache.archive_mb", d.Cache.ArchiveMB)
	v.SetDefault("cache.compression_level", d.Cache.CompressionLevel)
	v.SetDefault("cache.ttl", d.Cache.TTL.String())

	v.SetDefault("preview.enabled", d.Preview.Enabled)
	v.SetDefault("preview.openai_base_url", d.Preview.OpenAIBaseURL)
	v.SetDefault("preview.timeout", d.Preview.Timeout.String())
}

// LoadFromViper loads configuration from the global Viper instance and the
// environment.
func LoadFromViper() (Config, error) {
	return Load(viper.GetViper())
}

// Load reads configuration from v, then applies EnvOverrides and validates
// the result.
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()

	if v.IsSet("debug") {
		cfg.Debug = v.GetBool("debug")
	}

	// Server settings
	if v.IsSet("server.host") {
		cfg.Server.Host = v.GetString("server.host")
	}
	if v.IsSet("server.port") {
		cfg.Server.Port = v.GetInt("server.port")
	}
	if v.IsSet("server.max_concurrent") {
		cfg.Server.MaxConcurrent = v.GetInt64("server.max_concurrent")
	}
	if v.IsSet("server.rate_limit") {
		cfg.Server.RateLimit = v.GetFloat64("server.rate_limit")
	}
	if v.IsSet("server.rate_burst") {
		cfg.Server.RateBurst = v.GetInt("server.rate_burst")
	}
	if v.IsSet("server.upload_dir") {
		cfg.Server.UploadDir = v.GetString("server.upload_dir")
	}
	if v.IsSet("server.source_root") {
		cfg.Server.SourceRoot = v.GetString("server.source_root")
	}
	if err := loadMegabytes(v, "server.max_upload_mb", &cfg.Server.MaxUploadMB); err != nil {
		return cfg, err
	}
	if v.IsSet("server.cors_origins") {
		cfg.Server.CORSOrigins = v.GetStringSlice("server.cors_origins")
	}

	// Converter settings
	if v.IsSet("converter.interpreter") {
		cfg.Converter.Interpreter = v.GetString("converter.interpreter")
	}
	if v.IsSet("converter.script") {
		cfg.Converter.Script = v.GetString("converter.script")
	}
	if v.IsSet("converter.modules") {
		cfg.Converter.Modules = v.GetStringSlice("converter.modules")
	}
	if v.IsSet("converter.binaries") {
		cfg.Converter.Binaries = v.GetStringSlice("converter.binaries")
	}
	if v.IsSet("converter.work_dir") {
		cfg.Converter.WorkDir = v.GetString("converter.work_dir")
	}
	if v.IsSet("converter.tail_lines") {
		cfg.Converter.TailLines = v.GetInt("converter.tail_lines")
	}
	if v.IsSet("converter.clean_stale") {
		cfg.Converter.CleanStale = v.GetBool("converter.clean_stale")
	}
	if err := loadDuration(v, "converter.kill_grace", &cfg.Converter.KillGrace); err != nil {
		return cfg, err
	}

	// Voices
	if v.IsSet("voices.dir") {
		cfg.Voices.Dir = v.GetString("voices.dir")
	}
	if v.IsSet("voices.watch") {
		cfg.Voices.Watch = v.GetBool("voices.watch")
	}

	// Cache
	if v.IsSet("cache.dir") {
		cfg.Cache.Dir = v.GetString("cache.dir")
	}
	if err := loadMegabytes(v, "cache.preview_mb", &cfg.Cache.PreviewMB); err != nil {
		return cfg, err
	}
	if err := loadMegabytes(v, "cache.archive_mb", &cfg.Cache.ArchiveMB); err != nil {
		return cfg, err
	}
	if v.IsSet("cache.compression_level") {
		cfg.Cache.CompressionLevel = v.GetInt("cache.compression_level")
	}
	if err := loadDuration(v, "cache.ttl", &cfg.Cache.TTL); err != nil {
		return cfg, err
	}

	// Preview
	if v.IsSet("preview.enabled") {
		cfg.Preview.Enabled = v.GetBool("preview.enabled")
	}
	if v.IsSet("preview.openai_key") {
		cfg.Preview.OpenAIKey = v.GetString("preview.openai_key")
	}
	if v.IsSet("preview.openai_base_url") {
		cfg.Preview.OpenAIBaseURL = v.GetString("preview.openai_base_url")
	}
	if err := loadDuration(v, "preview.timeout", &cfg.Preview.Timeout); err != nil {
		return cfg, err
	}

	overrides, err := env.ParseAs[EnvOverrides]()
	if err != nil {
		return cfg, fmt.Errorf("error parsing environment: %w", err)
	}
	overrides.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadDuration(v *viper.Viper, key string, dst *time.Duration) error {
	if !v.IsSet(key) {
		return nil
	}
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

// loadMegabytes reads a size in megabytes. A plain number is taken as
// megabytes; "2g" or "512MB" are converted.
func loadMegabytes(v *viper.Viper, key string, dst *int64) error {
	if !v.IsSet(key) {
		return nil
	}
	raw := strings.TrimSpace(v.GetString(key))
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*dst = n
		return nil
	}
	n, ok := utils.ParseSize(raw)
	if !ok {
		return fmt.Errorf("%s: invalid size %q", key, raw)
	}
	*dst = n >> 20
	return nil
}
