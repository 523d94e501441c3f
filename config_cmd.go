package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const defaultConfig = `# log at debug level
debug: false

# web front-end
server:
  host: "0.0.0.0"
  port: 7860
  # conversions allowed to run at once
  max_concurrent: 1
  # submissions per second per server, 0 disables the limit
  rate_limit: 0.2
  rate_burst: 3
  # where uploaded books are stored (default: system temp dir)
  # upload_dir: "~/epub2tts/uploads"
  # books already on the server below this directory can be converted by
  # path; unset means uploads only
  # source_root: "~/books"
  max_upload_mb: 512
  cors_origins: ["*"]

# the external converter
converter:
  interpreter: "python3"
  script: "epub2tts.py"
  modules: ["ebooklib"]
  binaries: ["ffmpeg"]
  # directory the converter runs in (default: next to the book)
  # work_dir: "~/audiobooks"
  tail_lines: 20
  # remove intermediate files left by an earlier failed run, only in
  # work_dir and the upload directory
  clean_stale: true
  kill_grace: "5s"

# Kyutai voice files
voices:
  # dir: "~/epub2tts/voices"
  watch: true

cache:
  # dir: "~/.cache/epub2tts"
  preview_mb: 32
  # 0 disables the log archive
  archive_mb: 256
  # zstd level, 1 to 22
  compression_level: 3
  ttl: "720h"

# voice samples in the web front-end
preview:
  enabled: true
  # defaults to $OPENAI_API_KEY
  # openai_key: "sk-..."
  # openai_base_url: "https://api.openai.com/v1"
  timeout: "30s"
`

var printConfig bool

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the epub2tts config file",
	Long:    paragraph(fmt.Sprintf("\n%s the epub2tts config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("epub2tts config\nepub2tts config --config path/to/config.yml\nepub2tts config --print"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if printConfig {
			return printEffectiveConfig(cmd)
		}

		file := configPath()
		if err := ensureConfigFile(file); err != nil {
			return err
		}

		c, err := editor.Cmd("epub2tts", file)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", file)
		return nil
	},
}

// configPath returns the file `config` edits: the one given with --config,
// else the one that was loaded, else the default location.
func configPath() string {
	if configFile != "" {
		return configFile
	}
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return defaultConfigFile
}

func printEffectiveConfig(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Preview.OpenAIKey != "" {
		cfg.Preview.OpenAIKey = "<redacted>"
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("unable to encode config: %w", err)
	}
	return enc.Close() //nolint:wrapcheck
}

func ensureConfigFile(file string) error {
	if file == "" {
		return errors.New("no configuration file location, use --config")
	}

	if ext := path.Ext(file); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(file), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(file)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}

func init() {
	configCmd.Flags().BoolVar(&printConfig, "print", false, "print the effective configuration instead of editing")
}
