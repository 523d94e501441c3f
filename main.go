// Package main provides the entry point for the epub2tts CLI application.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/epub2tts/epub2tts/internal/config"
	"github.com/epub2tts/epub2tts/internal/conversion"
	"github.com/epub2tts/epub2tts/internal/launcher"
)

// Exit codes besides the launcher's.
const (
	exitFailure    = 1
	exitValidation = 2
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile        string
	defaultConfigFile string
	debug             bool

	rootCmd = &cobra.Command{
		Use:   "epub2tts",
		Short: "Turn ebooks into audiobooks with a choice of TTS engines",
		Long: paragraph(
			fmt.Sprintf("\nTurn ebooks into %s. Without a command, checks that the converter is installed and starts the web front-end.", keyword("audiobooks")),
		),
		SilenceErrors:    true,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return readConfigFile()
		},
		RunE: execute,
	}
)

// exitError carries a process exit code. Its message, if any, has already
// been shown to the user.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	var verr *conversion.ValidationError
	if errors.As(err, &verr) {
		return exitValidation
	}
	return exitFailure
}

// readConfigFile reads the file given with --config, if any.
func readConfigFile() error {
	if configFile == "" {
		return nil
	}
	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("unable to read config file: %w", err)
	}
	log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
	return nil
}

// loadConfig returns the effective configuration.
func loadConfig() (config.Config, error) {
	cfg, err := config.LoadFromViper()
	if err != nil {
		return cfg, err //nolint:wrapcheck
	}
	if debug || cfg.Debug {
		cfg.Debug = true
		enableDebug()
	}
	if cfg.Cache.Dir == "" {
		if dir, err := gap.NewScope(gap.User, "epub2tts").CacheDir(); err == nil {
			cfg.Cache.Dir = dir
		}
	}
	return cfg, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// execute checks the converter's dependencies and, only if they are all
// present, starts the web front-end.
func execute(cmd *cobra.Command, _ []string) error {
	if err := bindServeFlags(cmd); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	code := launcher.Launch(ctx, cfg.Requirements(), os.Stderr, func(ctx context.Context) error {
		return serve(ctx, cfg)
	})
	if code != launcher.ExitOK {
		return &exitError{code: code}
	}
	return nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	err = rootCmd.Execute()
	_ = closer()
	if err != nil {
		var ee *exitError
		if !errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, errorTitle("Error:"), err)
		}
		os.Exit(exitCode(err))
	}
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", configPath()))
	rootCmd.PersistentFlags().BoolVar(&debug, "debug-log", false, "log at debug level")
	addServeFlags(rootCmd)

	config.SetDefaults(viper.GetViper())

	rootCmd.AddCommand(serveCmd, convertCmd, enginesCmd, doctorCmd, configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "epub2tts")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "epub2tts")}, dirs...)
	}

	if c := os.Getenv("EPUB2TTS_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("epub2tts")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("epub2tts")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	defaultConfigFile = filepath.Join(dirs[0], "epub2tts.yml")
}
