package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/epub2tts/epub2tts/internal/cache"
	"github.com/epub2tts/epub2tts/internal/catalog"
	"github.com/epub2tts/epub2tts/internal/config"
	"github.com/epub2tts/epub2tts/internal/dispatch"
	"github.com/epub2tts/epub2tts/internal/jobs"
	"github.com/epub2tts/epub2tts/internal/preview"
	"github.com/epub2tts/epub2tts/internal/server"
)

const (
	sweepInterval = 10 * time.Minute
	jobRetention  = 24 * time.Hour
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the web front-end without checking dependencies",
	Long:    paragraph(fmt.Sprintf("\n%s the web front-end. Unlike running epub2tts without a command, the converter's dependencies are not checked first.", keyword("Start"))),
	Example: paragraph("epub2tts serve\nepub2tts serve --host 127.0.0.1 --port 8080"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := bindServeFlags(cmd); err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()
		return serve(ctx, cfg)
	},
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().String("host", config.DefaultHost, "address to listen on")
	cmd.Flags().Int("port", config.DefaultPort, "port to listen on")
	cmd.Flags().Int64("max-concurrent", config.DefaultMaxConcurrent, "conversions allowed to run at once")
	cmd.Flags().String("voices", "", "directory of Kyutai voice files")
}

// bindServeFlags binds the flags of cmd, so a flag given to `serve` and one
// given to the root command end up in the same config keys.
func bindServeFlags(cmd *cobra.Command) error {
	for key, flag := range map[string]string{
		"server.host":           "host",
		"server.port":           "port",
		"server.max_concurrent": "max-concurrent",
		"voices.dir":            "voices",
	} {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("unable to bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// buildRegistry creates the engine registry, discovering Kyutai voices in
// voiceDir.
func buildRegistry(voiceDir string) (*catalog.Registry, error) {
	reg, err := catalog.Builtin(voiceDir)
	if err != nil {
		return nil, fmt.Errorf("unable to build engine registry: %w", err)
	}
	return reg, nil
}

// serve wires the registry, converter, job manager, archive and previews
// together and runs the web front-end until ctx is canceled.
func serve(ctx context.Context, cfg config.Config) error {
	logger := log.Default()

	reg, err := buildRegistry(cfg.Voices.Dir)
	if err != nil {
		return err
	}

	var (
		archiver jobs.Archiver
		archive  server.Archive
	)
	cc := cfg.CacheOptions()
	if cc.ArchivePath != "" {
		la, err := cache.NewLogArchive(cc.ArchivePath, cc.ArchiveCapacity, cc.CompressionLevel)
		if err != nil {
			return fmt.Errorf("unable to open log archive: %w", err)
		}
		defer la.Close() //nolint:errcheck

		if cc.TTL > 0 {
			if n := la.RemoveOlderThan(time.Now().Add(-cc.TTL)); n > 0 {
				logger.Info("Pruned archived logs", "count", n)
			}
		}
		stats := la.Stats()
		logger.Debug("Log archive ready", "path", cc.ArchivePath,
			"entries", stats.ItemCount, "size", humanize.IBytes(uint64(stats.Size))) //nolint:gosec
		archiver, archive = la, la
	}

	manager := jobs.NewManager(dispatch.New(cfg.DispatchOptions(), logger), jobs.Options{
		MaxConcurrent: cfg.Server.MaxConcurrent,
		Archive:       archiver,
		Logger:        logger,
		OnFinish: func(s jobs.Snapshot) {
			if s.Status == jobs.StatusCompleted {
				logger.Info("Audiobook ready", "artifact", s.Artifact, "size", humanize.Bytes(uint64(s.Size))) //nolint:gosec
			}
		},
	})

	var srv *server.Server
	var previews *preview.Service
	var clips *cache.MemoryCache
	if cfg.Preview.Enabled {
		clips = cache.NewMemoryCache(cc.MemoryCapacity)
		previews = preview.NewService(func() *catalog.Registry { return srv.Registry() }, clips, logger)
		previews.Register(catalog.EngineEdge, &preview.EdgeSynthesizer{Timeout: cfg.Preview.Timeout})
		if cfg.Preview.OpenAIKey != "" {
			previews.Register(catalog.EngineOpenAI, preview.NewOpenAISynthesizer(cfg.Preview.OpenAIKey, cfg.Preview.OpenAIBaseURL))
		}
	}

	srv, err = server.New(server.Options{
		Config:   cfg.Server,
		Registry: reg,
		Jobs:     manager,
		Preview:  previews,
		Archive:  archive,
		Logger:   logger,
		Debug:    cfg.Debug,
	})
	if err != nil {
		return err //nolint:wrapcheck
	}

	if cfg.Voices.Dir != "" && cfg.Voices.Watch {
		w, err := catalog.NewWatcher(cfg.Voices.Dir, func() (*catalog.Registry, error) {
			return buildRegistry(cfg.Voices.Dir)
		}, func(reg *catalog.Registry) {
			srv.SetRegistry(reg)
			speakers, _ := reg.Lookup(catalog.EngineKyutai)
			logger.Info("Voice directory changed", "kyutai_voices", len(speakers))
		})
		if err != nil {
			logger.Warn("Not watching voice directory", "dir", cfg.Voices.Dir, "error", err)
		} else {
			go func() {
				if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("Voice watcher stopped", "error", err)
				}
			}()
		}
	}

	go func() {
		t := time.NewTicker(sweepInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				sweep(now, manager, clips, logger)
			}
		}
	}()

	runErr := srv.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Conversions did not stop in time", "error", err)
	}
	return runErr //nolint:wrapcheck
}

// sweep forgets conversions that finished more than jobRetention before now
// and drops previews synthesized as long ago. Forgotten logs stay in the
// archive.
func sweep(now time.Time, manager *jobs.Manager, clips *cache.MemoryCache, logger *log.Logger) {
	forgotten := 0
	for _, s := range manager.List() {
		if !s.Status.IsFinished() || now.Sub(s.FinishedAt) < jobRetention {
			continue
		}
		if err := manager.Forget(s.ID); err == nil {
			forgotten++
		}
	}

	pruned := 0
	if clips != nil {
		pruned = clips.Prune(jobRetention)
	}
	if forgotten > 0 || pruned > 0 {
		logger.Debug("Swept finished conversions", "forgotten", forgotten, "previews", pruned)
	}
}
