package main

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/swarmhq/claimd/internal/archive"
	"github.com/swarmhq/claimd/internal/clock"
	"github.com/swarmhq/claimd/internal/config"
	"github.com/swarmhq/claimd/internal/coord"
	"github.com/swarmhq/claimd/internal/server"
	"github.com/swarmhq/claimd/internal/telemetry"
	"github.com/swarmhq/claimd/internal/tool"
)

var (
	socketPath       string
	configPath       string
	issuesPath       string
	claimantsPath    string
	redisAddr        string
	snapshotInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordination daemon",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&socketPath, "socket", "/tmp/claimd.sock", "unix socket path")
	serveCmd.Flags().StringVar(&configPath, "config", "", "config file (yaml), watched for changes")
	serveCmd.Flags().StringVar(&issuesPath, "issues", "", "issue seed file (yaml)")
	serveCmd.Flags().StringVar(&claimantsPath, "claimants", "", "claimant seed file (yaml)")
	serveCmd.Flags().StringVar(&redisAddr, "redis", "", "redis address for snapshots (empty disables persistence)")
	serveCmd.Flags().DurationVar(&snapshotInterval, "snapshot-interval", time.Minute, "how often to archive a snapshot")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	if err := telemetry.Init(ctx, "claimd", Version); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
	}()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	core, err := coord.New(cfg, clock.Wall{})
	if err != nil {
		return err
	}
	defer core.Close()

	store, err := openArchive(ctx, core)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	if err := seed(core, issuesPath, claimantsPath); err != nil {
		return err
	}

	srv := server.New(tool.New(core, telemetry.NewRecorder()), socketPath)
	if err := srv.Start(); err != nil {
		return err
	}
	log.Printf("claimd %s listening on %s", Version, socketPath)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return core.Run(ctx) })
	g.Go(func() error { return core.RunRebalancer(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		return srv.Stop()
	})
	if configPath != "" {
		g.Go(func() error { return watchConfig(ctx, core, configPath) })
	}
	if store != nil {
		g.Go(func() error { return snapshotLoop(ctx, core, store) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// loadConfig reads the yaml config file over the built-in defaults. An empty
// path returns the defaults.
func loadConfig(path string) (config.Config, error) {
	cfg := config.Default()
	if path == "" {
		return cfg, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return config.Config{}, err
	}
	if err := v.Unmarshal(&cfg, withYAMLTags); err != nil {
		return config.Config{}, err
	}
	return cfg, cfg.Validate()
}

// withYAMLTags makes viper decode onto the config struct's yaml field names.
func withYAMLTags(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" }

// watchConfig hot-reloads the config file. A bad reload logs and keeps the
// running configuration.
func watchConfig(ctx context.Context, core *coord.Coordinator, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cfg, err := loadConfig(path)
			if err != nil {
				log.Printf("config reload: %v", err)
				continue
			}
			if err := core.ReplaceConfig(cfg); err != nil {
				log.Printf("config reload: %v", err)
				continue
			}
			log.Printf("config reloaded from %s", path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("config watch: %v", err)
		}
	}
}

// openArchive connects the snapshot backend and restores prior state. Returns
// nil when persistence is disabled.
func openArchive(ctx context.Context, core *coord.Coordinator) (archive.Archive, error) {
	if redisAddr == "" {
		return nil, nil
	}
	store, err := archive.NewRedis(ctx, redisAddr, "")
	if err != nil {
		return nil, err
	}
	snap, err := store.Load(ctx)
	switch {
	case errors.Is(err, archive.ErrNoSnapshot):
	case err != nil:
		store.Close()
		return nil, err
	default:
		if err := core.Restore(snap); err != nil {
			store.Close()
			return nil, err
		}
		log.Printf("restored snapshot from %s (%d events)", snap.SavedAt.Format(time.RFC3339), len(snap.Events))
	}
	return store, nil
}

// snapshotLoop archives state periodically and once more on shutdown.
func snapshotLoop(ctx context.Context, core *coord.Coordinator, store archive.Archive) error {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := store.Save(saveCtx, core.Snapshot()); err != nil {
				log.Printf("final snapshot: %v", err)
			}
			cancel()
			return ctx.Err()
		case <-ticker.C:
			if err := store.Save(ctx, core.Snapshot()); err != nil {
				log.Printf("snapshot: %v", err)
			}
		}
	}
}
