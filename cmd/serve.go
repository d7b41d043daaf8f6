package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"github.com/kasuboski/amnis/config"
	mio "github.com/kasuboski/amnis/pkg/io"
	"github.com/kasuboski/amnis/pkg/irc"
	"github.com/kasuboski/amnis/pkg/logger"
	"github.com/kasuboski/amnis/pkg/manager"
	"github.com/kasuboski/amnis/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const lockFileName = "amnis.lock"

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to IRC and keep fetching episodes",
	Long: `Connects to the configured IRC network, reconciles the catalog against the
library on every poll interval and receives the offered files.`,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.Get()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = logger.WithCtx(ctx, log)

		cfg := mustConfig(log)

		lock, err := acquireLock(cfg.Library.DataDir)
		if err != nil {
			log.Fatal("failed to acquire lock", zap.Error(err))
		}
		defer lock.Unlock()

		m, cleanup := mustManager(ctx, log, cfg)
		defer cleanup()

		watchPolicies(ctx, m)

		if cfg.Server.Enabled {
			s := server.New(log, m)
			go func() {
				if err := s.Serve(ctx, cfg.Server.Port); err != nil {
					log.Error("server stopped", zap.Error(err))
				}
			}()
		}

		if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("manager stopped", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

var errLocked = errors.New("another instance is running")

// acquireLock takes the single instance lock in dataDir.
func acquireLock(dataDir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}

	lock := flock.New(filepath.Join(dataDir, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errLocked
	}

	return lock, nil
}

// mustManager connects every collaborator the manager needs. The returned
// func releases them.
func mustManager(ctx context.Context, log *zap.SugaredLogger, cfg config.Config) (*manager.Manager, func()) {
	policies, err := cfg.Policies()
	if err != nil {
		log.Fatal("invalid shows", zap.Error(err))
	}

	store := mustStorage(ctx, log, cfg)
	catalogClient := mustCatalog(log, cfg)

	client, err := irc.Dial(ctx, cfg.IRC, cfg.Transfer.AcceptTimeout)
	if err != nil {
		store.Close()
		log.Fatal("failed to connect to irc", zap.Error(err))
	}
	log.Infow("connected to irc", "server", cfg.IRC.Server, "nick", cfg.IRC.Nick)

	m := manager.New(catalogClient, client, store, mio.NewOS(), cfg, policies)

	return m, func() {
		if err := store.Close(); err != nil {
			log.Warn("failed to close storage", zap.Error(err))
		}
	}
}

// watchPolicies swaps in the shows from the config file whenever it changes.
// Other settings need a restart.
func watchPolicies(ctx context.Context, m *manager.Manager) {
	if viper.ConfigFileUsed() == "" {
		return
	}

	viper.OnConfigChange(func(e fsnotify.Event) {
		log := logger.FromCtx(ctx, "file", e.Name)

		cfg, err := config.New(viper.GetViper())
		if err != nil {
			log.Error("failed to reload config", zap.Error(err))
			return
		}

		policies, err := cfg.Policies()
		if err != nil {
			log.Error("ignoring invalid shows", zap.Error(err))
			return
		}

		m.SetPolicies(policies)
		log.Infow("reloaded shows", "count", len(policies))
	})
	viper.WatchConfig()
}
