// Package app wires configuration, logging, storage, and the session manager
// into one initialized core shared by every CLI command.
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/avhall/hearth/internal/common"
	"github.com/avhall/hearth/internal/discovery"
	"github.com/avhall/hearth/internal/interfaces"
	"github.com/avhall/hearth/internal/session"
	"github.com/avhall/hearth/internal/storage/connections"
)

// App holds the initialized core services.
type App struct {
	Config      *common.Config
	Logger      *common.Logger
	Store       interfaces.ConnectionStore
	Session     *session.Service
	StartupTime time.Time
}

// NewApp loads configuration, opens the connection store, and builds the
// session manager. configPath may be empty, in which case the default
// resolution order is used: HEARTH_CONFIG, then ~/.hearth/hearth.toml, then
// hearth.toml in the working directory.
func NewApp(configPath string) (*App, error) {
	if configPath == "" {
		configPath = os.Getenv("HEARTH_CONFIG")
	}

	paths := []string{configPath}
	if configPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			paths = append(paths, filepath.Join(home, ".hearth", "hearth.toml"))
		}
		paths = append(paths, "hearth.toml")
	}

	config, err := common.LoadConfig(paths...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := common.NewLogger(config.Logging.Level)

	var storeOpts []connections.Option
	if config.Storage.UseKeyring {
		storeOpts = append(storeOpts, connections.WithKeyring("hearth"))
	}
	store, err := connections.NewStore(logger, config.Storage.Path, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection store: %w", err)
	}

	sess := session.NewService(store, config.OAuth, logger)

	return &App{
		Config:      config,
		Logger:      logger,
		Store:       store,
		Session:     sess,
		StartupTime: time.Now(),
	}, nil
}

// NewDiscovery builds a discovery service from the loaded configuration.
func (a *App) NewDiscovery(opts ...discovery.Option) *discovery.Service {
	base := []discovery.Option{
		discovery.WithServiceType(a.Config.Discovery.ServiceType),
		discovery.WithDomain(a.Config.Discovery.Domain),
		discovery.WithDebounce(a.Config.Discovery.GetDebounce()),
		discovery.WithResolveTimeout(a.Config.Discovery.GetResolveTimeout()),
	}
	return discovery.NewService(a.Logger, append(base, opts...)...)
}

// Close releases the store.
func (a *App) Close() {
	if err := a.Store.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to close connection store")
	}
}
