package main

import (
	"context"
	"fmt"

	"github.com/HerbHall/stbemu/internal/builtin"
	"github.com/HerbHall/stbemu/internal/config"
	"github.com/HerbHall/stbemu/internal/event"
	"github.com/HerbHall/stbemu/internal/keymap"
	"github.com/HerbHall/stbemu/internal/loader"
	"github.com/HerbHall/stbemu/internal/profile"
	"github.com/HerbHall/stbemu/internal/registry"
	"github.com/HerbHall/stbemu/internal/settings"
	"github.com/HerbHall/stbemu/internal/store"
	"github.com/HerbHall/stbemu/internal/version"
	"github.com/HerbHall/stbemu/pkg/plugin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// app is the composition root shared by every command: configuration,
// storage, the plugin host and the profile layer, wired and initialized.
type app struct {
	v        *viper.Viper
	paths    config.Paths
	logger   *zap.Logger
	db       *store.SQLiteStore
	bus      *event.Bus
	manager  *registry.Manager
	settings *settings.SQLiteRepository
	profiles *profile.Store
	switcher *profile.Switcher
	report   loader.Report
	detach   func()
}

// newApp loads configuration, discovers and initializes plugins, and loads
// the persisted profiles. Plugin failures are logged, never fatal.
func newApp(ctx context.Context, configPath string) (*app, error) {
	v, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	logger, err := config.NewLogger(v)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	a := &app{v: v, paths: config.PathsFrom(v), logger: logger}
	if f := v.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded", zap.String("component", "config"), zap.String("source", f))
	} else {
		logger.Debug("no configuration file found, using defaults", zap.String("component", "config"))
	}

	a.db, err = store.New(a.paths.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := a.db.CheckVersion(ctx, version.Short()); err != nil {
		a.db.Close()
		return nil, err
	}
	a.settings, err = settings.NewSQLiteRepository(ctx, a.db)
	if err != nil {
		a.db.Close()
		return nil, fmt.Errorf("initialize settings: %w", err)
	}

	a.bus = event.NewBus(logger.Named("event"))
	reg := registry.New(logger.Named("registry"), a.bus)
	reg.Blacklist(config.Blacklist(v)...)

	a.manager = registry.NewManager(reg, logger.Named("lifecycle"),
		registry.WithThreaded(v.GetBool("plugins.threaded")),
		registry.WithDependencies(func(desc plugin.Descriptor) plugin.Dependencies {
			return plugin.Dependencies{
				Config: config.ForPlugin(v, desc.ID),
				Logger: logger.Named(desc.ID),
				Store:  a.db,
				Bus:    a.bus,
			}
		}),
	)

	// Classes register on plugin.discovered, so attach before loading.
	a.profiles = profile.NewStore(a.paths.Profiles, a.manager.Plugins(), a.bus, logger.Named("profile"))
	a.detach = a.profiles.Attach(a.bus)

	ld := loader.New(reg, loader.NewCatalog(builtin.Factories()), a.settings, logger.Named("loader"))
	a.report = ld.LoadAll(ctx,
		builtin.LoaderSource(),
		loader.Source{Name: "plugins", Dir: a.paths.Plugins},
	)

	if err := a.manager.InitAll(ctx); err != nil {
		logger.Warn("some plugins failed to initialize", zap.Error(err))
	}

	if _, err := a.profiles.Load(ctx, ""); err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("load profiles: %w", err)
	}

	keymaps := keymap.NewLoader(a.paths.Config, logger.Named("keymap"))
	a.switcher = profile.NewSwitcher(a.profiles, a.manager.Plugins(), logger.Named("switcher"),
		profile.WithKeymaps(keymaps),
		profile.WithSettings(a.settings),
		profile.WithBus(a.bus),
	)
	return a, nil
}

// Close deinitializes plugins in reverse order and releases storage.
func (a *app) Close(ctx context.Context) {
	a.manager.DeinitAll(ctx)
	if a.detach != nil {
		a.detach()
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// persistedActive returns the profile recorded as active, if it still exists.
func (a *app) persistedActive(ctx context.Context) *profile.Profile {
	id := settings.GetString(ctx, a.settings, settings.KeyActiveProfile, "")
	if id == "" {
		return nil
	}
	p, _ := a.profiles.FindByID(id)
	return p
}

// withApp runs fn against a fully wired app and tears it down afterwards.
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := newApp(ctx, cfgFile)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))
	return fn(a)
}
