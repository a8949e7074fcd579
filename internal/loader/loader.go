package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/HerbHall/stbemu/internal/manifest"
	"github.com/HerbHall/stbemu/internal/registry"
	"github.com/HerbHall/stbemu/internal/settings"
	"github.com/HerbHall/stbemu/pkg/plugin"
	"go.uber.org/zap"
)

// Skipped records a descriptor that did not produce a registered plugin.
type Skipped struct {
	Path string
	ID   string
	Err  error
}

// Report summarizes one discovery pass.
type Report struct {
	Registered []string
	Skipped    []Skipped
}

func (r *Report) merge(o Report) {
	r.Registered = append(r.Registered, o.Registered...)
	r.Skipped = append(r.Skipped, o.Skipped...)
}

// Loader discovers descriptors, instantiates their classes and registers
// them.
type Loader struct {
	reg      *registry.Registry
	catalog  *Catalog
	settings settings.Repository
	logger   *zap.Logger
}

// New creates a loader. settings may be nil, in which case the discovered
// plugin list is not persisted.
func New(reg *registry.Registry, catalog *Catalog, repo settings.Repository, logger *zap.Logger) *Loader {
	return &Loader{reg: reg, catalog: catalog, settings: repo, logger: logger}
}

// LoadFS registers every descriptor found under root in fsys. source labels
// the descriptors (for example "builtin"). A missing root returns
// plugin.ErrDirectoryNotFound; per-descriptor problems are reported in the
// Report and never abort the pass.
func (l *Loader) LoadFS(ctx context.Context, fsys fs.FS, root, source string) (Report, error) {
	results, err := manifest.DiscoverFS(fsys, root)
	if err != nil {
		return Report{}, err
	}
	for i := range results {
		if source != "" {
			results[i].Descriptor.Source = source
		}
	}
	return l.register(ctx, results), nil
}

// LoadDir registers every descriptor in a plugin directory on disk.
func (l *Loader) LoadDir(ctx context.Context, dir string) (Report, error) {
	results, err := manifest.DiscoverDir(dir)
	if err != nil {
		return Report{}, err
	}
	return l.register(ctx, results), nil
}

// Source is one place descriptors are discovered from.
type Source struct {
	Name string
	FS   fs.FS
	Root string
	Dir  string // used instead of FS when set
}

// LoadAll runs discovery over every source in order, then persists the list
// of registered plugin ids. A missing directory is logged and skipped.
func (l *Loader) LoadAll(ctx context.Context, sources ...Source) Report {
	var total Report
	for _, src := range sources {
		var (
			rep Report
			err error
		)
		if src.Dir != "" {
			rep, err = l.LoadDir(ctx, src.Dir)
		} else {
			rep, err = l.LoadFS(ctx, src.FS, src.Root, src.Name)
		}
		if err != nil {
			if errors.Is(err, plugin.ErrDirectoryNotFound) {
				l.logger.Warn("plugin directory not found", zap.String("source", src.Name), zap.Error(err))
			} else {
				l.logger.Error("plugin discovery failed", zap.String("source", src.Name), zap.Error(err))
			}
			continue
		}
		total.merge(rep)
	}

	l.logger.Info("plugin discovery complete",
		zap.Int("registered", len(total.Registered)),
		zap.Int("skipped", len(total.Skipped)),
	)
	if err := l.Persist(ctx); err != nil {
		l.logger.Warn("failed to persist plugin list", zap.Error(err))
	}
	return total
}

func (l *Loader) register(ctx context.Context, results []manifest.Result) Report {
	var rep Report
	for _, res := range results {
		desc := res.Descriptor
		log := l.logger.With(zap.String("path", res.Path), zap.String("id", desc.ID))
		if res.Err != nil {
			log.Warn("invalid plugin descriptor", zap.Error(res.Err))
			rep.Skipped = append(rep.Skipped, Skipped{Path: res.Path, ID: desc.ID, Err: res.Err})
			continue
		}
		if err := l.registerOne(ctx, desc); err != nil {
			if errors.Is(err, plugin.ErrDuplicateOrBlacklisted) {
				log.Info("plugin skipped", zap.Error(err))
			} else {
				log.Warn("plugin not registered", zap.Error(err))
			}
			rep.Skipped = append(rep.Skipped, Skipped{Path: res.Path, ID: desc.ID, Err: err})
			continue
		}
		log.Debug("plugin registered", zap.String("class", desc.ClassName))
		rep.Registered = append(rep.Registered, desc.ID)
	}
	return rep
}

func (l *Loader) registerOne(_ context.Context, desc plugin.Descriptor) error {
	if desc.ID == "" {
		return plugin.ErrMissingIdentifier
	}
	if l.reg.IsBlacklisted(desc.ID) {
		return fmt.Errorf("%w: %s", plugin.ErrBlacklisted, desc.ID)
	}
	if _, exists := l.reg.ByID(desc.ID); exists {
		return fmt.Errorf("%w: %s", plugin.ErrDuplicate, desc.ID)
	}
	impl, err := l.catalog.New(desc.ClassName)
	if err != nil {
		return err
	}
	_, err = l.reg.Register(desc, impl)
	return err
}

// Persist stores the registered plugin ids in the plugins setting and logs
// previously known plugins that are no longer present.
func (l *Loader) Persist(ctx context.Context) error {
	if l.settings == nil {
		return nil
	}
	current := l.reg.IDs()
	previous := settings.SplitList(settings.GetString(ctx, l.settings, settings.KeyPlugins, ""))

	present := make(map[string]bool, len(current))
	for _, id := range current {
		present[id] = true
	}
	for _, id := range previous {
		if !present[id] {
			l.logger.Info("previously loaded plugin is gone", zap.String("id", id))
		}
	}
	return l.settings.Set(ctx, settings.KeyPlugins, settings.JoinList(current))
}
