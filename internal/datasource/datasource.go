// Package datasource is the built-in SQLite datasource plugin. It keeps the
// per-profile key/value settings of every profile in the shared database.
package datasource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/HerbHall/stbemu/internal/profile"
	"github.com/HerbHall/stbemu/pkg/plugin"
	"github.com/HerbHall/stbemu/pkg/roles"
	"go.uber.org/zap"
)

// ID is the plugin identifier used in migrations.
const ID = "sqlite-datasource"

// Compile-time interface guards.
var (
	_ plugin.Plugin            = (*Module)(nil)
	_ roles.DatasourceProvider = (*Module)(nil)
)

// ErrClosed is returned by datasources used while the plugin is not
// initialized.
var ErrClosed = errors.New("datasource is not initialized")

// Module implements the SQLite datasource plugin.
type Module struct {
	logger *zap.Logger

	mu    sync.RWMutex
	db    *sql.DB
	unsub func()
}

// New creates a new datasource plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Initialize(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if deps.Store == nil {
		return fmt.Errorf("%s: shared store is required", ID)
	}
	if err := deps.Store.Migrate(ctx, ID, migrations()); err != nil {
		return fmt.Errorf("%s: migrate: %w", ID, err)
	}

	m.mu.Lock()
	m.db = deps.Store.DB()
	m.mu.Unlock()

	if deps.Bus != nil {
		m.unsub = deps.Bus.Subscribe(plugin.TopicProfileRemoved, m.handleRemoved)
	}
	m.logger.Info("datasource initialized")
	return nil
}

func (m *Module) Deinitialize(_ context.Context) error {
	if m.unsub != nil {
		m.unsub()
		m.unsub = nil
	}
	m.mu.Lock()
	m.db = nil
	m.mu.Unlock()
	return nil
}

// DatasourceFor returns the datasource of profileID.
func (m *Module) DatasourceFor(profileID string) roles.Datasource {
	return &source{module: m, profile: profileID}
}

// Purge deletes every setting of profileID.
func (m *Module) Purge(ctx context.Context, profileID string) error {
	db, err := m.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM profile_settings WHERE profile_id = ?`, profileID)
	return err
}

func (m *Module) handleRemoved(ctx context.Context, ev plugin.Event) {
	pe, ok := ev.Payload.(profile.Event)
	if !ok || pe.Profile == nil || !pe.Removed {
		return
	}
	if err := m.Purge(ctx, pe.Profile.ID); err != nil {
		m.logger.Warn("failed to purge profile settings", zap.String("profile", pe.Profile.ID), zap.Error(err))
		return
	}
	m.logger.Debug("profile settings purged", zap.String("profile", pe.Profile.ID))
}

func (m *Module) conn() (*sql.DB, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.db == nil {
		return nil, ErrClosed
	}
	return m.db, nil
}

// source is the datasource bound to one profile.
type source struct {
	module  *Module
	profile string
}

func (s *source) Get(ctx context.Context, group, key, fallback string) (string, error) {
	db, err := s.module.conn()
	if err != nil {
		return fallback, err
	}
	var value string
	err = db.QueryRowContext(ctx,
		`SELECT value FROM profile_settings WHERE profile_id = ? AND grp = ? AND key = ?`,
		s.profile, group, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return fallback, nil
	}
	if err != nil {
		return fallback, fmt.Errorf("get %s/%s: %w", group, key, err)
	}
	return value, nil
}

func (s *source) Set(ctx context.Context, group, key, value string) error {
	db, err := s.module.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO profile_settings (profile_id, grp, key, value, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(profile_id, grp, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		s.profile, group, key, value,
	)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", group, key, err)
	}
	return nil
}
