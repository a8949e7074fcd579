package datasource

import (
	"database/sql"

	"github.com/HerbHall/stbemu/pkg/plugin"
)

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create profile settings table",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS profile_settings (
						profile_id TEXT NOT NULL,
						grp TEXT NOT NULL,
						key TEXT NOT NULL,
						value TEXT NOT NULL,
						updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						PRIMARY KEY (profile_id, grp, key)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_profile_settings_profile ON profile_settings(profile_id)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
