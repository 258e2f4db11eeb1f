// Package presets maintains a local index of device-stored preset names so
// schedules can reference presets by name and still fail fast at load time.
package presets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wledsync/internal/show"
	"github.com/dokzlo13/wledsync/internal/wled"
)

// Index is a SQLite-backed cache of controller preset tables. It caches
// device metadata only; nothing about played shows is ever persisted.
type Index struct {
	db *sql.DB
}

// Open opens (and if needed initializes) the index database.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open preset index: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS preset_index (
			controller TEXT NOT NULL,
			name TEXT NOT NULL,
			preset_id INTEGER NOT NULL,
			fetched_at INTEGER NOT NULL,
			PRIMARY KEY (controller, name)
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init preset index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close closes the database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// PresetID looks a preset name up for one controller. Implements
// show.PresetResolver.
func (ix *Index) PresetID(id show.ControllerID, name string) (int, bool) {
	var presetID int
	err := ix.db.QueryRow(`
		SELECT preset_id FROM preset_index WHERE controller = ? AND name = ?
	`, string(id), name).Scan(&presetID)
	if err == sql.ErrNoRows {
		return 0, false
	}
	if err != nil {
		log.Warn().Err(err).Str("controller", string(id)).Str("preset", name).Msg("Failed to read preset index")
		return 0, false
	}
	return presetID, true
}

// Put replaces the stored preset table for one controller.
func (ix *Index) Put(id show.ControllerID, presets []wled.Preset) error {
	tx, err := ix.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM preset_index WHERE controller = ?`, string(id)); err != nil {
		return err
	}
	now := time.Now().Unix()
	for _, p := range presets {
		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO preset_index (controller, name, preset_id, fetched_at)
			VALUES (?, ?, ?, ?)
		`, string(id), p.Name, p.ID, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Refresh fetches the preset table of every WLED controller in the topology
// and stores it. Redundant URLs are tried in order; a controller that
// cannot be reached on any URL is reported but does not stop the refresh of
// the others.
func (ix *Index) Refresh(ctx context.Context, topo *show.Topology, client *wled.Client) error {
	var errs []error
	for id, ctrl := range topo.Controllers {
		if ctrl.Type != show.ControllerTypeWLED {
			continue
		}
		var (
			fetched []wled.Preset
			lastErr error
		)
		for _, url := range ctrl.URLs {
			fetched, lastErr = client.FetchPresets(ctx, url)
			if lastErr == nil {
				break
			}
		}
		if lastErr != nil {
			log.Warn().Err(lastErr).Str("controller", string(id)).Msg("Failed to fetch presets")
			errs = append(errs, fmt.Errorf("controller %q: %w", id, lastErr))
			continue
		}
		if err := ix.Put(id, fetched); err != nil {
			errs = append(errs, fmt.Errorf("store presets for %q: %w", id, err))
			continue
		}
		log.Info().Str("controller", string(id)).Int("presets", len(fetched)).Msg("Preset index refreshed")
	}
	return errors.Join(errs...)
}
