package stores

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
	"wuyrush.io/wave/common/logging"
	cst "wuyrush.io/wave/constants"
	se "wuyrush.io/wave/errors"
)

const schemaViewedWaves = `
CREATE TABLE IF NOT EXISTS viewed_waves (
	viewer_id TEXT NOT NULL,
	wave_id TEXT NOT NULL,
	viewed_at INTEGER NOT NULL,
	PRIMARY KEY (viewer_id, wave_id)
)`

// SQLiteViewedStore persists the ids of waves a viewer has seen across viewer runs. Ids are only
// ever added, never replaced, so concurrent writers merge by union.
type SQLiteViewedStore struct {
	db *sql.DB
}

func OpenSQLiteViewedStore(path string) (*SQLiteViewedStore, *se.Err) {
	if strings.TrimSpace(path) == "" {
		return nil, se.NewBadInput("viewed store path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, se.NewServiceFailure("error opening viewed store").WithCause(err)
	}
	if _, err := db.Exec(schemaViewedWaves); err != nil {
		_ = db.Close()
		return nil, se.NewServiceFailure("error creating viewed store schema").WithCause(err)
	}
	return &SQLiteViewedStore{db: db}, nil
}

// LoadViewed returns the ids of the waves viewerID has seen, in view order
func (s *SQLiteViewedStore) LoadViewed(ctx context.Context, viewerID string) ([]string, *se.Err) {
	const errMsg = "error loading viewed waves"
	rows, err := s.db.QueryContext(ctx,
		`SELECT wave_id FROM viewed_waves WHERE viewer_id = ? ORDER BY viewed_at, wave_id`, viewerID)
	if err != nil {
		return nil, se.NewServiceFailure(errMsg).WithCause(err)
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, se.NewServiceFailure(errMsg).WithCause(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, se.NewServiceFailure(errMsg).WithCause(err)
	}
	return ids, nil
}

// SaveViewed adds ids to the viewed set of viewerID. Ids already present keep their view time.
func (s *SQLiteViewedStore) SaveViewed(ctx context.Context, viewerID string, ids []string, at time.Time) *se.Err {
	const errMsg = "error saving viewed waves"
	clog := logging.WithFuncName().WithField(cst.LogFieldViewerID, viewerID)
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return se.NewServiceFailure(errMsg).WithCause(err)
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO viewed_waves (viewer_id, wave_id, viewed_at) VALUES (?, ?, ?)`)
	if err != nil {
		return se.NewServiceFailure(errMsg).WithCause(err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, viewerID, id, at.UnixMilli()); err != nil {
			clog.WithError(err).WithField(cst.LogFieldWaveID, id).Error("error inserting viewed wave")
			return se.NewServiceFailure(errMsg).WithCause(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return se.NewServiceFailure(errMsg).WithCause(err)
	}
	return nil
}

// Prune drops entries recorded before cutoff. Waves viewed that long ago have expired anyway.
func (s *SQLiteViewedStore) Prune(ctx context.Context, cutoff time.Time) (int64, *se.Err) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM viewed_waves WHERE viewed_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, se.NewServiceFailure("error pruning viewed waves").WithCause(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLiteViewedStore) Close() *se.Err {
	if err := s.db.Close(); err != nil {
		return se.NewServiceFailure("error closing viewed store").WithCause(err)
	}
	return nil
}
