package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"engineroom/internal/types"
)

// Snapshot is one item's market observation at a point in time. The previous
// observation for the same item supplies the "yesterday" side of trend
// classification.
type Snapshot struct {
	ItemID      string                           `json:"item_id"`
	CapturedAt  int64                            `json:"captured_at"`
	MarketLow   *float64                         `json:"market_low,omitempty"`
	Competitors map[string]types.CompetitorQuote `json:"competitors,omitempty"`
}

// Manifest summarizes the snapshot database.
type Manifest struct {
	Items       int64 `json:"items"`
	Snapshots   int64 `json:"snapshots"`
	MinTime     int64 `json:"min_time"`
	MaxTime     int64 `json:"max_time"`
	LastWriteAt int64 `json:"last_write_at"`
}

// Store keeps the append-mostly price snapshot history in its own SQLite
// file, separate from the relational run store.
type Store struct {
	db   *sql.DB
	path string
}

func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("snapshot db path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS price_snapshots (
			item_id     TEXT NOT NULL,
			captured_at INTEGER NOT NULL,
			market_low  REAL,
			competitors TEXT,
			inserted_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000),
			PRIMARY KEY (item_id, captured_at)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_item_time
			ON price_snapshots (item_id, captured_at DESC);`,
		`CREATE TABLE IF NOT EXISTS manifest (
			id INTEGER PRIMARY KEY CHECK (id=1),
			items INTEGER DEFAULT 0,
			snapshots INTEGER DEFAULT 0,
			min_time INTEGER DEFAULT 0,
			max_time INTEGER DEFAULT 0,
			last_write_at INTEGER DEFAULT 0
		);`,
		`INSERT INTO manifest (id) VALUES (1) ON CONFLICT(id) DO NOTHING;`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveItems records the market side of an item upload as snapshots at the
// given capture time. Re-uploading the same capture time overwrites.
func (s *Store) SaveItems(ctx context.Context, capturedAt time.Time, items []types.Item) (int, error) {
	snaps := make([]Snapshot, 0, len(items))
	at := capturedAt.UnixMilli()
	for _, it := range items {
		if it.MarketLow == nil && len(it.Competitors) == 0 {
			continue
		}
		snaps = append(snaps, Snapshot{
			ItemID:      it.ID,
			CapturedAt:  at,
			MarketLow:   it.MarketLow,
			Competitors: it.Competitors,
		})
	}
	return s.Insert(ctx, snaps)
}

// Insert batch-writes snapshots, overwriting duplicates on (item, time).
func (s *Store) Insert(ctx context.Context, snaps []Snapshot) (int, error) {
	if len(snaps) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO price_snapshots (item_id, captured_at, market_low, competitors)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(item_id, captured_at) DO UPDATE SET
		    market_low=excluded.market_low,
		    competitors=excluded.competitors`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for _, snap := range snaps {
		if snap.ItemID == "" || snap.CapturedAt <= 0 {
			_ = tx.Rollback()
			return 0, fmt.Errorf("snapshot requires item_id and captured_at")
		}
		comps, err := marshalCompetitors(snap.Competitors)
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx, snap.ItemID, snap.CapturedAt, snap.MarketLow, comps); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if err := s.refreshManifest(ctx); err != nil {
		return count, err
	}
	return count, nil
}

// LatestBefore returns the newest snapshot for an item strictly older than
// the given time, or false when no history exists yet.
func (s *Store) LatestBefore(ctx context.Context, itemID string, before time.Time) (Snapshot, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT item_id, captured_at, market_low, competitors
		FROM price_snapshots
		WHERE item_id = ? AND captured_at < ?
		ORDER BY captured_at DESC LIMIT 1`, itemID, before.UnixMilli())
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

// History returns an item's snapshots newest first.
func (s *Store) History(ctx context.Context, itemID string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, captured_at, market_low, competitors
		FROM price_snapshots
		WHERE item_id = ?
		ORDER BY captured_at DESC LIMIT ?`, itemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *Store) Manifest(ctx context.Context) (Manifest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT items, snapshots, min_time, max_time, last_write_at FROM manifest WHERE id=1`)
	var m Manifest
	err := row.Scan(&m.Items, &m.Snapshots, &m.MinTime, &m.MaxTime, &m.LastWriteAt)
	return m, err
}

func (s *Store) refreshManifest(ctx context.Context) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		UPDATE manifest
		SET items = (SELECT COUNT(DISTINCT item_id) FROM price_snapshots),
		    snapshots = (SELECT COUNT(1) FROM price_snapshots),
		    min_time = (SELECT COALESCE(MIN(captured_at), 0) FROM price_snapshots),
		    max_time = (SELECT COALESCE(MAX(captured_at), 0) FROM price_snapshots),
		    last_write_at = ?
		WHERE id = 1`, now)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (Snapshot, error) {
	var snap Snapshot
	var comps sql.NullString
	if err := row.Scan(&snap.ItemID, &snap.CapturedAt, &snap.MarketLow, &comps); err != nil {
		return Snapshot{}, err
	}
	if comps.Valid && comps.String != "" {
		if err := json.Unmarshal([]byte(comps.String), &snap.Competitors); err != nil {
			return Snapshot{}, fmt.Errorf("decode competitors for %s: %w", snap.ItemID, err)
		}
	}
	return snap, nil
}

func marshalCompetitors(comps map[string]types.CompetitorQuote) (any, error) {
	if len(comps) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(comps)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}
