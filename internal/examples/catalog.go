package examples

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Catalog is the sqlite index of the corpus, keyed by example ID. The merge
// step uses it to join annotations against shard membership without scanning
// every shard, and the stats command reads its counts. It is derived,
// regenerable state; the shards remain the source of truth.
type Catalog struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenCatalog opens (or creates) the catalog database at path. Use
// ":memory:" in tests.
func OpenCatalog(path string) (*Catalog, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	c := &Catalog{db: db}
	if err := c.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS examples (
		example_id  TEXT PRIMARY KEY,
		building_id TEXT NOT NULL,
		longitude   REAL NOT NULL,
		latitude    REAL NOT NULL,
		shard       INTEGER NOT NULL,
		partial     INTEGER NOT NULL DEFAULT 0,
		label_raw   TEXT,
		label       INTEGER,
		split       TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_examples_shard ON examples(shard);
	CREATE INDEX IF NOT EXISTS idx_examples_split ON examples(split);
	`
	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize catalog schema: %w", err)
	}
	return nil
}

func (c *Catalog) Close() error { return c.db.Close() }

// Entry is one catalog row.
type Entry struct {
	ExampleID  string
	BuildingID string
	Longitude  float64
	Latitude   float64
	Shard      int
	Partial    bool
}

// InsertBatch upserts catalog rows for freshly serialized records.
// Re-inserting the same example is a no-op beyond refreshing its fields, so
// retried shards stay consistent.
func (c *Catalog) InsertBatch(entries []Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT INTO examples (example_id, building_id, longitude, latitude, shard, partial)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(example_id) DO UPDATE SET
			building_id = excluded.building_id,
			longitude = excluded.longitude,
			latitude = excluded.latitude,
			shard = excluded.shard,
			partial = excluded.partial`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, e := range entries {
		partial := 0
		if e.Partial {
			partial = 1
		}
		if _, err := stmt.Exec(e.ExampleID, e.BuildingID, e.Longitude, e.Latitude, e.Shard, partial); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to catalog example %s: %w", e.ExampleID, err)
		}
	}
	return tx.Commit()
}

// ShardOf looks up the shard holding an example. ok is false for unknown IDs.
func (c *Catalog) ShardOf(exampleID string) (shard int, ok bool, err error) {
	row := c.db.QueryRow(`SELECT shard FROM examples WHERE example_id = ?`, exampleID)
	switch err := row.Scan(&shard); err {
	case nil:
		return shard, true, nil
	case sql.ErrNoRows:
		return 0, false, nil
	default:
		return 0, false, err
	}
}

// SetLabel records the merged label and split assignment for an example.
func (c *Catalog) SetLabel(exampleID, raw string, label int, split string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.db.Exec(
		`UPDATE examples SET label_raw = ?, label = ?, split = ? WHERE example_id = ?`,
		raw, label, split, exampleID)
	return err
}

// Stats summarizes the corpus.
type Stats struct {
	Total     int
	Partial   int
	Labeled   int
	Train     int
	Test      int
	Positives int
	Negatives int
}

// Counts computes corpus statistics from the catalog.
func (c *Catalog) Counts() (Stats, error) {
	var s Stats
	row := c.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(partial), 0),
		       COALESCE(SUM(label IS NOT NULL), 0),
		       COALESCE(SUM(split = 'train'), 0),
		       COALESCE(SUM(split = 'test'), 0),
		       COALESCE(SUM(label = 1), 0),
		       COALESCE(SUM(label = 0), 0)
		FROM examples`)
	if err := row.Scan(&s.Total, &s.Partial, &s.Labeled, &s.Train, &s.Test, &s.Positives, &s.Negatives); err != nil {
		return Stats{}, fmt.Errorf("failed to read catalog counts: %w", err)
	}
	return s, nil
}
