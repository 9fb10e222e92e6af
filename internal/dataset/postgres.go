package dataset

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vayuaq/vayu/internal/models"
)

// PostgresStore persists datasets in a vayu.measurements table instead of
// per-entity files. Append order is preserved by an id sequence; the unique
// index on (entity_id, parameter_name, sub_source_id, interval_start) backs
// the same composite-key invariant the file store enforces via dedup alone.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database at url.
func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (ps *PostgresStore) Close() {
	ps.pool.Close()
}

// Load returns the entity's records in insertion order.
func (ps *PostgresStore) Load(ctx context.Context, entityID int64) ([]models.Record, error) {
	rows, err := ps.pool.Query(ctx, `
SELECT value, parameter_id, parameter_name, units, interval_start, interval_end, sub_source_id
FROM vayu.measurements
WHERE entity_id = $1
ORDER BY id`, entityID)
	if err != nil {
		return nil, fmt.Errorf("query dataset for entity %d: %w", entityID, err)
	}
	defer rows.Close()

	var records []models.Record
	for rows.Next() {
		var (
			rec        models.Record
			start, end time.Time
		)
		rec.EntityID = entityID
		if err := rows.Scan(&rec.Value, &rec.Parameter.ID, &rec.Parameter.Name, &rec.Parameter.Units, &start, &end, &rec.SubSourceID); err != nil {
			return nil, fmt.Errorf("scan measurement: %w", err)
		}
		rec.Period.From.UTC = start.UTC()
		rec.Period.To.UTC = end.UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Merge inserts the fresh records in one batch. The existing records are
// already stored; ON CONFLICT DO NOTHING keeps a concurrent or replayed
// insert from ever violating the composite-key invariant.
func (ps *PostgresStore) Merge(ctx context.Context, entityID int64, existing, fresh []models.Record) (AppendResult, error) {
	if len(fresh) == 0 {
		return appendResult(existing, fresh), nil
	}

	batch := &pgx.Batch{}
	query := `INSERT INTO vayu.measurements
(entity_id, sub_source_id, parameter_id, parameter_name, units, value, interval_start, interval_end, ingested_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
ON CONFLICT (entity_id, parameter_name, sub_source_id, interval_start) DO NOTHING`

	for _, r := range fresh {
		batch.Queue(query,
			entityID, r.SubSourceID, r.Parameter.ID, r.Parameter.Name, r.Parameter.Units,
			r.Value, r.Period.From.UTC, r.Period.To.UTC)
	}

	res := ps.pool.SendBatch(ctx, batch)
	defer res.Close()

	for range fresh {
		if _, err := res.Exec(); err != nil {
			return AppendResult{}, fmt.Errorf("insert measurements for entity %d: %w", entityID, err)
		}
	}

	return appendResult(existing, fresh), nil
}
