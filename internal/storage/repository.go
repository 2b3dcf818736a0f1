package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertPriceSampleSQL = `INSERT INTO price_samples (
        observed_at,
        source,
        price_usd,
        market_cap_usd,
        volume_24h_usd,
        rank,
        change_pct_24h
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (observed_at, source) DO UPDATE
    SET
        price_usd      = EXCLUDED.price_usd,
        market_cap_usd = EXCLUDED.market_cap_usd,
        volume_24h_usd = EXCLUDED.volume_24h_usd,
        rank           = EXCLUDED.rank,
        change_pct_24h = EXCLUDED.change_pct_24h;`

	sampleColumns = `observed_at,
        source,
        price_usd::text,
        market_cap_usd::text,
        volume_24h_usd::text,
        rank,
        change_pct_24h::text,
        created_at`

	listSamplesBetweenSQL = `SELECT ` + sampleColumns + `
    FROM price_samples
    WHERE observed_at >= $1
      AND observed_at < $2
    ORDER BY observed_at;`

	listRecentSamplesSQL = `SELECT ` + sampleColumns + `
    FROM price_samples
    ORDER BY observed_at DESC
    LIMIT $1;`

	countSamplesSQL = `SELECT COUNT(*) FROM price_samples;`

	deleteSamplesBeforeSQL = `DELETE FROM price_samples WHERE observed_at < $1;`

	getValueSQL    = `SELECT value FROM kv_store WHERE key = $1;`
	deleteValueSQL = `DELETE FROM kv_store WHERE key = $1;`
	setValueSQL    = `INSERT INTO kv_store (key, value, updated_at)
    VALUES ($1, $2, NOW())
    ON CONFLICT (key) DO UPDATE
    SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SampleStore defines operations for price history persistence.
type SampleStore interface {
	UpsertSample(ctx context.Context, sample PriceSample) error
	ListSamplesBetween(ctx context.Context, from, to time.Time) ([]PriceSample, error)
	ListRecentSamples(ctx context.Context, limit int) ([]PriceSample, error)
	CountSamples(ctx context.Context) (int64, error)
	DeleteSamplesBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

var _ SampleStore = (*Store)(nil)

// Store aggregates access to price samples and the key/value table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertSample persists or updates a price sample.
func (s *Store) UpsertSample(ctx context.Context, sample PriceSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var rank any
	if sample.Rank != nil {
		rank = *sample.Rank
	}

	_, execErr := pool.Exec(ctx, upsertPriceSampleSQL,
		sample.ObservedAt,
		sample.Source,
		sample.Price.String(),
		optionalDecimal(sample.MarketCapUSD),
		optionalDecimal(sample.Volume24hUSD),
		rank,
		optionalDecimal(sample.ChangePercent24h),
	)
	if execErr != nil {
		return fmt.Errorf("upsert price sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists samples within a time window, oldest first.
func (s *Store) ListSamplesBetween(ctx context.Context, from, to time.Time) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	return collectSamples(rows, 0)
}

// ListRecentSamples lists the most recent samples, newest first.
func (s *Store) ListRecentSamples(ctx context.Context, limit int) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	return collectSamples(rows, limit)
}

// CountSamples counts stored samples.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// DeleteSamplesBefore prunes history older than the cutoff.
func (s *Store) DeleteSamplesBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteSamplesBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete samples before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// Get reads a key from the kv_store table.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}
	var value []byte
	if scanErr := pool.QueryRow(ctx, getValueSQL, key).Scan(&value); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get %s: %w", key, scanErr)
	}
	return value, true, nil
}

// Set upserts a key in the kv_store table.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, setValueSQL, key, value); execErr != nil {
		return fmt.Errorf("set %s: %w", key, execErr)
	}
	return nil
}

// Delete removes a key from the kv_store table.
func (s *Store) Delete(ctx context.Context, key string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteValueSQL, key); execErr != nil {
		return fmt.Errorf("delete %s: %w", key, execErr)
	}
	return nil
}

func optionalDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseOptionalDecimal(text pgtype.Text, field string) (*decimal.Decimal, error) {
	if !text.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(text.String)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", field, err)
	}
	return &d, nil
}

func collectSamples(rows pgx.Rows, capacity int) ([]PriceSample, error) {
	defer rows.Close()

	samples := make([]PriceSample, 0, capacity)
	for rows.Next() {
		sample, scanErr := scanPriceSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

func scanPriceSample(rows pgx.Rows) (PriceSample, error) {
	var (
		observedAt time.Time
		source     string
		priceStr   string
		marketCap  pgtype.Text
		volume     pgtype.Text
		rank       pgtype.Int4
		change     pgtype.Text
		createdAt  time.Time
	)

	if err := rows.Scan(
		&observedAt,
		&source,
		&priceStr,
		&marketCap,
		&volume,
		&rank,
		&change,
		&createdAt,
	); err != nil {
		return PriceSample{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return PriceSample{}, fmt.Errorf("parse price: %w", err)
	}

	sample := PriceSample{
		ObservedAt: observedAt,
		Source:     source,
		Price:      price,
		CreatedAt:  createdAt,
	}
	if sample.MarketCapUSD, err = parseOptionalDecimal(marketCap, "market cap"); err != nil {
		return PriceSample{}, err
	}
	if sample.Volume24hUSD, err = parseOptionalDecimal(volume, "volume"); err != nil {
		return PriceSample{}, err
	}
	if sample.ChangePercent24h, err = parseOptionalDecimal(change, "change pct"); err != nil {
		return PriceSample{}, err
	}
	if rank.Valid {
		value := int(rank.Int32)
		sample.Rank = &value
	}

	return sample, nil
}
