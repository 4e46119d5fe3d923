package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serroba/shortlink/internal/domain"
)

//go:embed migrations/schema.sql
var schema string

const recordColumns = `id, original_value, short_code, created_at, access_count, expires_at`

// PostgresStore is a PostgreSQL implementation of domain.RecordStore.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed record store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the records table and its indexes if missing.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id int64) (*domain.Record, error) {
	return p.queryOne(ctx, `SELECT `+recordColumns+` FROM url_records WHERE id = $1`, id)
}

func (p *PostgresStore) GetByCode(ctx context.Context, code domain.Code) (*domain.Record, error) {
	return p.queryOne(ctx, `SELECT `+recordColumns+` FROM url_records WHERE short_code = $1`, string(code))
}

// GetByOriginalValue returns the newest record for value.
func (p *PostgresStore) GetByOriginalValue(ctx context.Context, value string) (*domain.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM url_records
		WHERE original_value = $1
		ORDER BY id DESC
		LIMIT 1
	`

	return p.queryOne(ctx, query, value)
}

func (p *PostgresStore) Put(ctx context.Context, record *domain.Record) error {
	query := `
		INSERT INTO url_records (id, original_value, short_code, created_at, access_count, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			original_value = EXCLUDED.original_value,
			short_code     = EXCLUDED.short_code,
			access_count   = EXCLUDED.access_count,
			expires_at     = EXCLUDED.expires_at
	`

	_, err := p.pool.Exec(ctx, query,
		record.ID,
		record.OriginalValue,
		string(record.ShortCode),
		record.CreatedAt,
		record.AccessCount,
		record.ExpiresAt,
	)

	return err
}

// PutBatch inserts records in one round trip, skipping codes that are taken.
func (p *PostgresStore) PutBatch(ctx context.Context, records []*domain.Record) (int, error) {
	query := `
		INSERT INTO url_records (id, original_value, short_code, created_at, access_count, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (short_code) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(query, r.ID, r.OriginalValue, string(r.ShortCode), r.CreatedAt, r.AccessCount, r.ExpiresAt)
	}

	results := p.pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0

	for range records {
		tag, err := results.Exec()
		if err != nil {
			return inserted, err
		}

		inserted += int(tag.RowsAffected())
	}

	return inserted, nil
}

func (p *PostgresStore) Delete(ctx context.Context, id int64) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM url_records WHERE id = $1`, id)

	return err
}

func (p *PostgresStore) Exists(ctx context.Context, code domain.Code) (bool, error) {
	var exists bool

	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM url_records WHERE short_code = $1)`,
		string(code),
	).Scan(&exists)

	return exists, err
}

func (p *PostgresStore) SetExpiry(ctx context.Context, id int64, expiresAt time.Time) error {
	tag, err := p.pool.Exec(ctx, `UPDATE url_records SET expires_at = $2 WHERE id = $1`, id, expiresAt)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	return nil
}

func (p *PostgresStore) ScanExpired(ctx context.Context, now time.Time) ([]*domain.Record, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM url_records WHERE expires_at IS NOT NULL AND expires_at < $1`,
		now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expired []*domain.Record

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		expired = append(expired, record)
	}

	return expired, rows.Err()
}

func (p *PostgresStore) IncrementAccessCount(ctx context.Context, code domain.Code, delta int64) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE url_records SET access_count = access_count + $2 WHERE short_code = $1`,
		string(code), delta,
	)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// Audit runs the count queries in one batch.
func (p *PostgresStore) Audit(ctx context.Context) (domain.Audit, error) {
	var audit domain.Audit

	queries := []struct {
		sql  string
		dest *int64
	}{
		{`SELECT count(*) FROM url_records`, &audit.Records},
		{duplicateGroups("short_code"), &audit.DuplicateCodes},
		{duplicateGroups("id"), &audit.DuplicateIDs},
		{duplicateGroups("original_value"), &audit.DuplicateValues},
	}

	batch := &pgx.Batch{}
	for _, q := range queries {
		batch.Queue(q.sql)
	}

	results := p.pool.SendBatch(ctx, batch)
	defer results.Close()

	for _, q := range queries {
		if err := results.QueryRow().Scan(q.dest); err != nil {
			return domain.Audit{}, fmt.Errorf("audit: %w", err)
		}
	}

	return audit, nil
}

func duplicateGroups(column string) string {
	return `SELECT count(*) FROM (SELECT 1 FROM url_records GROUP BY ` + column + ` HAVING count(*) > 1) AS dup`
}

func (p *PostgresStore) Recent(ctx context.Context, limit int) ([]*domain.Record, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM url_records ORDER BY created_at DESC, id DESC LIMIT $1`,
		max(limit, 0),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recent []*domain.Record

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		recent = append(recent, record)
	}

	return recent, rows.Err()
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Shutdown closes the connection pool.
func (p *PostgresStore) Shutdown() error {
	p.pool.Close()

	return nil
}

func (p *PostgresStore) queryOne(ctx context.Context, query string, arg any) (*domain.Record, error) {
	record, err := scanRecord(p.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}

		return nil, err
	}

	return record, nil
}

func scanRecord(row pgx.Row) (*domain.Record, error) {
	var (
		record domain.Record
		code   string
	)

	err := row.Scan(
		&record.ID,
		&record.OriginalValue,
		&code,
		&record.CreatedAt,
		&record.AccessCount,
		&record.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	record.ShortCode = domain.Code(code)

	return &record, nil
}

// Compile-time checks.
var (
	_ domain.RecordStore   = (*PostgresStore)(nil)
	_ domain.BatchWriter   = (*PostgresStore)(nil)
	_ domain.AccessCounter = (*PostgresStore)(nil)
	_ domain.Auditor       = (*PostgresStore)(nil)
)
