package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventqueue/agent/internal/domain"
)

// Store is the PostgreSQL implementation of domain.Store. The pool's
// row-level transaction isolation is what makes concurrent access from the
// ingestor and request handlers safe; no additional locking is layered on top.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new postgres Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS deliveries (
	id UUID PRIMARY KEY,
	delivered BOOLEAN NOT NULL DEFAULT FALSE,
	error TEXT,
	created TIMESTAMPTZ NOT NULL,
	destination_url TEXT NOT NULL,
	method TEXT NOT NULL,
	headers JSONB NOT NULL,
	query_params JSONB,
	body BYTEA
);

CREATE TABLE IF NOT EXISTS raw_calls (
	id UUID PRIMARY KEY,
	destination_url TEXT NOT NULL,
	ciphertext TEXT NOT NULL,
	enc_key TEXT NOT NULL,
	enc_iv TEXT NOT NULL,
	enc_tag TEXT NOT NULL,
	created TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deliveries_pending
	ON deliveries(delivered) WHERE delivered = FALSE;
`

// InitSchema creates both partitions if they do not exist yet.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Exists reports whether id is present in either partition.
func (s *Store) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var found bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM deliveries WHERE id = $1)
		    OR EXISTS (SELECT 1 FROM raw_calls WHERE id = $1)
	`, id).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("existence check: %w", err)
	}
	return found, nil
}

// SaveRaw inserts the undecryptable envelope with all encrypted fields intact.
func (s *Store) SaveRaw(ctx context.Context, n domain.Notification) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO raw_calls (id, destination_url, ciphertext, enc_key, enc_iv, enc_tag, created)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, n.ID, n.DestinationURL, n.Ciphertext, n.EncKey, n.EncIV, n.EncTag, n.Created)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert raw call: %w", err)
	}
	return nil
}

// SaveDelivery inserts the decoded call with delivered=false and no error.
func (s *Store) SaveDelivery(ctx context.Context, n domain.Notification, call domain.DecodedCall) error {
	headers, err := json.Marshal(call.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	params, err := json.Marshal(call.QueryParams)
	if err != nil {
		return fmt.Errorf("marshal query params: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO deliveries (id, delivered, error, created, destination_url, method, headers, query_params, body)
		VALUES ($1, FALSE, NULL, $2, $3, $4, $5, $6, $7)
	`, n.ID, n.Created, n.DestinationURL, call.Method, headers, params, call.Body)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// MarkDelivered flips delivered to true and clears the error.
func (s *Store) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE deliveries SET delivered = TRUE, error = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkFailed records the last failure text, leaving delivered unchanged.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, errText string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE deliveries SET error = $1 WHERE id = $2`, errText, id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Get fetches a single delivery record.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*domain.DeliveryRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, delivered, error, created, destination_url, method, headers, query_params, body
		FROM deliveries WHERE id = $1
	`, id)
	rec, err := scanDelivery(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rec, err
}

// ListPending returns all undelivered records.
func (s *Store) ListPending(ctx context.Context) ([]*domain.DeliveryRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, delivered, error, created, destination_url, method, headers, query_params, body
		FROM deliveries WHERE delivered = FALSE ORDER BY created
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var results []*domain.DeliveryRecord
	for rows.Next() {
		rec, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// ListRaw returns all undecryptable envelopes.
func (s *Store) ListRaw(ctx context.Context) ([]*domain.RawRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, destination_url, ciphertext, enc_key, enc_iv, enc_tag, created
		FROM raw_calls ORDER BY created
	`)
	if err != nil {
		return nil, fmt.Errorf("list raw calls: %w", err)
	}
	defer rows.Close()

	var results []*domain.RawRecord
	for rows.Next() {
		var r domain.RawRecord
		if err := rows.Scan(&r.ID, &r.DestinationURL, &r.Ciphertext, &r.EncKey, &r.EncIV, &r.EncTag, &r.Created); err != nil {
			return nil, fmt.Errorf("scan raw call: %w", err)
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}

// Delete removes id from whichever partition holds it.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM deliveries WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete delivery: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM raw_calls WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete raw call: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// scanDelivery is a helper to scan a row into a DeliveryRecord.
type scannable interface {
	Scan(dest ...any) error
}

func scanDelivery(row scannable) (*domain.DeliveryRecord, error) {
	var (
		rec     domain.DeliveryRecord
		errText *string
		headers []byte
		params  []byte
	)
	err := row.Scan(&rec.ID, &rec.Delivered, &errText, &rec.Created,
		&rec.DestinationURL, &rec.Method, &headers, &params, &rec.Body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan delivery: %w", err)
	}
	if errText != nil {
		rec.Error = *errText
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &rec.Headers); err != nil {
			return nil, fmt.Errorf("unmarshal headers: %w", err)
		}
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &rec.QueryParams); err != nil {
			return nil, fmt.Errorf("unmarshal query params: %w", err)
		}
	}
	return &rec, nil
}
