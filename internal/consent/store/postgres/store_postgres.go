// Package postgres persists consent records in PostgreSQL. The conditional
// write runs as a single UPDATE predicated on the version token, so two
// revokers racing the same record are arbitrated inside the database.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"consentd/internal/consent"
	"consentd/pkg/platform/sentinel"
)

const schema = `
CREATE TABLE IF NOT EXISTS consent_records (
	id             TEXT PRIMARY KEY,
	version        INTEGER NOT NULL,
	subject_id     TEXT NOT NULL,
	policy_id      TEXT NOT NULL,
	status         TEXT NOT NULL,
	consenter      JSONB NOT NULL,
	granted_scopes JSONB NOT NULL,
	revoked_scopes JSONB NOT NULL,
	metadata       JSONB NOT NULL,
	consented_at   TIMESTAMPTZ NOT NULL,
	revoked_at     TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_consent_records_subject ON consent_records (subject_id);
CREATE INDEX IF NOT EXISTS idx_consent_records_consenter ON consent_records ((consenter->>'user_id'));
`

const selectColumns = `id, version, subject_id, policy_id, status, consenter,
	granted_scopes, revoked_scopes, metadata, consented_at, revoked_at, created_at, updated_at`

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Initialize creates the schema. Idempotent; the resolver calls it at most
// once per store instance.
func (s *Store) Initialize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("initialize consent schema: %w", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, record *consent.ConsentRecord) error {
	consenter, granted, revoked, metadata, err := marshalFields(record)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO consent_records (id, version, subject_id, policy_id, status, consenter,
			granted_scopes, revoked_scopes, metadata, consented_at, revoked_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		record.ID, record.Version, record.SubjectID, record.PolicyID, string(record.Status),
		consenter, granted, revoked, metadata,
		record.ConsentedAt, record.RevokedAt, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert consent record: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, id string, update consent.Update, currentVersion int) (*consent.ConsentRecord, error) {
	granted, err := json.Marshal(update.GrantedScopes)
	if err != nil {
		return nil, fmt.Errorf("marshal granted scopes: %w", err)
	}
	revoked, err := json.Marshal(update.RevokedScopes)
	if err != nil {
		return nil, fmt.Errorf("marshal revoked scopes: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE consent_records
		SET version = version + 1,
			status = $1,
			granted_scopes = $2,
			revoked_scopes = $3,
			revoked_at = COALESCE(revoked_at, $4),
			updated_at = $5
		WHERE id = $6 AND version = $7
		RETURNING `+selectColumns,
		string(update.Status), granted, revoked, update.RevokedAt, update.UpdatedAt,
		id, currentVersion,
	)
	updated, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.classifyUpdateMiss(ctx, id)
		}
		return nil, fmt.Errorf("update consent record: %w", err)
	}
	return updated, nil
}

// classifyUpdateMiss distinguishes why the conditional write matched nothing.
func (s *Store) classifyUpdateMiss(ctx context.Context, id string) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM consent_records WHERE id = $1)`, id).Scan(&exists)
	switch {
	case err != nil:
		return fmt.Errorf("classify update miss: %w", err)
	case !exists:
		return sentinel.ErrNotFound
	default:
		return sentinel.ErrVersionConflict
	}
}

func (s *Store) FindByID(ctx context.Context, id string) (*consent.ConsentRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM consent_records WHERE id = $1`, id)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find consent record: %w", err)
	}
	return record, nil
}

func (s *Store) FindActiveBySubject(ctx context.Context, subjectID string) ([]*consent.ConsentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+` FROM consent_records
		WHERE subject_id = $1 AND status = $2
		ORDER BY consented_at DESC, id ASC`,
		subjectID, string(consent.StatusGranted),
	)
	if err != nil {
		return nil, fmt.Errorf("find active consent records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (s *Store) FindByProxyID(ctx context.Context, proxyUserID string) ([]*consent.ConsentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+` FROM consent_records
		WHERE consenter->>'type' = $1 AND consenter->>'user_id' = $2
		ORDER BY consented_at DESC, id ASC`,
		string(consent.ConsenterProxy), proxyUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("find proxy consent records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func marshalFields(record *consent.ConsentRecord) (consenter, granted, revoked, metadata []byte, err error) {
	if consenter, err = json.Marshal(record.Consenter); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal consenter: %w", err)
	}
	if granted, err = json.Marshal(record.GrantedScopes); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal granted scopes: %w", err)
	}
	if revoked, err = json.Marshal(record.RevokedScopes); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal revoked scopes: %w", err)
	}
	if metadata, err = json.Marshal(record.Metadata); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return consenter, granted, revoked, metadata, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*consent.ConsentRecord, error) {
	var (
		r         consent.ConsentRecord
		status    string
		consenter []byte
		granted   []byte
		revoked   []byte
		metadata  []byte
		revokedAt sql.NullTime
	)
	err := row.Scan(&r.ID, &r.Version, &r.SubjectID, &r.PolicyID, &status, &consenter,
		&granted, &revoked, &metadata, &r.ConsentedAt, &revokedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = consent.Status(status)
	if revokedAt.Valid {
		t := revokedAt.Time
		r.RevokedAt = &t
	}
	if err := json.Unmarshal(consenter, &r.Consenter); err != nil {
		return nil, fmt.Errorf("unmarshal consenter: %w", err)
	}
	if err := json.Unmarshal(granted, &r.GrantedScopes); err != nil {
		return nil, fmt.Errorf("unmarshal granted scopes: %w", err)
	}
	if err := json.Unmarshal(revoked, &r.RevokedScopes); err != nil {
		return nil, fmt.Errorf("unmarshal revoked scopes: %w", err)
	}
	if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &r, nil
}

func collectRecords(rows *sql.Rows) ([]*consent.ConsentRecord, error) {
	var records []*consent.ConsentRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consent record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consent records: %w", err)
	}
	return records, nil
}
