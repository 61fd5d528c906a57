// Package postgres persists policy versions in PostgreSQL. The conditional
// write runs as a single UPDATE predicated on both the version token and the
// set of legal source statuses, so stale writers and illegal transitions are
// rejected inside the database, never by an application-level read-then-write.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"consentd/internal/policy"
	"consentd/pkg/platform/sentinel"
	"consentd/pkg/requestcontext"
)

const schema = `
CREATE TABLE IF NOT EXISTS policies (
	id                        TEXT PRIMARY KEY,
	group_id                  TEXT NOT NULL,
	version                   INTEGER NOT NULL,
	status                    TEXT NOT NULL,
	effective_date            TIMESTAMPTZ NOT NULL,
	requires_proxy_for_minors BOOLEAN NOT NULL DEFAULT FALSE,
	content_sections          JSONB NOT NULL,
	available_scopes          JSONB NOT NULL,
	created_at                TIMESTAMPTZ NOT NULL,
	updated_at                TIMESTAMPTZ NOT NULL,
	UNIQUE (group_id, version)
);
CREATE INDEX IF NOT EXISTS idx_policies_group ON policies (group_id);
`

const selectColumns = `id, group_id, version, status, effective_date, requires_proxy_for_minors,
	content_sections, available_scopes, created_at, updated_at`

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
		return fmt.Errorf("initialize policies schema: %w", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, p *policy.Policy) error {
	sections, err := json.Marshal(p.ContentSections)
	if err != nil {
		return fmt.Errorf("marshal content sections: %w", err)
	}
	scopes, err := json.Marshal(p.AvailableScopes)
	if err != nil {
		return fmt.Errorf("marshal available scopes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policies (id, group_id, version, status, effective_date,
			requires_proxy_for_minors, content_sections, available_scopes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.GroupID, p.Version, string(p.Status), p.EffectiveDate,
		p.RequiresProxyForMinors, sections, scopes, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			// Another writer claimed this (group, version) slot first.
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert policy: %w", err)
	}
	return nil
}

func (s *Store) UpdateStatus(ctx context.Context, policyID string, status policy.Status, expectedVersion int) (*policy.Policy, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin policy update: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := requestcontext.Now(ctx)
	row := tx.QueryRowContext(ctx, `
		UPDATE policies
		SET status = $1, updated_at = $2
		WHERE id = $3 AND version = $4 AND status = ANY($5)
		RETURNING `+selectColumns,
		string(status), now, policyID, expectedVersion, pq.Array(legalSources(status)),
	)
	updated, err := scanPolicy(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.classifyUpdateMiss(ctx, tx, policyID, expectedVersion)
		}
		return nil, fmt.Errorf("update policy status: %w", err)
	}

	// Promotion archives any other active version of the group in the same
	// transaction, preserving the at-most-one-active invariant.
	if status == policy.StatusActive {
		_, err = tx.ExecContext(ctx, `
			UPDATE policies
			SET status = $1, updated_at = $2
			WHERE group_id = $3 AND id <> $4 AND status = $5`,
			string(policy.StatusArchived), now, updated.GroupID, updated.ID, string(policy.StatusActive),
		)
		if err != nil {
			return nil, fmt.Errorf("archive prior active version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit policy update: %w", err)
	}
	return updated, nil
}

// classifyUpdateMiss distinguishes why the conditional write matched nothing.
func (s *Store) classifyUpdateMiss(ctx context.Context, tx *sql.Tx, policyID string, expectedVersion int) error {
	var version int
	err := tx.QueryRowContext(ctx, `SELECT version FROM policies WHERE id = $1`, policyID).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return sentinel.ErrNotFound
	case err != nil:
		return fmt.Errorf("classify update miss: %w", err)
	case version != expectedVersion:
		return sentinel.ErrVersionConflict
	default:
		return sentinel.ErrInvalidState
	}
}

// legalSources lists the statuses a row may currently hold for a transition
// into next to be permitted.
func legalSources(next policy.Status) []string {
	var sources []string
	for _, from := range []policy.Status{policy.StatusDraft, policy.StatusActive, policy.StatusArchived} {
		if from.CanTransitionTo(next) {
			sources = append(sources, string(from))
		}
	}
	return sources
}

func (s *Store) FindByID(ctx context.Context, id string) (*policy.Policy, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM policies WHERE id = $1`, id)
	p, err := scanPolicy(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find policy: %w", err)
	}
	return p, nil
}

func (s *Store) FindLatestActiveByGroup(ctx context.Context, groupID string) (*policy.Policy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+selectColumns+` FROM policies
		WHERE group_id = $1 AND status = $2
		ORDER BY version DESC
		LIMIT 1`,
		groupID, string(policy.StatusActive),
	)
	p, err := scanPolicy(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find latest active policy: %w", err)
	}
	return p, nil
}

func (s *Store) FindAllVersionsByGroup(ctx context.Context, groupID string) ([]*policy.Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+` FROM policies
		WHERE group_id = $1
		ORDER BY version ASC`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("find policy versions: %w", err)
	}
	defer rows.Close()
	return collectPolicies(rows)
}

func (s *Store) List(ctx context.Context) ([]*policy.Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+` FROM policies
		ORDER BY group_id, version ASC`)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()
	return collectPolicies(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (*policy.Policy, error) {
	var (
		p        policy.Policy
		status   string
		sections []byte
		scopes   []byte
	)
	err := row.Scan(&p.ID, &p.GroupID, &p.Version, &status, &p.EffectiveDate,
		&p.RequiresProxyForMinors, &sections, &scopes, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = policy.Status(status)
	if err := json.Unmarshal(sections, &p.ContentSections); err != nil {
		return nil, fmt.Errorf("unmarshal content sections: %w", err)
	}
	if err := json.Unmarshal(scopes, &p.AvailableScopes); err != nil {
		return nil, fmt.Errorf("unmarshal available scopes: %w", err)
	}
	return &p, nil
}

func collectPolicies(rows *sql.Rows) ([]*policy.Policy, error) {
	var policies []*policy.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policies: %w", err)
	}
	return policies, nil
}
