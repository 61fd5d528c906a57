package consent

import (
	"context"
	"time"
)

// Update is the delta applied to a consent record by a conditional write. The
// store persists it as a whole new version of the record; partial application
// is never observable.
type Update struct {
	Status        Status
	GrantedScopes map[string]ScopeGrant
	RevokedScopes map[string]ScopeRevocation
	RevokedAt     *time.Time
	UpdatedAt     time.Time
}

// Store defines the persistence contract for consent records.
//
// Update is the optimistic concurrency primitive: it writes the update with
// version currentVersion+1 only if the stored record still carries
// currentVersion, returning sentinel.ErrNotFound when the record does not
// exist and sentinel.ErrVersionConflict when the version moved underneath
// the caller.
type Store interface {
	// Create persists a brand new record at version 1. Returns
	// sentinel.ErrConflict if the ID is already taken.
	Create(ctx context.Context, record *ConsentRecord) error

	// Update applies the delta as version currentVersion+1 and returns the
	// updated record.
	Update(ctx context.Context, id string, update Update, currentVersion int) (*ConsentRecord, error)

	// FindByID returns the record, or sentinel.ErrNotFound.
	FindByID(ctx context.Context, id string) (*ConsentRecord, error)

	// FindActiveBySubject returns all records in status granted for the
	// subject, newest first. Empty slice when none.
	FindActiveBySubject(ctx context.Context, subjectID string) ([]*ConsentRecord, error)

	// FindByProxyID returns all records where the given user consented as a
	// proxy, newest first. Empty slice when none.
	FindByProxyID(ctx context.Context, proxyUserID string) ([]*ConsentRecord, error)
}
