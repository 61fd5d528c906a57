package policy

import "context"

// Store is the persistence contract for policy versions. Implementations must
// honor the conditional-write discipline with the backend's native atomic
// primitive; emulating it with read-then-write at the application layer
// reintroduces the race it exists to prevent.
//
// Stores return pkg/platform/sentinel errors; the service translates them.
// An adapter may additionally implement resolver.Initializer for one-time
// schema or connection setup.
type Store interface {
	// Create persists a fully-built policy version. The (group, version)
	// slot must be claimed atomically: a concurrent create that raced the
	// same slot fails with sentinel.ErrConflict.
	Create(ctx context.Context, p *Policy) error

	// UpdateStatus transitions a policy's status if and only if, within one
	// atomic operation, the stored version equals expectedVersion and the
	// stored status permits the transition. Version mismatch (including a
	// vanished row) fails with sentinel.ErrVersionConflict; an illegal
	// source status fails with sentinel.ErrInvalidState.
	//
	// Promoting to active atomically archives any other active version of
	// the same group in the same operation, preserving the at-most-one-
	// active invariant. Backends that cannot guarantee this atomicity must
	// fail the whole operation rather than half-apply it.
	UpdateStatus(ctx context.Context, policyID string, status Status, expectedVersion int) (*Policy, error)

	// FindByID returns sentinel.ErrNotFound when absent.
	FindByID(ctx context.Context, id string) (*Policy, error)

	// FindLatestActiveByGroup returns the active version of the group with
	// the highest version number, or sentinel.ErrNotFound.
	FindLatestActiveByGroup(ctx context.Context, groupID string) (*Policy, error)

	// FindAllVersionsByGroup returns all versions of a group ordered by
	// version ascending. Empty slice, never an error, when none exist.
	FindAllVersionsByGroup(ctx context.Context, groupID string) ([]*Policy, error)

	// List returns every stored policy version.
	List(ctx context.Context) ([]*Policy, error)
}
