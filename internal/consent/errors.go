package consent

import "fmt"

// PartialSupersedeError reports a supersede that revoked the prior record but
// failed to grant its replacement. The superseded record is durable; callers
// retry the grant only, never the revoke.
type PartialSupersedeError struct {
	Superseded *ConsentRecord
	GrantErr   error
}

func (e *PartialSupersedeError) Error() string {
	return fmt.Sprintf("consent %s superseded but replacement grant failed: %v", e.Superseded.ID, e.GrantErr)
}

func (e *PartialSupersedeError) Unwrap() error {
	return e.GrantErr
}
