package consent

import (
	"sort"
	"time"
)

// Status is the lifecycle state of a consent record. Revoked and superseded
// are terminal: further changes require granting a new record.
type Status string

const (
	StatusGranted    Status = "granted"
	StatusRevoked    Status = "revoked"
	StatusSuperseded Status = "superseded"
)

// ConsenterType distinguishes a subject consenting for themselves from a
// proxy consenting on the subject's behalf.
type ConsenterType string

const (
	ConsenterSelf  ConsenterType = "self"
	ConsenterProxy ConsenterType = "proxy"
)

// AgeGroup is the declared age bracket of the subject when a proxy consents.
type AgeGroup string

const (
	AgeGroupUnder13 AgeGroup = "under13"
	AgeGroupTeen    AgeGroup = "13-17"
	AgeGroupAdult   AgeGroup = "18+"
)

// Valid reports whether the age group is one of the known brackets.
func (a AgeGroup) Valid() bool {
	switch a {
	case AgeGroupUnder13, AgeGroupTeen, AgeGroupAdult:
		return true
	}
	return false
}

// ProxyDetails is required if and only if the consenter type is proxy.
type ProxyDetails struct {
	Relationship    string   `json:"relationship"`
	SubjectAgeGroup AgeGroup `json:"subject_age_group"`
}

// Consenter identifies who made the consent decision.
type Consenter struct {
	Type         ConsenterType `json:"type"`
	UserID       string        `json:"user_id"`
	ProxyDetails *ProxyDetails `json:"proxy_details,omitempty"`
}

// ScopeGrant timestamps the grant of a single scope.
type ScopeGrant struct {
	GrantedAt time.Time `json:"granted_at"`
}

// ScopeRevocation timestamps the revocation of a single scope.
type ScopeRevocation struct {
	RevokedAt time.Time `json:"revoked_at"`
}

// Metadata captures provenance of the consent decision. Not interpreted by
// any invariant.
type Metadata struct {
	ConsentMethod string `json:"consent_method"`
	IPAddress     string `json:"ip_address,omitempty"`
	UserAgent     string `json:"user_agent,omitempty"`
}

// ConsentRecord is one immutable snapshot of a consent decision. Changes are
// applied by writing a new stored version of the same ID with version+1;
// the GrantedScopes and RevokedScopes key sets are disjoint at all times.
type ConsentRecord struct {
	ID            string                     `json:"id"`
	Version       int                        `json:"version"`
	SubjectID     string                     `json:"subject_id"`
	PolicyID      string                     `json:"policy_id"`
	Status        Status                     `json:"status"`
	Consenter     Consenter                  `json:"consenter"`
	GrantedScopes map[string]ScopeGrant      `json:"granted_scopes"`
	RevokedScopes map[string]ScopeRevocation `json:"revoked_scopes"`
	Metadata      Metadata                   `json:"metadata"`
	ConsentedAt   time.Time                  `json:"consented_at"`
	RevokedAt     *time.Time                 `json:"revoked_at,omitempty"`
	CreatedAt     time.Time                  `json:"created_at"`
	UpdatedAt     time.Time                  `json:"updated_at"`
}

// Terminal reports whether the record admits no further scope changes.
func (r *ConsentRecord) Terminal() bool {
	return r.Status == StatusRevoked || r.Status == StatusSuperseded
}

// GrantedScopeKeys returns the currently granted scope keys, sorted.
func (r *ConsentRecord) GrantedScopeKeys() []string {
	keys := make([]string, 0, len(r.GrantedScopes))
	for k := range r.GrantedScopes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GrantConsentInput is the validated payload for granting consent.
type GrantConsentInput struct {
	SubjectID     string    `json:"subject_id"`
	PolicyID      string    `json:"policy_id"`
	Consenter     Consenter `json:"consenter"`
	GrantedScopes []string  `json:"granted_scopes"`
	Metadata      Metadata  `json:"metadata"`
}

// RevokeConsentInput revokes named scopes, or the whole record when
// ScopesToRevoke is empty. CurrentVersion is the optimistic concurrency token.
type RevokeConsentInput struct {
	ConsentID      string   `json:"consent_id"`
	ScopesToRevoke []string `json:"scopes_to_revoke,omitempty"`
	CurrentVersion int      `json:"current_version"`
}

// SupersedeConsentInput replaces an existing record with a new grant, usually
// against a newer policy version.
type SupersedeConsentInput struct {
	ConsentID      string            `json:"consent_id"`
	CurrentVersion int               `json:"current_version"`
	NewGrant       GrantConsentInput `json:"new_grant"`
}

// SupersedeResult reports both halves of a completed supersede.
type SupersedeResult struct {
	Superseded *ConsentRecord `json:"superseded"`
	Granted    *ConsentRecord `json:"granted"`
}
