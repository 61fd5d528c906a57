package policy

import "time"

// Status is the lifecycle state of one policy version.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusArchived:
		return true
	}
	return false
}

// CanTransitionTo encodes the one-way lifecycle:
// draft -> active, draft -> archived, active -> archived.
// Archived is terminal.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusDraft:
		return next == StatusActive || next == StatusArchived
	case StatusActive:
		return next == StatusArchived
	}
	return false
}

// ContentSection is display content carried by a policy version. The core
// stores it verbatim and never interprets it.
type ContentSection struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`
}

// ScopeDefinition declares one consent-able data category on a policy version.
type ScopeDefinition struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Policy is one immutable version of a consent policy document. GroupID is
// stable across versions of "the same" policy; Version is assigned at
// creation and identifies the document version within its group. Status
// transitions never change Version.
type Policy struct {
	ID                     string           `json:"id"`
	GroupID                string           `json:"policy_group_id"`
	Version                int              `json:"version"`
	Status                 Status           `json:"status"`
	EffectiveDate          time.Time        `json:"effective_date"`
	RequiresProxyForMinors bool             `json:"requires_proxy_for_minors"`
	ContentSections        []ContentSection `json:"content_sections"`
	AvailableScopes        []ScopeDefinition `json:"available_scopes"`
	CreatedAt              time.Time        `json:"created_at"`
	UpdatedAt              time.Time        `json:"updated_at"`
}

// Scope looks up a scope definition by key.
func (p *Policy) Scope(key string) (ScopeDefinition, bool) {
	for _, s := range p.AvailableScopes {
		if s.Key == key {
			return s, true
		}
	}
	return ScopeDefinition{}, false
}

// RequiredScopeKeys returns the keys of all scopes flagged required, in
// declaration order.
func (p *Policy) RequiredScopeKeys() []string {
	var keys []string
	for _, s := range p.AvailableScopes {
		if s.Required {
			keys = append(keys, s.Key)
		}
	}
	return keys
}

// CreatePolicyInput is the validated payload for creating a policy version.
// Version is assigned by the service, not the caller.
type CreatePolicyInput struct {
	GroupID                string           `json:"policy_group_id"`
	Status                 Status           `json:"status"`
	EffectiveDate          time.Time        `json:"effective_date"`
	RequiresProxyForMinors bool             `json:"requires_proxy_for_minors"`
	ContentSections        []ContentSection `json:"content_sections"`
	AvailableScopes        []ScopeDefinition `json:"available_scopes"`
}

// UpdatePolicyStatusInput carries a status transition request together with
// the caller's last-known version, used as the optimistic concurrency token.
type UpdatePolicyStatusInput struct {
	PolicyID        string `json:"policy_id"`
	Status          Status `json:"status"`
	ExpectedVersion int    `json:"expected_version"`
}
