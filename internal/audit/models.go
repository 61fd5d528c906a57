package audit

import "time"

// Actions recorded by the consent and policy managers.
const (
	ActionPolicyCreated     = "policy.created"
	ActionPolicyActivated   = "policy.activated"
	ActionPolicyArchived    = "policy.archived"
	ActionConsentGranted    = "consent.granted"
	ActionConsentRevoked    = "consent.revoked"
	ActionConsentSuperseded = "consent.superseded"
	ActionSupersedePartial  = "consent.supersede_partial"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	SubjectID string    `json:"subject_id,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"`
	PolicyID  string    `json:"policy_id,omitempty"`
	ConsentID string    `json:"consent_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
