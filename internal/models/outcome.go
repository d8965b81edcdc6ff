package models

// OutcomeKind is the terminal state of one pipeline run.
type OutcomeKind string

const (
	OutcomeAccepted           OutcomeKind = "accepted"
	OutcomeRejected           OutcomeKind = "rejected"
	OutcomeGeneratorExhausted OutcomeKind = "generator_exhausted"
	// OutcomeDuplicate is returned when the same content id is already
	// being processed. The chain is not invoked.
	OutcomeDuplicate OutcomeKind = "duplicate"
)

// Rejection reasons.
const (
	ReasonMalformedRecord = "malformed-record"
	ReasonStoreFailure    = "store-failure"
	ReasonInternalError   = "internal-error"
)

// Outcome is returned by every pipeline run.
type Outcome struct {
	Kind OutcomeKind `json:"kind"`

	// Set when Kind is OutcomeAccepted.
	Record *TrainingRecord `json:"record,omitempty"`
	Count  int             `json:"count,omitempty"`

	// Set when Kind is OutcomeRejected.
	Reason string `json:"reason,omitempty"`

	// Set for rejected and exhausted outcomes.
	IncidentCode string `json:"incident_code,omitempty"`

	// Backend that produced the raw text, when one did.
	Backend string `json:"backend,omitempty"`
}

// Accepted reports whether the record was stored.
func (o Outcome) Accepted() bool { return o.Kind == OutcomeAccepted }

// Failed reports whether the outcome carries an incident for the user.
func (o Outcome) Failed() bool {
	return o.Kind == OutcomeRejected || o.Kind == OutcomeGeneratorExhausted
}
