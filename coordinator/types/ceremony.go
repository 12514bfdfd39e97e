// Package types defines the documents persisted in the ceremony record
// store and the enumerations governing their lifecycles. Every entity is a
// plain JSON document so that both record store backends can share one
// model. Timestamps are Unix milliseconds.
package types

// CeremonyState tracks where a ceremony sits in its lifecycle. Transitions
// are driven by the scheduled lifecycle job (SCHEDULED -> OPENED -> CLOSED)
// and by ceremony finalization (CLOSED -> FINALIZED).
type CeremonyState string

const (
	CeremonyScheduled CeremonyState = "SCHEDULED"
	CeremonyOpened    CeremonyState = "OPENED"
	CeremonyClosed    CeremonyState = "CLOSED"
	CeremonyFinalized CeremonyState = "FINALIZED"
)

// CeremonyType distinguishes the setup phase a ceremony runs. Only PHASE2
// ceremonies are coordinated today; PHASE1 is carried for forward
// compatibility of stored documents.
type CeremonyType string

const (
	CeremonyPhase1 CeremonyType = "PHASE1"
	CeremonyPhase2 CeremonyType = "PHASE2"
)

// TimeoutMechanismType selects how contribution deadlines are computed for
// the circuits of a ceremony.
type TimeoutMechanismType string

const (
	// TimeoutDynamic budgets a contribution from the circuit's observed
	// average timings plus a tolerance percentage.
	TimeoutDynamic TimeoutMechanismType = "DYNAMIC"
	// TimeoutFixed budgets a contribution from a fixed per-circuit window.
	TimeoutFixed TimeoutMechanismType = "FIXED"
)

// Ceremony is the root document of one trusted-setup run.
type Ceremony struct {
	ID               string               `json:"id"`
	Prefix           string               `json:"prefix"`
	Title            string               `json:"title"`
	Description      string               `json:"description"`
	StartDate        int64                `json:"startDate"`
	EndDate          int64                `json:"endDate"`
	State            CeremonyState        `json:"state"`
	Type             CeremonyType         `json:"type"`
	CoordinatorID    string               `json:"coordinatorId"`
	TimeoutMechanism TimeoutMechanismType `json:"timeoutMechanismType"`
	// PenaltyMinutes is how long an evicted participant must wait before
	// rejoining the queue.
	PenaltyMinutes int64 `json:"penalty"`
	LastUpdated    int64 `json:"lastUpdated"`
}
