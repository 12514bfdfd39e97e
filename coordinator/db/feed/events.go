// Package feed defines the change events emitted by the record store after
// a committed write. The queue coordinator and the watch streams subscribe
// to these instead of polling documents.
package feed

import "github.com/zkmpc/maestro/coordinator/types"

// CeremonyEvent signals a created or updated ceremony document.
type CeremonyEvent struct {
	Ceremony *types.Ceremony
}

// CircuitEvent signals a created or updated circuit document.
type CircuitEvent struct {
	CeremonyID string
	Circuit    *types.Circuit
}

// ParticipantEvent signals a created or updated participant document.
type ParticipantEvent struct {
	CeremonyID  string
	Participant *types.Participant
}

// ContributionEvent signals a created contribution document. Contribution
// documents are immutable once written.
type ContributionEvent struct {
	CeremonyID   string
	CircuitID    string
	Contribution *types.Contribution
}
