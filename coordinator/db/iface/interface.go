// Package iface defines the record store interface used by the ceremony
// coordinator, also containing useful, scoped interfaces such as a
// ReadOnlyDatabase.
package iface

import (
	"context"
	"io"

	"github.com/ethereum/go-ethereum/event"

	"github.com/zkmpc/maestro/coordinator/db/feed"
	"github.com/zkmpc/maestro/coordinator/types"
)

// ReadOnlyDatabase defines a struct which only has read access to record
// store methods.
type ReadOnlyDatabase interface {
	// Ceremony related methods.
	Ceremony(ctx context.Context, ceremonyID string) (*types.Ceremony, error)
	CeremonyByPrefix(ctx context.Context, prefix string) (*types.Ceremony, error)
	Ceremonies(ctx context.Context, states ...types.CeremonyState) ([]*types.Ceremony, error)
	// Circuit related methods. Circuits returns sequence order.
	Circuit(ctx context.Context, ceremonyID, circuitID string) (*types.Circuit, error)
	Circuits(ctx context.Context, ceremonyID string) ([]*types.Circuit, error)
	// Participant related methods.
	Participant(ctx context.Context, ceremonyID, userID string) (*types.Participant, error)
	Participants(ctx context.Context, ceremonyID string) ([]*types.Participant, error)
	// Contribution related methods. Contributions returns zkey index order
	// with the final contribution last.
	Contribution(ctx context.Context, ceremonyID, circuitID, contributionID string) (*types.Contribution, error)
	Contributions(ctx context.Context, ceremonyID, circuitID string) ([]*types.Contribution, error)
	ContributionByZkeyIndex(ctx context.Context, ceremonyID, circuitID, zkeyIndex string) (*types.Contribution, error)
	// Timeout related methods. ActiveTimeout returns nil when no timeout
	// blocks the participant at nowMs.
	Timeouts(ctx context.Context, ceremonyID, userID string) ([]*types.Timeout, error)
	ActiveTimeout(ctx context.Context, ceremonyID, userID string, nowMs int64) (*types.Timeout, error)
}

// Txn exposes the record store inside one atomic transaction. All reads
// must precede the first write; the staged writes commit together or not
// at all.
type Txn interface {
	Ceremony(ceremonyID string) (*types.Ceremony, error)
	Circuit(ceremonyID, circuitID string) (*types.Circuit, error)
	Circuits(ceremonyID string) ([]*types.Circuit, error)
	Participant(ceremonyID, userID string) (*types.Participant, error)
	Contributions(ceremonyID, circuitID string) ([]*types.Contribution, error)
	Timeouts(ceremonyID, userID string) ([]*types.Timeout, error)

	SaveCeremony(ceremony *types.Ceremony) error
	SaveCircuit(ceremonyID string, circuit *types.Circuit) error
	SaveParticipant(ceremonyID string, participant *types.Participant) error
	SaveContribution(ceremonyID, circuitID string, contribution *types.Contribution) error
	SaveTimeout(ceremonyID, userID string, timeout *types.Timeout) error
}

// Database interface with full access.
type Database interface {
	io.Closer
	ReadOnlyDatabase

	// Single-document saves, each its own transaction.
	SaveCeremony(ctx context.Context, ceremony *types.Ceremony) error
	SaveCircuit(ctx context.Context, ceremonyID string, circuit *types.Circuit) error
	SaveParticipant(ctx context.Context, ceremonyID string, participant *types.Participant) error
	SaveContribution(ctx context.Context, ceremonyID, circuitID string, contribution *types.Contribution) error
	SaveTimeout(ctx context.Context, ceremonyID, userID string, timeout *types.Timeout) error

	// RunTransaction executes fn atomically. fn may be invoked more than
	// once when the backend retries contention; it must be idempotent over
	// its reads.
	RunTransaction(ctx context.Context, fn func(tx Txn) error) error

	// Change feeds, emitted after the writing transaction commits.
	SubscribeCeremonyEvents(ch chan<- feed.CeremonyEvent) event.Subscription
	SubscribeCircuitEvents(ch chan<- feed.CircuitEvent) event.Subscription
	SubscribeParticipantEvents(ch chan<- feed.ParticipantEvent) event.Subscription
	SubscribeContributionEvents(ch chan<- feed.ContributionEvent) event.Subscription

	DatabasePath() string
	ClearDB() error
}
