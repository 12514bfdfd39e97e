// Package firestoredb implements the record store on Google Cloud
// Firestore. It is the backend for replicated coordinator deployments: the
// change feeds are driven by Firestore snapshot listeners, so subscribers
// observe committed writes from every replica, not only the local process.
//
// The collection tree mirrors the document model:
//
//	ceremonies/{ceremonyID}
//	ceremonies/{ceremonyID}/circuits/{circuitID}
//	ceremonies/{ceremonyID}/circuits/{circuitID}/contributions/{contributionID}
//	ceremonies/{ceremonyID}/participants/{userID}
//	ceremonies/{ceremonyID}/participants/{userID}/timeouts/{timeoutID}
//
// The client honors FIRESTORE_EMULATOR_HOST, which is how the integration
// environment runs without cloud credentials.
package firestoredb

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/ethereum/go-ethereum/event"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/zkmpc/maestro/coordinator/db/feed"
	"github.com/zkmpc/maestro/coordinator/db/iface"
)

const (
	ceremoniesCollection    = "ceremonies"
	circuitsCollection      = "circuits"
	participantsCollection  = "participants"
	contributionsCollection = "contributions"
	timeoutsCollection      = "timeouts"
)

// Store defines an implementation of the record store Database interface
// backed by a Firestore project.
type Store struct {
	client    *firestore.Client
	projectID string
	cancel    context.CancelFunc

	ceremonyFeed     event.Feed
	circuitFeed      event.Feed
	participantFeed  event.Feed
	contributionFeed event.Feed
}

var _ iface.Database = (*Store)(nil)

// NewStore connects to the Firestore project and starts the snapshot
// listeners feeding the change subscriptions.
func NewStore(ctx context.Context, projectID string, opts ...option.ClientOption) (*Store, error) {
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "could not create firestore client")
	}
	watchCtx, cancel := context.WithCancel(context.Background())
	s := &Store{client: client, projectID: projectID, cancel: cancel}
	s.startWatchers(watchCtx)
	return s, nil
}

// Close stops the snapshot listeners and releases the client.
func (s *Store) Close() error {
	s.cancel()
	return s.client.Close()
}

// DatabasePath identifies the Firestore database backing this store.
func (s *Store) DatabasePath() string {
	return fmt.Sprintf("projects/%s/databases/(default)", s.projectID)
}

// ClearDB removes every document under the ceremonies tree. Only intended
// for tests and local emulator runs.
func (s *Store) ClearDB() error {
	ctx := context.Background()
	return s.deleteDocuments(ctx, s.client.Collection(ceremoniesCollection))
}

func (s *Store) deleteDocuments(ctx context.Context, col *firestore.CollectionRef) error {
	refs := col.DocumentRefs(ctx)
	for {
		ref, err := refs.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return err
		}
		cols := ref.Collections(ctx)
		for {
			sub, err := cols.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				return err
			}
			if err := s.deleteDocuments(ctx, sub); err != nil {
				return err
			}
		}
		if _, err := ref.Delete(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ceremonyDoc(ceremonyID string) *firestore.DocumentRef {
	return s.client.Collection(ceremoniesCollection).Doc(ceremonyID)
}

func (s *Store) circuitsCol(ceremonyID string) *firestore.CollectionRef {
	return s.ceremonyDoc(ceremonyID).Collection(circuitsCollection)
}

func (s *Store) participantsCol(ceremonyID string) *firestore.CollectionRef {
	return s.ceremonyDoc(ceremonyID).Collection(participantsCollection)
}

func (s *Store) contributionsCol(ceremonyID, circuitID string) *firestore.CollectionRef {
	return s.circuitsCol(ceremonyID).Doc(circuitID).Collection(contributionsCollection)
}

func (s *Store) timeoutsCol(ceremonyID, userID string) *firestore.CollectionRef {
	return s.participantsCol(ceremonyID).Doc(userID).Collection(timeoutsCollection)
}

// SubscribeCeremonyEvents notifies on committed ceremony writes.
func (s *Store) SubscribeCeremonyEvents(ch chan<- feed.CeremonyEvent) event.Subscription {
	return s.ceremonyFeed.Subscribe(ch)
}

// SubscribeCircuitEvents notifies on committed circuit writes.
func (s *Store) SubscribeCircuitEvents(ch chan<- feed.CircuitEvent) event.Subscription {
	return s.circuitFeed.Subscribe(ch)
}

// SubscribeParticipantEvents notifies on committed participant writes.
func (s *Store) SubscribeParticipantEvents(ch chan<- feed.ParticipantEvent) event.Subscription {
	return s.participantFeed.Subscribe(ch)
}

// SubscribeContributionEvents notifies on committed contribution writes.
func (s *Store) SubscribeContributionEvents(ch chan<- feed.ContributionEvent) event.Subscription {
	return s.contributionFeed.Subscribe(ch)
}
