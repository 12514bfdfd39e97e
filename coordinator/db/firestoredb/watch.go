package firestoredb

import (
	"context"

	"cloud.google.com/go/firestore"

	"github.com/zkmpc/maestro/coordinator/db/feed"
	"github.com/zkmpc/maestro/coordinator/types"
)

// startWatchers launches one snapshot listener per watched collection
// group. Documents are never deleted in this domain, so removals are
// ignored.
func (s *Store) startWatchers(ctx context.Context) {
	go s.watchCeremonies(ctx)
	go s.watchCircuits(ctx)
	go s.watchParticipants(ctx)
	go s.watchContributions(ctx)
}

func (s *Store) watchCeremonies(ctx context.Context) {
	snaps := s.client.Collection(ceremoniesCollection).Snapshots(ctx)
	defer snaps.Stop()
	for {
		qsnap, err := snaps.Next()
		if err != nil {
			if ctx.Err() == nil {
				log.WithError(err).Error("Ceremony snapshot listener terminated")
			}
			return
		}
		for _, change := range qsnap.Changes {
			if change.Kind == firestore.DocumentRemoved {
				continue
			}
			ceremony := &types.Ceremony{}
			if err := fromDoc(change.Doc.Data(), ceremony); err != nil {
				log.WithError(err).Error("Could not decode ceremony change")
				continue
			}
			s.ceremonyFeed.Send(feed.CeremonyEvent{Ceremony: ceremony})
		}
	}
}

func (s *Store) watchCircuits(ctx context.Context) {
	snaps := s.client.CollectionGroup(circuitsCollection).Snapshots(ctx)
	defer snaps.Stop()
	for {
		qsnap, err := snaps.Next()
		if err != nil {
			if ctx.Err() == nil {
				log.WithError(err).Error("Circuit snapshot listener terminated")
			}
			return
		}
		for _, change := range qsnap.Changes {
			if change.Kind == firestore.DocumentRemoved {
				continue
			}
			circuit := &types.Circuit{}
			if err := fromDoc(change.Doc.Data(), circuit); err != nil {
				log.WithError(err).Error("Could not decode circuit change")
				continue
			}
			s.circuitFeed.Send(feed.CircuitEvent{
				CeremonyID: parentID(change.Doc.Ref, 1),
				Circuit:    circuit,
			})
		}
	}
}

func (s *Store) watchParticipants(ctx context.Context) {
	snaps := s.client.CollectionGroup(participantsCollection).Snapshots(ctx)
	defer snaps.Stop()
	for {
		qsnap, err := snaps.Next()
		if err != nil {
			if ctx.Err() == nil {
				log.WithError(err).Error("Participant snapshot listener terminated")
			}
			return
		}
		for _, change := range qsnap.Changes {
			if change.Kind == firestore.DocumentRemoved {
				continue
			}
			participant := &types.Participant{}
			if err := fromDoc(change.Doc.Data(), participant); err != nil {
				log.WithError(err).Error("Could not decode participant change")
				continue
			}
			s.participantFeed.Send(feed.ParticipantEvent{
				CeremonyID:  parentID(change.Doc.Ref, 1),
				Participant: participant,
			})
		}
	}
}

func (s *Store) watchContributions(ctx context.Context) {
	snaps := s.client.CollectionGroup(contributionsCollection).Snapshots(ctx)
	defer snaps.Stop()
	for {
		qsnap, err := snaps.Next()
		if err != nil {
			if ctx.Err() == nil {
				log.WithError(err).Error("Contribution snapshot listener terminated")
			}
			return
		}
		for _, change := range qsnap.Changes {
			if change.Kind == firestore.DocumentRemoved {
				continue
			}
			contribution := &types.Contribution{}
			if err := fromDoc(change.Doc.Data(), contribution); err != nil {
				log.WithError(err).Error("Could not decode contribution change")
				continue
			}
			s.contributionFeed.Send(feed.ContributionEvent{
				CeremonyID:   parentID(change.Doc.Ref, 2),
				CircuitID:    parentID(change.Doc.Ref, 1),
				Contribution: contribution,
			})
		}
	}
}

// parentID walks up the document path: levels=1 is the id of the document
// owning the immediate parent collection, levels=2 its grandparent.
func parentID(ref *firestore.DocumentRef, levels int) string {
	doc := ref
	for i := 0; i < levels; i++ {
		if doc.Parent == nil || doc.Parent.Parent == nil {
			return ""
		}
		doc = doc.Parent.Parent
	}
	return doc.ID
}
