package rpc

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/gorilla/mux"

	"github.com/zkmpc/maestro/api"
	"github.com/zkmpc/maestro/coordinator/db/feed"
)

const (
	eventChanSize     = 64
	keepAliveInterval = 15 * time.Second
)

// handleEvents streams the record changes of one ceremony as server-sent
// events. Each event carries the full updated document; clients snapshot
// through the list endpoints first and apply the stream on top.
func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, api.Errorf(api.CodeInternal, "transport does not support streaming"))
		return
	}
	ceremonyID := mux.Vars(r)["id"]

	ceremonyCh := make(chan feed.CeremonyEvent, eventChanSize)
	circuitCh := make(chan feed.CircuitEvent, eventChanSize)
	participantCh := make(chan feed.ParticipantEvent, eventChanSize)
	contributionCh := make(chan feed.ContributionEvent, eventChanSize)
	subs := []event.Subscription{
		s.cfg.Database.SubscribeCeremonyEvents(ceremonyCh),
		s.cfg.Database.SubscribeCircuitEvents(circuitCh),
		s.cfg.Database.SubscribeParticipantEvents(participantCh),
		s.cfg.Database.SubscribeContributionEvents(contributionCh),
	}
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case <-s.ctx.Done():
			return
		case ev := <-ceremonyCh:
			if ev.Ceremony.ID == ceremonyID {
				err = writeEvent(w, flusher, api.EventCeremony, ev.Ceremony)
			}
		case ev := <-circuitCh:
			if ev.CeremonyID == ceremonyID {
				err = writeEvent(w, flusher, api.EventCircuit, ev.Circuit)
			}
		case ev := <-participantCh:
			if ev.CeremonyID == ceremonyID {
				err = writeEvent(w, flusher, api.EventParticipant, ev.Participant)
			}
		case ev := <-contributionCh:
			if ev.CeremonyID == ceremonyID {
				err = writeEvent(w, flusher, api.EventContribution, ev.Contribution)
			}
		case <-keepAlive.C:
			_, err = fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
		if err != nil {
			log.WithError(err).Debug("Event stream closed")
			return
		}
	}
}

func writeEvent(w io.Writer, flusher http.Flusher, name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
