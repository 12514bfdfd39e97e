package client

import (
	"context"
	"net/url"

	"github.com/r3labs/sse"

	"github.com/zkmpc/maestro/api"
	"github.com/zkmpc/maestro/coordinator/types"
)

const watchBufferSize = 16

// Updates carries the decoded event streams of one ceremony watch. Both
// channels close together when the stream drops or the context is done.
type Updates struct {
	Participants <-chan *types.Participant
	Circuits     <-chan *types.Circuit
}

// Watch follows the ceremony's server-sent event stream and fans the
// decoded documents out by type. Events arriving faster than the caller
// drains them are dropped: every consumer re-reads the authoritative
// snapshot on a poll interval anyway, so the stream only has to wake them
// early.
func (c *Client) Watch(ctx context.Context, ceremonyID string) *Updates {
	stream := sse.NewClient(c.baseURL + "/v1/ceremonies/" + url.PathEscape(ceremonyID) + "/events")
	stream.Headers = map[string]string{"Authorization": "Bearer " + c.session}

	participants := make(chan *types.Participant, watchBufferSize)
	circuits := make(chan *types.Circuit, watchBufferSize)
	go func() {
		defer close(participants)
		defer close(circuits)
		err := stream.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
			switch string(msg.Event) {
			case api.EventParticipant:
				p := &types.Participant{}
				if err := json.Unmarshal(msg.Data, p); err != nil {
					log.WithError(err).Debug("Could not decode participant event")
					return
				}
				select {
				case participants <- p:
				default:
				}
			case api.EventCircuit:
				circuit := &types.Circuit{}
				if err := json.Unmarshal(msg.Data, circuit); err != nil {
					log.WithError(err).Debug("Could not decode circuit event")
					return
				}
				select {
				case circuits <- circuit:
				default:
				}
			}
		})
		if err != nil && ctx.Err() == nil {
			log.WithError(err).Debug("Ceremony event stream ended")
		}
	}()
	return &Updates{Participants: participants, Circuits: circuits}
}
