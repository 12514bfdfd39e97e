package kv

import "bytes"

// The schema mirrors the record store's collection tree with one bucket per
// collection and composite keys for sub-collection membership:
//
//	ceremonies:    ceremonyID                          -> Ceremony
//	circuits:      ceremonyID/circuitID                -> Circuit
//	participants:  ceremonyID/userID                   -> Participant
//	contributions: ceremonyID/circuitID/contributionID -> Contribution
//	timeouts:      ceremonyID/userID/timeoutID         -> Timeout
var (
	ceremoniesBucket    = []byte("ceremonies")
	circuitsBucket      = []byte("circuits")
	participantsBucket  = []byte("participants")
	contributionsBucket = []byte("contributions")
	timeoutsBucket      = []byte("timeouts")
)

var keySeparator = []byte("/")

func compositeKey(parts ...string) []byte {
	b := make([][]byte, 0, len(parts))
	for _, p := range parts {
		b = append(b, []byte(p))
	}
	return bytes.Join(b, keySeparator)
}

func prefixKey(parts ...string) []byte {
	return append(compositeKey(parts...), keySeparator...)
}
