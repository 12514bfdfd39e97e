package firestoredb

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// toDoc converts a document struct into the map form Firestore stores,
// routed through the JSON tags so both backends persist identical field
// names. Unix-millisecond timestamps stay well below 2^53 and survive the
// float64 detour losslessly.
func toDoc(v interface{}) (map[string]interface{}, error) {
	enc, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "could not encode document")
	}
	doc := map[string]interface{}{}
	if err := json.Unmarshal(enc, &doc); err != nil {
		return nil, errors.Wrap(err, "could not encode document")
	}
	return doc, nil
}

func fromDoc(data map[string]interface{}, v interface{}) error {
	enc, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "could not decode document")
	}
	if err := json.Unmarshal(enc, v); err != nil {
		return errors.Wrap(err, "could not decode document")
	}
	return nil
}

func notFound(err error) bool {
	return status.Code(err) == codes.NotFound
}
