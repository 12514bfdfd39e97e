// Package kv implements the record store on an embedded bbolt database.
// It is the default backend for single-node coordinator deployments.
package kv

import (
	"os"
	"path"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	prombbolt "github.com/prysmaticlabs/prombbolt"
	bolt "go.etcd.io/bbolt"

	"github.com/zkmpc/maestro/coordinator/db/feed"
	"github.com/zkmpc/maestro/coordinator/db/iface"
)

var databaseFileName = "coordinator.db"

var _ iface.Database = (*Store)(nil)

// Store defines an implementation of the record store Database interface
// using bbolt as the underlying persistent kv-store.
type Store struct {
	db            *bolt.DB
	databasePath  string
	ceremonyCache *ristretto.Cache

	ceremonyFeed     event.Feed
	circuitFeed      event.Feed
	participantFeed  event.Feed
	contributionFeed event.Feed
}

// Config options for the coordinator db.
type Config struct {
	CacheItems   int64
	MaxCacheSize int64
}

// NewKVStore initializes a new bbolt key-value store at the directory path
// specified, creates the kv-buckets based on the schema, and stores an open
// connection db object as a property of the Store struct.
func NewKVStore(dirPath string, cfg *Config) (*Store, error) {
	if err := os.MkdirAll(dirPath, 0700); err != nil {
		return nil, err
	}
	datafile := path.Join(dirPath, databaseFileName)
	boltDB, err := bolt.Open(datafile, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, errors.New("cannot obtain database lock, database may be in use by another process")
		}
		return nil, err
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.CacheItems == 0 {
		cfg.CacheItems = 20000
	}
	if cfg.MaxCacheSize == 0 {
		cfg.MaxCacheSize = 1 << 26 // 64 MB of hot ceremony documents.
	}
	kv := &Store{db: boltDB, databasePath: datafile}
	ceremonyCache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.CacheItems,
		MaxCost:     cfg.MaxCacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to start ceremony cache")
	}
	kv.ceremonyCache = ceremonyCache

	if err := kv.db.Update(func(tx *bolt.Tx) error {
		return createBuckets(
			tx,
			ceremoniesBucket,
			circuitsBucket,
			participantsBucket,
			contributionsBucket,
			timeoutsBucket,
		)
	}); err != nil {
		return nil, err
	}
	if err := prometheus.Register(prombbolt.New("coordinator_db", boltDB)); err != nil {
		log.WithError(err).Debug("Failed to register bbolt metrics collector")
	}
	return kv, nil
}

func createBuckets(tx *bolt.Tx, buckets ...[]byte) error {
	for _, bucket := range buckets {
		if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	s.ceremonyCache.Close()
	return s.db.Close()
}

// ClearDB removes any previously stored data at the configured data
// directory. Callers close the store first and reopen it afterwards.
func (s *Store) ClearDB() error {
	if _, err := os.Stat(s.databasePath); os.IsNotExist(err) {
		return nil
	}
	return os.Remove(s.databasePath)
}

// DatabasePath at which this database writes files.
func (s *Store) DatabasePath() string {
	return s.databasePath
}

// Size returns the db size in bytes.
func (s *Store) Size() (int64, error) {
	var size int64
	err := s.db.View(func(tx *bolt.Tx) error {
		size = tx.Size()
		return nil
	})
	return size, err
}

func (s *Store) update(fn func(*bolt.Tx) error) error {
	return s.db.Update(fn)
}

func (s *Store) view(fn func(*bolt.Tx) error) error {
	return s.db.View(fn)
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
