// Package params defines the tunable constants of the ceremony coordinator
// and its clients. Values load from a yaml file and may be overridden by
// environment variables carrying the same SCREAMING_SNAKE names.
package params

import (
	"time"

	"github.com/mohae/deepcopy"
)

// CeremonyChainConfig contains the constants governing contribution chains:
// zkey index formatting, timeout budgets, upload chunking and pre-signed
// URL lifetimes.
type CeremonyChainConfig struct {
	ConfigName string `yaml:"CONFIG_NAME"`

	// FirstZkeyIndex is the index of the genesis zkey. Its decimal width
	// fixes the zero-padding of every later index. The coordinator refuses
	// to start without it.
	FirstZkeyIndex string `yaml:"FIRST_ZKEY_INDEX"`

	// TimeoutToleranceRate widens the DYNAMIC contribution budget by this
	// percentage unless a circuit carries its own dynamicThreshold.
	TimeoutToleranceRate int64 `yaml:"TIMEOUT_TOLERANCE_RATE"`

	// RetryWaitingTimeInDays is the penalty fallback applied when a
	// ceremony document declares no penalty of its own.
	RetryWaitingTimeInDays int64 `yaml:"RETRY_WAITING_TIME_IN_DAYS"`

	// StreamChunkSizeInMB is the part size of multi-part uploads.
	StreamChunkSizeInMB int64 `yaml:"CONFIG_STREAM_CHUNK_SIZE_IN_MB"`

	// PresignedURLExpirationInSeconds bounds the lifetime of every
	// pre-signed upload and download URL handed to participants.
	PresignedURLExpirationInSeconds int64 `yaml:"CONFIG_PRESIGNED_URL_EXPIRATION_IN_SECONDS"`

	// CeremonyBucketPostfix is appended to a ceremony prefix to form its
	// bucket name.
	CeremonyBucketPostfix string `yaml:"CONFIG_CEREMONY_BUCKET_POSTFIX"`

	TimeoutCheckIntervalMinutes   int64 `yaml:"TIMEOUT_CHECK_INTERVAL_IN_MINUTES"`
	LifecycleCheckIntervalMinutes int64 `yaml:"CEREMONY_LIFECYCLE_INTERVAL_IN_MINUTES"`
	VerificationWorkers           int64 `yaml:"VERIFICATION_WORKERS"`

	// Client-side upload retry policy. Not part of the persisted surface.
	UploadBackoffInitial time.Duration
	UploadBackoffMax     time.Duration
	UploadRetryWindow    time.Duration
}

// ZkeyIndexWidth is the zero-padding width of contribution indexes, derived
// from FirstZkeyIndex.
func (c *CeremonyChainConfig) ZkeyIndexWidth() int {
	return len(c.FirstZkeyIndex)
}

var mainnetCeremonyConfig = &CeremonyChainConfig{
	ConfigName:                      "mainnet",
	FirstZkeyIndex:                  "00000",
	TimeoutToleranceRate:            10,
	RetryWaitingTimeInDays:          1,
	StreamChunkSizeInMB:             50,
	PresignedURLExpirationInSeconds: 7200,
	CeremonyBucketPostfix:           "-ph2-ceremony",
	TimeoutCheckIntervalMinutes:     5,
	LifecycleCheckIntervalMinutes:   30,
	VerificationWorkers:             2,
	UploadBackoffInitial:            500 * time.Millisecond,
	UploadBackoffMax:                60 * time.Second,
	UploadRetryWindow:               5 * time.Minute,
}

var ceremonyConfig = mainnetCeremonyConfig

// CeremonyConfig retrieves the ceremony chain config.
func CeremonyConfig() *CeremonyChainConfig {
	return ceremonyConfig
}

// MainnetConfig returns the default config.
func MainnetConfig() *CeremonyChainConfig {
	return mainnetCeremonyConfig
}

// OverrideCeremonyConfig by replacing the config. The preferred pattern is
// to call CeremonyConfig(), change the specific parameters, and then call
// OverrideCeremonyConfig(c). Any subsequent calls to params.CeremonyConfig()
// will return this new configuration.
func OverrideCeremonyConfig(c *CeremonyChainConfig) {
	ceremonyConfig = c
}

// Copy returns a deep copy of the config.
func (c *CeremonyChainConfig) Copy() *CeremonyChainConfig {
	config, ok := deepcopy.Copy(*c).(CeremonyChainConfig)
	if !ok {
		config = *ceremonyConfig
	}
	return &config
}
