package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// LoadCeremonyConfigFile loads, unmarshals and applies a ceremony config
// yaml file, then layers environment overrides on top.
func LoadCeremonyConfigFile(configFileName string) {
	yamlFile, err := os.ReadFile(configFileName) // #nosec G304
	if err != nil {
		log.WithError(err).Fatal("Failed to read ceremony config file.")
	}
	conf := MainnetConfig().Copy()
	if err := yaml.UnmarshalStrict(yamlFile, conf); err != nil {
		if _, ok := err.(*yaml.TypeError); !ok {
			log.WithError(err).Fatal("Failed to parse ceremony config yaml file.")
		} else {
			log.WithError(err).Error("There were some issues parsing the config from a yaml file")
		}
	}
	applyEnvOverrides(conf)
	if conf.FirstZkeyIndex == "" {
		log.Fatal("FIRST_ZKEY_INDEX must not be empty; the zkey index width is derived from it.")
	}
	log.Debugf("Config file values: %+v", conf)
	OverrideCeremonyConfig(conf)
}

// ApplyEnvOverrides layers the environment knobs over the active config.
// Binaries running without a config file still honor the environment.
func ApplyEnvOverrides() {
	conf := CeremonyConfig().Copy()
	applyEnvOverrides(conf)
	if conf.FirstZkeyIndex == "" {
		log.Fatal("FIRST_ZKEY_INDEX must not be empty; the zkey index width is derived from it.")
	}
	OverrideCeremonyConfig(conf)
}

func applyEnvOverrides(conf *CeremonyChainConfig) {
	if v, ok := os.LookupEnv("FIRST_ZKEY_INDEX"); ok {
		conf.FirstZkeyIndex = v
	}
	overrideInt64(&conf.TimeoutToleranceRate, "TIMEOUT_TOLERANCE_RATE")
	overrideInt64(&conf.RetryWaitingTimeInDays, "RETRY_WAITING_TIME_IN_DAYS")
	overrideInt64(&conf.StreamChunkSizeInMB, "CONFIG_STREAM_CHUNK_SIZE_IN_MB")
	overrideInt64(&conf.PresignedURLExpirationInSeconds, "CONFIG_PRESIGNED_URL_EXPIRATION_IN_SECONDS")
	if v, ok := os.LookupEnv("CONFIG_CEREMONY_BUCKET_POSTFIX"); ok {
		conf.CeremonyBucketPostfix = v
	}
	overrideInt64(&conf.TimeoutCheckIntervalMinutes, "TIMEOUT_CHECK_INTERVAL_IN_MINUTES")
	overrideInt64(&conf.LifecycleCheckIntervalMinutes, "CEREMONY_LIFECYCLE_INTERVAL_IN_MINUTES")
	overrideInt64(&conf.VerificationWorkers, "VERIFICATION_WORKERS")
}

func overrideInt64(field *int64, name string) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.WithError(err).Fatalf("Failed to parse %s environment variable.", name)
	}
	*field = parsed
}

// ConfigToYaml takes a provided config and outputs its contents in yaml, so
// a coordinator deployment can be reproduced from a running binary.
func ConfigToYaml(cfg *CeremonyChainConfig) []byte {
	lines := []string{
		fmt.Sprintf("CONFIG_NAME: '%s'", cfg.ConfigName),
		fmt.Sprintf("FIRST_ZKEY_INDEX: '%s'", cfg.FirstZkeyIndex),
		fmt.Sprintf("TIMEOUT_TOLERANCE_RATE: %d", cfg.TimeoutToleranceRate),
		fmt.Sprintf("RETRY_WAITING_TIME_IN_DAYS: %d", cfg.RetryWaitingTimeInDays),
		fmt.Sprintf("CONFIG_STREAM_CHUNK_SIZE_IN_MB: %d", cfg.StreamChunkSizeInMB),
		fmt.Sprintf("CONFIG_PRESIGNED_URL_EXPIRATION_IN_SECONDS: %d", cfg.PresignedURLExpirationInSeconds),
		fmt.Sprintf("CONFIG_CEREMONY_BUCKET_POSTFIX: '%s'", cfg.CeremonyBucketPostfix),
		fmt.Sprintf("TIMEOUT_CHECK_INTERVAL_IN_MINUTES: %d", cfg.TimeoutCheckIntervalMinutes),
		fmt.Sprintf("CEREMONY_LIFECYCLE_INTERVAL_IN_MINUTES: %d", cfg.LifecycleCheckIntervalMinutes),
		fmt.Sprintf("VERIFICATION_WORKERS: %d", cfg.VerificationWorkers),
	}
	return []byte(strings.Join(lines, "\n"))
}
