// Package flags defines the command line flags of the coordinator node.
package flags

import (
	"github.com/urfave/cli/v2"
)

var (
	// VerbosityFlag defines the logrus configuration.
	VerbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (trace, debug, info=default, warn, error, fatal, panic)",
		Value: "info",
	}
	// DataDirFlag defines a path on disk for the databases and secrets.
	DataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for the database and session secret",
		Value: DefaultDataDir(),
	}
	// ClearDB prompts before wiping previously stored data at the data directory.
	ClearDB = &cli.BoolFlag{
		Name:  "clear-db",
		Usage: "Prompt for clearing any previously stored data at the data directory",
	}
	// ForceClearDB removes any previously stored data at the data directory.
	ForceClearDB = &cli.BoolFlag{
		Name:  "force-clear-db",
		Usage: "Clear any previously stored data at the data directory",
	}
	// LogFormat specifies the log output format.
	LogFormat = &cli.StringFlag{
		Name:  "log-format",
		Usage: "Specify log formatting. Supports: text, json, fluentd.",
		Value: "text",
	}
	// LogFileName specifies the log output file name.
	LogFileName = &cli.StringFlag{
		Name:  "log-file",
		Usage: "Specify log file name, relative or absolute",
	}
	// ConfigFileFlag specifies the filepath to load flag values.
	ConfigFileFlag = &cli.StringFlag{
		Name:  "config-file",
		Usage: "The filepath to a yaml file with flag values",
	}
	// CeremonyConfigFileFlag specifies the filepath of a ceremony parameter
	// file.
	CeremonyConfigFileFlag = &cli.StringFlag{
		Name:  "ceremony-config-file",
		Usage: "The path to a YAML file with ceremony parameter values",
	}

	// HTTPHost defines the address the coordinator API binds to.
	HTTPHost = &cli.StringFlag{
		Name:  "http-host",
		Usage: "The host on which the coordinator API server runs",
		Value: "127.0.0.1",
	}
	// HTTPPort defines the port of the coordinator API.
	HTTPPort = &cli.IntFlag{
		Name:  "http-port",
		Usage: "The port on which the coordinator API server runs",
		Value: 8080,
	}
	// AllowedOrigins defines the CORS origins accepted by the coordinator API.
	AllowedOrigins = &cli.StringSliceFlag{
		Name:  "http-cors-domain",
		Usage: "Comma separated list of domains from which to accept cross origin requests",
		Value: cli.NewStringSlice("*"),
	}
	// APIRequestsPerSecond bounds per-caller request rates. Zero disables limiting.
	APIRequestsPerSecond = &cli.Float64Flag{
		Name:  "api-requests-per-second",
		Usage: "Per-caller rate limit of the coordinator API. Set 0 to disable",
		Value: 20,
	}

	// DisableMonitoringFlag defines a flag to disable the metrics collection.
	DisableMonitoringFlag = &cli.BoolFlag{
		Name:  "disable-monitoring",
		Usage: "Disable monitoring service.",
	}
	// MonitoringHostFlag defines the host the metrics endpoint binds to.
	MonitoringHostFlag = &cli.StringFlag{
		Name:  "monitoring-host",
		Usage: "Host used for the Prometheus metrics endpoint",
		Value: "127.0.0.1",
	}
	// MonitoringPortFlag defines the port of the metrics endpoint.
	MonitoringPortFlag = &cli.IntFlag{
		Name:  "monitoring-port",
		Usage: "Port used for the Prometheus metrics endpoint",
		Value: 8081,
	}

	// DatabaseBackend selects the record store implementation.
	DatabaseBackend = &cli.StringFlag{
		Name:  "db-backend",
		Usage: "Record store backend. Supports: kv, firestore",
		Value: "kv",
	}
	// FirestoreProject names the GCP project used when --db-backend=firestore.
	FirestoreProject = &cli.StringFlag{
		Name:  "firestore-project",
		Usage: "GCP project id of the firestore record store",
	}

	// StorageRegion names the ceremony object store region.
	StorageRegion = &cli.StringFlag{
		Name:  "storage-region",
		Usage: "Region of the ceremony object store",
		Value: "us-east-1",
	}
	// StorageEndpoint overrides the object store endpoint, for S3-compatible
	// services such as minio.
	StorageEndpoint = &cli.StringFlag{
		Name:  "storage-endpoint",
		Usage: "Custom endpoint of the ceremony object store",
	}
	// StorageAccessKey sets a static object store credential. Empty falls
	// back to the ambient AWS credential chain.
	StorageAccessKey = &cli.StringFlag{
		Name:  "storage-access-key",
		Usage: "Static access key of the ceremony object store",
	}
	// StorageSecretKey sets the matching static secret.
	StorageSecretKey = &cli.StringFlag{
		Name:  "storage-secret-key",
		Usage: "Static secret key of the ceremony object store",
	}

	// SessionSecretPath points at the HMAC secret file for session tokens.
	// A missing file is created with a fresh secret.
	SessionSecretPath = &cli.StringFlag{
		Name:  "session-secret-path",
		Usage: "Path of the session signing secret. Defaults to <datadir>/session.secret",
	}
	// IdentityProvider selects how provider tokens are verified at login.
	IdentityProvider = &cli.StringFlag{
		Name:  "identity-provider",
		Usage: "Identity provider used at login. Supports: github, firebase",
		Value: "github",
	}
	// FirebaseProject names the firebase project used when
	// --identity-provider=firebase.
	FirebaseProject = &cli.StringFlag{
		Name:  "firebase-project",
		Usage: "Firebase project id of the identity provider",
	}
	// Coordinators lists the provider handles granted the coordinator claim
	// at login.
	Coordinators = &cli.StringSliceFlag{
		Name:  "coordinator",
		Usage: "Provider handle granted coordinator privileges. This flag may be used multiple times",
	}

	// ScratchDir roots the verification staging directories.
	ScratchDir = &cli.StringFlag{
		Name:  "scratch-dir",
		Usage: "Directory for verification staging files. Defaults to the system temp dir",
	}

	// EnableTracingFlag defines a flag to enable request tracing.
	EnableTracingFlag = &cli.BoolFlag{
		Name:  "enable-tracing",
		Usage: "Enable request tracing.",
	}
	// TracingProcessNameFlag defines a flag to specify a process name.
	TracingProcessNameFlag = &cli.StringFlag{
		Name:  "tracing-process-name",
		Usage: "The name to apply to tracing tag \"process_name\"",
	}
	// TracingEndpointFlag defines the http endpoint for serving traces to Jaeger.
	TracingEndpointFlag = &cli.StringFlag{
		Name:  "tracing-endpoint",
		Usage: "Tracing endpoint defines where coordinator traces are exposed to Jaeger.",
		Value: "http://127.0.0.1:14268/api/traces",
	}
	// TraceSampleFractionFlag defines a flag to indicate what fraction of
	// requests are sampled for tracing.
	TraceSampleFractionFlag = &cli.Float64Flag{
		Name:  "trace-sample-fraction",
		Usage: "Indicate what fraction of requests are sampled for tracing.",
		Value: 0.20,
	}
)
