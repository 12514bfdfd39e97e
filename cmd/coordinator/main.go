// Package main defines the ceremony coordinator server. A coordinator
// schedules Groth16 phase 2 ceremonies, queues contributors one at a time
// per circuit, and verifies every uploaded contribution before admitting it
// to the transcript.
package main

import (
	"fmt"
	"os"

	joonix "github.com/joonix/log"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	_ "go.uber.org/automaxprocs"

	"github.com/zkmpc/maestro/cmd/flags"
	"github.com/zkmpc/maestro/coordinator/node"
	"github.com/zkmpc/maestro/io/logs"
	"github.com/zkmpc/maestro/runtime/version"
)

var log = logrus.WithField("prefix", "main")

func startNode(cliCtx *cli.Context) error {
	coordinator, err := node.New(cliCtx)
	if err != nil {
		return err
	}
	coordinator.Start()
	return nil
}

var appFlags = []cli.Flag{
	flags.VerbosityFlag,
	flags.DataDirFlag,
	flags.ClearDB,
	flags.ForceClearDB,
	flags.LogFormat,
	flags.LogFileName,
	flags.ConfigFileFlag,
	flags.CeremonyConfigFileFlag,
	flags.HTTPHost,
	flags.HTTPPort,
	flags.AllowedOrigins,
	flags.APIRequestsPerSecond,
	flags.DisableMonitoringFlag,
	flags.MonitoringHostFlag,
	flags.MonitoringPortFlag,
	flags.DatabaseBackend,
	flags.FirestoreProject,
	flags.StorageRegion,
	flags.StorageEndpoint,
	flags.StorageAccessKey,
	flags.StorageSecretKey,
	flags.SessionSecretPath,
	flags.IdentityProvider,
	flags.FirebaseProject,
	flags.Coordinators,
	flags.ScratchDir,
	flags.EnableTracingFlag,
	flags.TracingProcessNameFlag,
	flags.TracingEndpointFlag,
	flags.TraceSampleFractionFlag,
}

func init() {
	appFlags = flags.WrapFlags(appFlags)
}

func main() {
	app := cli.App{}
	app.Name = "coordinator"
	app.Usage = "launches a Groth16 phase 2 trusted setup coordinator server"
	app.Version = version.GetVersion()
	app.Flags = appFlags
	app.Action = startNode
	app.Before = func(ctx *cli.Context) error {
		// Load any flags from file, if specified.
		if ctx.IsSet(flags.ConfigFileFlag.Name) {
			if err := altsrc.InitInputSourceWithContext(
				appFlags,
				altsrc.NewYamlSourceFromFlagFunc(
					flags.ConfigFileFlag.Name))(ctx); err != nil {
				return err
			}
		}

		format := ctx.String(flags.LogFormat.Name)
		switch format {
		case "text":
			formatter := new(prefixed.TextFormatter)
			formatter.TimestampFormat = "2006-01-02 15:04:05"
			formatter.FullTimestamp = true
			// If persistent log files are written - we disable the log messages coloring because
			// the colors are ANSI codes and seen as Gibberish in the log files.
			formatter.DisableColors = ctx.String(flags.LogFileName.Name) != ""
			logrus.SetFormatter(formatter)
		case "fluentd":
			logrus.SetFormatter(joonix.NewFormatter())
		case "json":
			logrus.SetFormatter(&logrus.JSONFormatter{})
		default:
			return fmt.Errorf("unknown log format %s", format)
		}

		logFileName := ctx.String(flags.LogFileName.Name)
		if logFileName != "" {
			if err := logs.ConfigurePersistentLogging(logFileName, format); err != nil {
				log.WithError(err).Error("Failed to configure logging to disk.")
			}
		}
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}
