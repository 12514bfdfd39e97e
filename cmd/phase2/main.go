// Package main defines the phase2 command-line client: participants use it
// to join ceremonies and contribute, coordinators use it to set up and
// finalize them.
package main

import (
	"fmt"
	"os"

	joonix "github.com/joonix/log"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/zkmpc/maestro/cmd/flags"
	"github.com/zkmpc/maestro/cmd/phase2/contributor"
	"github.com/zkmpc/maestro/cmd/phase2/coordinate"
	"github.com/zkmpc/maestro/runtime/version"
)

var log = logrus.WithField("prefix", "main")

func main() {
	app := cli.App{}
	app.Name = "phase2"
	app.Usage = "contributes to and coordinates Groth16 phase 2 trusted setup ceremonies"
	app.Version = version.GetVersion()
	app.Flags = []cli.Flag{
		flags.VerbosityFlag,
		flags.LogFormat,
	}
	app.Commands = append(append([]*cli.Command{}, contributor.Commands...), coordinate.Commands...)
	app.Before = func(ctx *cli.Context) error {
		level, err := logrus.ParseLevel(ctx.String(flags.VerbosityFlag.Name))
		if err != nil {
			return err
		}
		logrus.SetLevel(level)

		format := ctx.String(flags.LogFormat.Name)
		switch format {
		case "text":
			formatter := new(prefixed.TextFormatter)
			formatter.TimestampFormat = "2006-01-02 15:04:05"
			formatter.FullTimestamp = true
			logrus.SetFormatter(formatter)
		case "fluentd":
			logrus.SetFormatter(joonix.NewFormatter())
		case "json":
			logrus.SetFormatter(&logrus.JSONFormatter{})
		default:
			return fmt.Errorf("unknown log format %s", format)
		}
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}
