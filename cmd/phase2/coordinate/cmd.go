// Package coordinate wires the coordinator-only commands of the phase2 CLI:
// setting up a ceremony from a manifest and sealing a closed ceremony with
// the public beacon.
package coordinate

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/zkmpc/maestro/client"
	"github.com/zkmpc/maestro/cmd/phase2/flags"
)

var log = logrus.WithField("prefix", "phase2")

// Commands groups the coordinator-only subcommands.
var Commands = []*cli.Command{
	{
		Name:  "coordinator",
		Usage: "commands reserved for ceremony coordinators",
		Subcommands: []*cli.Command{
			setupCmd,
			finalizeCmd,
		},
	},
}

// requireCoordinatorSession loads the persisted login state, checks the
// coordinator privilege granted at login and builds a client bound to the
// session.
func requireCoordinatorSession(cliCtx *cli.Context) (*client.Client, *client.Session, error) {
	session, err := client.LoadSession(cliCtx.String(flags.DataDirFlag.Name))
	if err != nil {
		return nil, nil, err
	}
	if session == nil {
		return nil, nil, errors.New("not logged in; run the login command first")
	}
	if !session.Coordinator {
		return nil, nil, errors.Errorf("%s is not a registered coordinator", session.Handle)
	}
	return client.New(cliCtx.String(flags.CoordinatorURLFlag.Name), session.Token), session, nil
}
