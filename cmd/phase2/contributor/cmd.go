// Package contributor wires the participant-facing commands of the phase2
// CLI: logging in and out of a coordinator, listing ceremonies and running
// the contribution loop.
package contributor

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/zkmpc/maestro/client"
	"github.com/zkmpc/maestro/cmd/phase2/flags"
)

var log = logrus.WithField("prefix", "phase2")

// Commands are the participant-facing top-level commands.
var Commands = []*cli.Command{
	loginCmd,
	logoutCmd,
	listCmd,
	contributeCmd,
}

// requireSession loads the persisted login state and builds a client bound
// to it.
func requireSession(cliCtx *cli.Context) (*client.Client, *client.Session, error) {
	session, err := client.LoadSession(cliCtx.String(flags.DataDirFlag.Name))
	if err != nil {
		return nil, nil, err
	}
	if session == nil {
		return nil, nil, errors.New("not logged in; run the login command first")
	}
	return client.New(cliCtx.String(flags.CoordinatorURLFlag.Name), session.Token), session, nil
}
