package contributor

import (
	"os"

	"github.com/urfave/cli/v2"

	"github.com/zkmpc/maestro/client"
	"github.com/zkmpc/maestro/cmd/phase2/flags"
)

var loginCmd = &cli.Command{
	Name:  "login",
	Usage: "authenticates against the coordinator through the GitHub device flow and stores the session",
	Flags: []cli.Flag{
		flags.CoordinatorURLFlag,
		flags.DataDirFlag,
		flags.GitHubClientIDFlag,
		flags.ProviderTokenFlag,
	},
	Action: func(cliCtx *cli.Context) error {
		cl := client.New(cliCtx.String(flags.CoordinatorURLFlag.Name), "")
		var (
			session *client.Session
			err     error
		)
		if token := cliCtx.String(flags.ProviderTokenFlag.Name); token != "" {
			session, err = client.LoginWithToken(cliCtx.Context, cl, token)
		} else {
			session, err = client.LoginWithDevice(cliCtx.Context, cl,
				cliCtx.String(flags.GitHubClientIDFlag.Name), os.Stdout)
		}
		if err != nil {
			return err
		}
		if err := client.SaveSession(cliCtx.String(flags.DataDirFlag.Name), session); err != nil {
			return err
		}
		if session.Coordinator {
			log.WithField("handle", session.Handle).Info("Logged in with coordinator privileges")
		} else {
			log.WithField("handle", session.Handle).Info("Logged in")
		}
		return nil
	},
}

var logoutCmd = &cli.Command{
	Name:  "logout",
	Usage: "discards the locally stored session",
	Flags: []cli.Flag{
		flags.DataDirFlag,
	},
	Action: func(cliCtx *cli.Context) error {
		if err := client.ClearSession(cliCtx.String(flags.DataDirFlag.Name)); err != nil {
			return err
		}
		log.Info("Logged out")
		return nil
	},
}
