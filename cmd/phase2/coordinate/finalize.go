package coordinate

import (
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/zkmpc/maestro/client"
	"github.com/zkmpc/maestro/cmd/phase2/flags"
	"github.com/zkmpc/maestro/mpc/gnark"
)

var finalizeCmd = &cli.Command{
	Name:  "finalize",
	Usage: "seals every circuit of a closed ceremony with the public beacon and publishes the verification keys",
	Flags: []cli.Flag{
		flags.CoordinatorURLFlag,
		flags.DataDirFlag,
		flags.CeremonyFlag,
		flags.BeaconFlag,
		flags.ScratchDirFlag,
		flags.YesFlag,
	},
	Action: func(cliCtx *cli.Context) error {
		cl, session, err := requireCoordinatorSession(cliCtx)
		if err != nil {
			return err
		}
		ceremonyID := cliCtx.String(flags.CeremonyFlag.Name)
		if ceremonyID == "" {
			return errors.Errorf("no --%s flag value was provided", flags.CeremonyFlag.Name)
		}
		beacon := cliCtx.String(flags.BeaconFlag.Name)
		if beacon == "" {
			beacon, err = client.PromptBeacon()
			if err != nil {
				return err
			}
		}
		if !cliCtx.Bool(flags.YesFlag.Name) {
			ok, err := client.PromptConfirm("Apply this beacon and finalize the ceremony; the beacon cannot be changed afterwards")
			if err != nil {
				return err
			}
			if !ok {
				log.Info("Finalization cancelled")
				return nil
			}
		}
		result, err := client.Finalize(cliCtx.Context, cl, gnark.NewEngine(), ceremonyID,
			beacon, session.Handle, cliCtx.String(flags.ScratchDirFlag.Name), os.Stdout)
		if err != nil {
			return err
		}
		log.WithField("ceremony", result.CeremonyID).
			WithField("circuits", result.Circuits).
			Info("Ceremony finalized")
		return nil
	},
}
