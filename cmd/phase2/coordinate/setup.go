package coordinate

import (
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/zkmpc/maestro/client"
	"github.com/zkmpc/maestro/cmd/phase2/flags"
	"github.com/zkmpc/maestro/mpc/gnark"
)

var setupCmd = &cli.Command{
	Name:  "setup",
	Usage: "creates a ceremony from a yaml manifest: genesis zkeys, bucket and artifact uploads",
	Flags: []cli.Flag{
		flags.CoordinatorURLFlag,
		flags.DataDirFlag,
		flags.ManifestFlag,
		flags.ScratchDirFlag,
		flags.YesFlag,
	},
	Action: func(cliCtx *cli.Context) error {
		cl, _, err := requireCoordinatorSession(cliCtx)
		if err != nil {
			return err
		}
		if !cliCtx.IsSet(flags.ManifestFlag.Name) {
			return errors.Errorf("no --%s flag value was provided", flags.ManifestFlag.Name)
		}
		manifest, err := client.LoadManifest(cliCtx.String(flags.ManifestFlag.Name))
		if err != nil {
			return err
		}
		if !cliCtx.Bool(flags.YesFlag.Name) {
			ok, err := client.PromptConfirm("Create the ceremony and upload all circuit artifacts")
			if err != nil {
				return err
			}
			if !ok {
				log.Info("Setup cancelled")
				return nil
			}
		}
		result, err := client.Setup(cliCtx.Context, cl, gnark.NewEngine(), manifest,
			cliCtx.String(flags.ScratchDirFlag.Name), os.Stdout)
		if err != nil {
			return err
		}
		log.WithField("ceremony", result.CeremonyID).
			WithField("bucket", result.Bucket).
			WithField("circuits", result.Circuits).
			Info("Ceremony created")
		return nil
	},
}
