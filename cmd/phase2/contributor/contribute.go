package contributor

import (
	"os"

	"github.com/urfave/cli/v2"

	"github.com/zkmpc/maestro/client"
	"github.com/zkmpc/maestro/cmd/phase2/flags"
	"github.com/zkmpc/maestro/coordinator/types"
	"github.com/zkmpc/maestro/mpc/gnark"
)

var contributeCmd = &cli.Command{
	Name:  "contribute",
	Usage: "joins a ceremony and contributes to every circuit, one slot at a time",
	Flags: []cli.Flag{
		flags.CoordinatorURLFlag,
		flags.DataDirFlag,
		flags.CeremonyFlag,
		flags.WorkdirFlag,
		flags.EntropyFlag,
		flags.NoPublishFlag,
		flags.YesFlag,
	},
	Action: func(cliCtx *cli.Context) error {
		cl, session, err := requireSession(cliCtx)
		if err != nil {
			return err
		}
		ceremonyID := cliCtx.String(flags.CeremonyFlag.Name)
		if ceremonyID == "" {
			opened, err := cl.Ceremonies(cliCtx.Context, string(types.CeremonyOpened))
			if err != nil {
				return err
			}
			picked, err := client.PromptSelectCeremony(opened)
			if err != nil {
				return err
			}
			ceremonyID = picked.ID
		}

		entropy := cliCtx.String(flags.EntropyFlag.Name)
		if !cliCtx.IsSet(flags.EntropyFlag.Name) {
			entropy, err = client.PromptEntropy()
			if err != nil {
				return err
			}
		}
		if !cliCtx.Bool(flags.YesFlag.Name) {
			ok, err := client.PromptConfirm("Join the ceremony and wait for a contribution slot")
			if err != nil {
				return err
			}
			if !ok {
				log.Info("Contribution cancelled")
				return nil
			}
		}

		var publisher client.Publisher
		if !cliCtx.Bool(flags.NoPublishFlag.Name) && session.ProviderToken != "" {
			publisher = &client.GistPublisher{Token: session.ProviderToken}
		}
		contributor := &client.Contributor{
			Client:    cl,
			Engine:    gnark.NewEngine(),
			Handle:    session.Handle,
			WorkDir:   cliCtx.String(flags.WorkdirFlag.Name),
			Publisher: publisher,
			Entropy:   entropy,
			Out:       os.Stdout,
		}
		return contributor.Run(cliCtx.Context, ceremonyID)
	},
}
