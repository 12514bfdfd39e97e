package contributor

import (
	"fmt"
	"strings"
	"time"

	"github.com/logrusorgru/aurora"
	"github.com/urfave/cli/v2"

	"github.com/zkmpc/maestro/cmd/phase2/flags"
)

var listCmd = &cli.Command{
	Name:  "list",
	Usage: "lists ceremonies known to the coordinator",
	Flags: []cli.Flag{
		flags.CoordinatorURLFlag,
		flags.DataDirFlag,
		flags.StateFlag,
	},
	Action: func(cliCtx *cli.Context) error {
		cl, _, err := requireSession(cliCtx)
		if err != nil {
			return err
		}
		state := strings.ToUpper(cliCtx.String(flags.StateFlag.Name))
		ceremonies, err := cl.Ceremonies(cliCtx.Context, state)
		if err != nil {
			return err
		}
		if len(ceremonies) == 0 {
			fmt.Printf("No %s ceremonies\n", state)
			return nil
		}
		au := aurora.NewAurora(true)
		for _, c := range ceremonies {
			fmt.Printf("%s  %s\n", au.Bold(c.Prefix), c.Title)
			fmt.Printf("    state %s, %s to %s\n", c.State,
				time.UnixMilli(c.StartDate).UTC().Format("2006-01-02"),
				time.UnixMilli(c.EndDate).UTC().Format("2006-01-02"))
			if c.Description != "" {
				fmt.Printf("    %s\n", c.Description)
			}
		}
		return nil
	},
}
