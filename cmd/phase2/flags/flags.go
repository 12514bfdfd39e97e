// Package flags contains all configuration runtime flags for the phase2
// ceremony client.
package flags

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	cmdflags "github.com/zkmpc/maestro/cmd/flags"
)

var (
	// CoordinatorURLFlag points the client at a ceremony coordinator.
	CoordinatorURLFlag = &cli.StringFlag{
		Name:  "coordinator-url",
		Usage: "Base URL of the ceremony coordinator API",
		Value: "http://localhost:8080",
	}
	// DataDirFlag holds the login session and other client state.
	DataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Directory holding the client session and state",
		Value: filepath.Join(cmdflags.DefaultDataDir(), "phase2"),
	}
	// GitHubClientIDFlag identifies this client to GitHub's device flow.
	GitHubClientIDFlag = &cli.StringFlag{
		Name:    "github-client-id",
		Usage:   "GitHub OAuth app client id used for the device-code login",
		EnvVars: []string{"PHASE2_GITHUB_CLIENT_ID"},
	}
	// ProviderTokenFlag logs in with an already-granted access token
	// instead of the device flow. Useful for CI and machine accounts.
	ProviderTokenFlag = &cli.StringFlag{
		Name:    "provider-token",
		Usage:   "GitHub access token to exchange for a session, skipping the device flow",
		EnvVars: []string{"PHASE2_PROVIDER_TOKEN"},
	}
	// CeremonyFlag selects the ceremony to act on.
	CeremonyFlag = &cli.StringFlag{
		Name:  "ceremony",
		Usage: "Identifier of the ceremony to act on",
	}
	// StateFlag filters the ceremony listing.
	StateFlag = &cli.StringFlag{
		Name:  "state",
		Usage: "Only list ceremonies in this state (SCHEDULED, OPENED, CLOSED, FINALIZED)",
		Value: "OPENED",
	}
	// WorkdirFlag is where contribution artifacts are staged.
	WorkdirFlag = &cli.StringFlag{
		Name:  "workdir",
		Usage: "Directory where zkeys, transcripts and the attestation are staged",
		Value: ".",
	}
	// EntropyFlag supplies the contribution entropy non-interactively.
	EntropyFlag = &cli.StringFlag{
		Name:  "entropy",
		Usage: "Entropy string committed to in the attestation; omit to be prompted",
	}
	// NoPublishFlag keeps the attestation local.
	NoPublishFlag = &cli.BoolFlag{
		Name:  "no-publish",
		Usage: "Do not publish the attestation as a public gist",
	}
	// YesFlag answers every confirmation prompt affirmatively.
	YesFlag = &cli.BoolFlag{
		Name:  "yes",
		Usage: "Assume yes for every confirmation prompt",
	}
	// ManifestFlag points ceremony setup at its yaml description.
	ManifestFlag = &cli.StringFlag{
		Name:  "manifest",
		Usage: "Path to the yaml ceremony manifest describing circuits and dates",
	}
	// BeaconFlag supplies the finalization beacon non-interactively.
	BeaconFlag = &cli.StringFlag{
		Name:  "beacon",
		Usage: "Hex-encoded public beacon value sealing the ceremony; omit to be prompted",
	}
	// ScratchDirFlag is where setup and finalization stage large artifacts.
	ScratchDirFlag = &cli.StringFlag{
		Name:  "scratch-dir",
		Usage: "Directory for staging circuit artifacts during setup and finalization",
		Value: filepath.Join(os.TempDir(), "phase2"),
	}
)
