package client

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/logrusorgru/aurora"
	"github.com/manifoldco/promptui"
	"github.com/pkg/errors"

	"github.com/zkmpc/maestro/coordinator/types"
	"github.com/zkmpc/maestro/mpc"
)

var au = aurora.NewAurora(true /* color */)

// PromptEntropy asks the participant to mash the keyboard before their first
// contribution. The typed value never reaches the curve arithmetic, which
// draws its secret from the system randomness source; a commitment to it is
// published in the attestation instead, so the participant can later prove
// they were at the keyboard.
func PromptEntropy() (string, error) {
	prompt := promptui.Prompt{
		Label: "Type some random characters, or press enter to rely on the system randomness source alone",
		Mask:  '*',
	}
	entropy, err := prompt.Run()
	if err != nil {
		return "", formatPromptError(err)
	}
	return entropy, nil
}

// PromptBeacon asks the coordinator for the public beacon value sealing the
// ceremony. The value must be hex and carry enough bytes to matter.
func PromptBeacon() (string, error) {
	prompt := promptui.Prompt{
		Label: "Public beacon value (hex)",
		Validate: func(input string) error {
			return ValidateBeacon(input)
		},
	}
	beacon, err := prompt.Run()
	if err != nil {
		return "", formatPromptError(err)
	}
	return strings.TrimSpace(beacon), nil
}

// ValidateBeacon checks the hex encoding and minimum entropy of a beacon
// value before any artifact is touched.
func ValidateBeacon(beacon string) error {
	decoded, err := hex.DecodeString(strings.TrimSpace(beacon))
	if err != nil {
		return errors.New("beacon must be a hex string")
	}
	if len(decoded) < mpc.MinBeaconBytes {
		return errors.Errorf("beacon must carry at least %d bytes, got %d", mpc.MinBeaconBytes, len(decoded))
	}
	return nil
}

// PromptSelectCeremony lets the participant pick one of the listed
// ceremonies interactively.
func PromptSelectCeremony(ceremonies []*types.Ceremony) (*types.Ceremony, error) {
	if len(ceremonies) == 0 {
		return nil, errors.New("no ceremony to select from")
	}
	labels := make([]string, len(ceremonies))
	for i, c := range ceremonies {
		labels[i] = fmt.Sprintf("%s - %s (%s)", c.Prefix, c.Title, c.State)
	}
	prompt := promptui.Select{
		Label: "Select a ceremony",
		Items: labels,
		Size:  10,
	}
	idx, _, err := prompt.Run()
	if err != nil {
		return nil, formatPromptError(err)
	}
	return ceremonies[idx], nil
}

// PromptConfirm asks a yes/no question. Declining returns false without
// error.
func PromptConfirm(label string) (bool, error) {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}
	if _, err := prompt.Run(); err != nil {
		if errors.Is(err, promptui.ErrAbort) || errors.Is(err, promptui.ErrEOF) || errors.Is(err, promptui.ErrInterrupt) {
			return false, nil
		}
		return false, formatPromptError(err)
	}
	return true, nil
}

func formatPromptError(err error) error {
	switch err {
	case promptui.ErrAbort:
		return errors.New("aborted, closing")
	case promptui.ErrInterrupt:
		return errors.New("keyboard interrupt, closing")
	case promptui.ErrEOF:
		return errors.New("no input received, closing")
	default:
		return errors.Wrap(err, "could not read prompt input")
	}
}
