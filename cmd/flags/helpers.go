package flags

import (
	"io"

	"github.com/manifoldco/promptui"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "flags")

// ConfirmAction asks the user to confirm a destructive action on the
// terminal. Declining logs the deniedText and returns false without error.
func ConfirmAction(actionText, deniedText string) (bool, error) {
	prompt := promptui.Prompt{
		Label:     actionText,
		IsConfirm: true,
	}
	if _, err := prompt.Run(); err != nil {
		if errors.Is(err, promptui.ErrAbort) || errors.Is(err, io.EOF) {
			log.Info(deniedText)
			return false, nil
		}
		return false, err
	}
	return true, nil
}
