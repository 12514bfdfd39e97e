package api

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/zkmpc/maestro/config/params"
)

// FormatZkeyIndex renders the one-based contribution counter as the
// left-zero-padded decimal used in zkey filenames. The width follows
// FIRST_ZKEY_INDEX; counters wider than the template keep all digits.
func FormatZkeyIndex(k int64) string {
	return fmt.Sprintf("%0*d", params.CeremonyConfig().ZkeyIndexWidth(), k)
}

// ParseZkeyIndex parses a padded index back to its counter value. The
// literal final index is rejected; callers check for it first.
func ParseZkeyIndex(s string) (int64, error) {
	if s == "" {
		return 0, errors.New("empty zkey index")
	}
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" {
		return 0, nil
	}
	k, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "malformed zkey index %q", s)
	}
	return k, nil
}
