// Package hashutil computes the BLAKE2b-512 digests recorded next to every
// ceremony artifact.
package hashutil

import (
	"encoding/hex"
	"io"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// Blake2b returns the hex-encoded BLAKE2b-512 digest of b.
func Blake2b(b []byte) string {
	h := blake2b.Sum512(b)
	return hex.EncodeToString(h[:])
}

// Blake2bReader streams r through BLAKE2b-512 and returns the hex digest.
func Blake2bReader(r io.Reader) (string, error) {
	h, err := blake2b.New512(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", errors.Wrap(err, "could not hash stream")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Blake2bFile hashes the file at path without loading it into memory.
// Ceremony artifacts run to gigabytes.
func Blake2bFile(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return "", errors.Wrapf(err, "could not open %s", path)
	}
	defer func() {
		_ = f.Close()
	}()
	return Blake2bReader(f)
}
