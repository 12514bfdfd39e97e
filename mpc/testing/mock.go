// Package testing provides a deterministic mpc.Engine double. States are
// small text records so coordinator tests can assert on artifact plumbing
// without paying for the real primitive.
package testing

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/zkmpc/maestro/crypto/hashutil"
	"github.com/zkmpc/maestro/mpc"
)

// MockEngine implements mpc.Engine with text-file states. A contribution at
// index k records the hash of the state it extends, so Verify can detect
// out-of-order and tampered candidates the way the real engine does.
type MockEngine struct {
	// Err, when set, is returned by every operation.
	Err error
	// ForceInvalid makes Verify judge every candidate invalid.
	ForceInvalid bool
	// Info overrides the header returned by Inspect.
	Info *mpc.CircuitInfo
}

var _ mpc.Engine = (*MockEngine)(nil)

// NewMockEngine --
func NewMockEngine() *MockEngine {
	return &MockEngine{}
}

// Inspect --
func (m *MockEngine) Inspect(_ context.Context, _ string) (*mpc.CircuitInfo, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Info != nil {
		return m.Info, nil
	}
	return &mpc.CircuitInfo{
		Curve:         "bn254",
		Constraints:   64,
		Wires:         130,
		PublicInputs:  1,
		PrivateInputs: 2,
		PotNeeded:     6,
	}, nil
}

// InitZkey --
func (m *MockEngine) InitZkey(_ context.Context, _, _, genesisPath string) error {
	if m.Err != nil {
		return m.Err
	}
	return os.WriteFile(genesisPath, []byte("zkey 0 genesis"), 0o600)
}

// Contribute --
func (m *MockEngine) Contribute(_ context.Context, prevPath, nextPath string) error {
	if m.Err != nil {
		return m.Err
	}
	prev, err := os.ReadFile(prevPath)
	if err != nil {
		return err
	}
	index, _, err := parseState(prev)
	if err != nil {
		return err
	}
	next := fmt.Sprintf("zkey %d %s", index+1, hashutil.Blake2b(prev))
	return os.WriteFile(nextPath, []byte(next), 0o600)
}

// Verify --
func (m *MockEngine) Verify(_ context.Context, prevPath, candidatePath string) (bool, []byte, error) {
	if m.Err != nil {
		return false, nil, m.Err
	}
	prev, err := os.ReadFile(prevPath)
	if err != nil {
		return false, nil, err
	}
	prevIndex, _, err := parseState(prev)
	if err != nil {
		return false, nil, err
	}
	candidate, err := os.ReadFile(candidatePath)
	if err != nil {
		return false, nil, err
	}
	candIndex, candParent, parseErr := parseState(candidate)
	valid := parseErr == nil &&
		candIndex == prevIndex+1 &&
		candParent == hashutil.Blake2b(prev) &&
		!m.ForceInvalid
	report := fmt.Sprintf("mock verification\nresult: %s\n", verdict(valid))
	return valid, []byte(report), nil
}

// Finalize --
func (m *MockEngine) Finalize(_ context.Context, _, _ string, contributionPaths []string, beacon []byte, out mpc.FinalizeOutput) error {
	if m.Err != nil {
		return m.Err
	}
	if len(beacon) < mpc.MinBeaconBytes {
		return errors.Errorf("beacon must be at least %d bytes, got %d", mpc.MinBeaconBytes, len(beacon))
	}
	if len(contributionPaths) == 0 {
		return errors.New("cannot finalize an empty contribution chain")
	}
	last, err := os.ReadFile(contributionPaths[len(contributionPaths)-1])
	if err != nil {
		return err
	}
	sealed := fmt.Sprintf("final %s", hashutil.Blake2b(append(last, beacon...)))
	if err := os.WriteFile(out.FinalZkeyPath, []byte(sealed), 0o600); err != nil {
		return err
	}
	doc := `{"protocol":"groth16","curve":"bn254","nPublic":1,"vk":"bW9jaw=="}`
	if err := os.WriteFile(out.VerificationKeyPath, []byte(doc), 0o600); err != nil {
		return err
	}
	sol := "// mock verifier\npragma solidity ^0.8.0;\ncontract Verifier {}\n"
	return os.WriteFile(out.SolidityVerifierPath, []byte(sol), 0o600)
}

func parseState(b []byte) (index int64, parent string, err error) {
	fields := strings.Fields(string(b))
	if len(fields) != 3 || fields[0] != "zkey" {
		return 0, "", errors.Errorf("malformed mock zkey state %q", string(b))
	}
	index, err = strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, "", errors.Wrap(err, "malformed mock zkey index")
	}
	return index, fields[2], nil
}

func verdict(valid bool) string {
	if valid {
		return "VALID"
	}
	return "INVALID"
}
