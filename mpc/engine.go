// Package mpc defines the interface to the cryptographic primitive of the
// ceremony: deriving the genesis zkey of a circuit, extending the
// contribution chain, verifying a candidate contribution and sealing the
// chain with a public beacon. The coordinator treats these operations as
// pure functions over artifact files; all scheduling, retry and persistence
// concerns live outside this package.
package mpc

import "context"

// MinBeaconBytes is the smallest beacon accepted by Finalize. Shorter
// values carry too little public entropy to seal a chain.
const MinBeaconBytes = 16

// CircuitInfo is the constraint-system header read from a compiled circuit.
// It sizes the ceremony: PotNeeded selects the phase-1 parameter file.
type CircuitInfo struct {
	Curve         string
	Constraints   int64
	Wires         int64
	PublicInputs  int64
	PrivateInputs int64
	PotNeeded     int64
}

// FinalizeOutput names the artifact files produced when a circuit's chain
// is sealed.
type FinalizeOutput struct {
	// FinalZkeyPath receives the sealed proving key.
	FinalZkeyPath string
	// VerificationKeyPath receives the verification key document.
	VerificationKeyPath string
	// SolidityVerifierPath receives the on-chain verifier contract.
	SolidityVerifierPath string
}

// Engine performs the zkey transformations of a phase-2 ceremony. Inputs
// and outputs are file paths: the states are large and the underlying
// library streams them from disk. Operations are CPU-bound and may run for
// minutes; implementations check ctx before starting but need not preempt
// a computation already underway.
type Engine interface {
	// Inspect reads the circuit header used to size the ceremony.
	Inspect(ctx context.Context, r1csPath string) (*CircuitInfo, error)

	// InitZkey derives the genesis zkey, index zero of the contribution
	// chain, from the compiled circuit and the sealed phase-1 parameters.
	InitZkey(ctx context.Context, r1csPath, potPath, genesisPath string) error

	// Contribute extends the previous zkey with fresh secret randomness
	// and writes the next zkey. The secret is drawn inside the primitive
	// and never surfaces.
	Contribute(ctx context.Context, prevPath, nextPath string) error

	// Verify checks that candidate extends prev by exactly one
	// well-formed contribution. A cryptographically unsound or
	// undecodable candidate yields valid=false with a diagnostic report;
	// err is reserved for failures reading prev or the scratch area.
	Verify(ctx context.Context, prevPath, candidatePath string) (valid bool, report []byte, err error)

	// Finalize re-verifies the whole contribution chain, seals it with
	// the public beacon value and writes the final artifacts.
	Finalize(ctx context.Context, r1csPath, potPath string, contributionPaths []string, beacon []byte, out FinalizeOutput) error
}
