package gnark

import "github.com/consensys/gnark/backend/groth16/bn254/mpcsetup"

// verifyLink checks a single step of the contribution chain. Sealing walks
// the chain the same way inside mpcsetup.VerifyPhase2.
func verifyLink(prev, next *mpcsetup.Phase2) error {
	return prev.Verify(next)
}
