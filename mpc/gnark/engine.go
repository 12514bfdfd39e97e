// Package gnark backs the ceremony primitive with the gnark groth16 MPC
// setup on BN254. Zkey files hold serialized phase-2 states, the powers of
// tau file holds the sealed phase-1 commons, and the final zkey holds the
// proving key produced by the beacon seal.
package gnark

import (
	"context"
	"io"
	"math/bits"
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16/bn254/mpcsetup"
	cs_bn254 "github.com/consensys/gnark/constraint/bn254"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/zkmpc/maestro/mpc"
)

var log = logrus.WithField("prefix", "mpc")

// CurveID names the only curve this engine operates on. Ceremony circuits
// target EVM verification, which pins BN254.
const CurveID = "bn254"

// Engine implements mpc.Engine on top of gnark's bn254 mpcsetup.
type Engine struct{}

var _ mpc.Engine = (*Engine)(nil)

// NewEngine --
func NewEngine() *Engine {
	return &Engine{}
}

// Inspect reads the compiled constraint system header. The public variable
// count includes the constant one wire, which is not a user input, so it is
// excluded from the reported figure.
func (e *Engine) Inspect(ctx context.Context, r1csPath string) (*mpc.CircuitInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ccs, err := loadR1CS(r1csPath)
	if err != nil {
		return nil, err
	}
	domain := ecc.NextPowerOfTwo(uint64(ccs.GetNbConstraints()))
	nbPublic := int64(ccs.GetNbPublicVariables())
	nbSecret := int64(ccs.GetNbSecretVariables())
	nbInternal := int64(ccs.GetNbInternalVariables())
	return &mpc.CircuitInfo{
		Curve:         CurveID,
		Constraints:   int64(ccs.GetNbConstraints()),
		Wires:         nbPublic + nbSecret + nbInternal,
		PublicInputs:  nbPublic - 1,
		PrivateInputs: nbSecret,
		PotNeeded:     int64(bits.Len64(domain) - 1),
	}, nil
}

// InitZkey derives the genesis phase-2 state from the circuit and the
// phase-1 commons and writes it as zkey index zero.
func (e *Engine) InitZkey(ctx context.Context, r1csPath, potPath, genesisPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ccs, err := loadR1CS(r1csPath)
	if err != nil {
		return err
	}
	commons, err := loadCommons(potPath)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"constraints": ccs.GetNbConstraints(),
		"genesis":     genesisPath,
	}).Info("Initializing phase 2 state")
	var p mpcsetup.Phase2
	p.Initialize(ccs, commons)
	return writeObject(genesisPath, &p)
}

// Contribute loads the previous phase-2 state, mixes in randomness drawn
// inside the library and writes the extended state.
func (e *Engine) Contribute(ctx context.Context, prevPath, nextPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var p mpcsetup.Phase2
	if err := readObject(prevPath, &p); err != nil {
		return errors.Wrap(err, "could not read previous zkey")
	}
	p.Contribute()
	return writeObject(nextPath, &p)
}

func loadR1CS(path string) (*cs_bn254.R1CS, error) {
	ccs := &cs_bn254.R1CS{}
	if err := readObject(path, ccs); err != nil {
		return nil, errors.Wrap(err, "could not read constraint system")
	}
	return ccs, nil
}

func loadCommons(path string) (*mpcsetup.SrsCommons, error) {
	var commons mpcsetup.SrsCommons
	if err := readObject(path, &commons); err != nil {
		return nil, errors.Wrap(err, "could not read powers of tau")
	}
	return &commons, nil
}

func readObject(path string, obj io.ReaderFrom) error {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return err
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.WithError(err).Error("Could not close artifact file")
		}
	}()
	_, err = obj.ReadFrom(f)
	return err
}

func writeObject(path string, obj io.WriterTo) error {
	f, err := os.Create(path) // #nosec G304
	if err != nil {
		return err
	}
	if _, err := obj.WriteTo(f); err != nil {
		if closeErr := f.Close(); closeErr != nil {
			log.WithError(closeErr).Error("Could not close artifact file")
		}
		return err
	}
	return f.Close()
}
