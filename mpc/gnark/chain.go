package gnark

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/groth16/bn254/mpcsetup"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/zkmpc/maestro/crypto/hashutil"
	"github.com/zkmpc/maestro/io/file"
	"github.com/zkmpc/maestro/mpc"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// verificationKeyDoc is the JSON artifact published next to the Solidity
// verifier. The key material is the library's binary encoding, base64
// wrapped so any consumer of the same library can rehydrate it.
type verificationKeyDoc struct {
	Protocol string `json:"protocol"`
	Curve    string `json:"curve"`
	NPublic  int64  `json:"nPublic"`
	Vk       string `json:"vk"`
}

// Verify checks that candidate extends prev by exactly one contribution.
// The returned report is the verification transcript persisted next to the
// zkey it judges.
func (e *Engine) Verify(ctx context.Context, prevPath, candidatePath string) (bool, []byte, error) {
	if err := ctx.Err(); err != nil {
		return false, nil, err
	}
	var prev mpcsetup.Phase2
	if err := readObject(prevPath, &prev); err != nil {
		return false, nil, errors.Wrap(err, "could not read previous zkey")
	}
	prevHash, err := hashutil.Blake2bFile(prevPath)
	if err != nil {
		return false, nil, err
	}

	var report bytes.Buffer
	fmt.Fprintln(&report, "groth16 phase 2 contribution verification")
	fmt.Fprintf(&report, "previous state:  blake2b-512 %s\n", prevHash)

	var candidate mpcsetup.Phase2
	if err := readObject(candidatePath, &candidate); err != nil {
		fmt.Fprintf(&report, "candidate state: undecodable: %v\n", err)
		fmt.Fprintln(&report, "result: INVALID")
		return false, report.Bytes(), nil
	}
	candHash, err := hashutil.Blake2bFile(candidatePath)
	if err != nil {
		return false, nil, err
	}
	fmt.Fprintf(&report, "candidate state: blake2b-512 %s\n", candHash)

	if err := verifyLink(&prev, &candidate); err != nil {
		fmt.Fprintf(&report, "update proof check: failed: %v\n", err)
		fmt.Fprintln(&report, "result: INVALID")
		return false, report.Bytes(), nil
	}
	fmt.Fprintln(&report, "update proof check: ok")
	fmt.Fprintln(&report, "result: VALID")
	return true, report.Bytes(), nil
}

// Finalize replays the whole contribution chain from the genesis state,
// seals it with the beacon value and writes the proving key, verification
// key document and Solidity verifier.
func (e *Engine) Finalize(ctx context.Context, r1csPath, potPath string, contributionPaths []string, beacon []byte, out mpc.FinalizeOutput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(beacon) < mpc.MinBeaconBytes {
		return errors.Errorf("beacon must be at least %d bytes, got %d", mpc.MinBeaconBytes, len(beacon))
	}
	if len(contributionPaths) == 0 {
		return errors.New("cannot finalize an empty contribution chain")
	}
	ccs, err := loadR1CS(r1csPath)
	if err != nil {
		return err
	}
	commons, err := loadCommons(potPath)
	if err != nil {
		return err
	}
	phases := make([]*mpcsetup.Phase2, len(contributionPaths))
	for i, path := range contributionPaths {
		phases[i] = new(mpcsetup.Phase2)
		if err := readObject(path, phases[i]); err != nil {
			return errors.Wrapf(err, "could not read zkey %s", path)
		}
	}
	log.WithFields(logrus.Fields{
		"contributions": len(phases),
		"constraints":   ccs.GetNbConstraints(),
	}).Info("Sealing contribution chain with beacon")

	pk, vk, err := mpcsetup.VerifyPhase2(ccs, commons, beacon, phases...)
	if err != nil {
		return errors.Wrap(err, "contribution chain verification failed")
	}
	return exportArtifacts(pk, vk, int64(ccs.GetNbPublicVariables())-1, out)
}

func exportArtifacts(pk groth16.ProvingKey, vk groth16.VerifyingKey, nPublic int64, out mpc.FinalizeOutput) error {
	if err := writeObject(out.FinalZkeyPath, pk); err != nil {
		return errors.Wrap(err, "could not write final zkey")
	}

	var vkBytes bytes.Buffer
	if _, err := vk.WriteTo(&vkBytes); err != nil {
		return errors.Wrap(err, "could not encode verification key")
	}
	doc, err := json.Marshal(&verificationKeyDoc{
		Protocol: "groth16",
		Curve:    CurveID,
		NPublic:  nPublic,
		Vk:       base64.StdEncoding.EncodeToString(vkBytes.Bytes()),
	})
	if err != nil {
		return errors.Wrap(err, "could not encode verification key document")
	}
	if err := file.WriteFile(out.VerificationKeyPath, doc); err != nil {
		return errors.Wrap(err, "could not write verification key document")
	}

	var sol bytes.Buffer
	if err := vk.ExportSolidity(&sol); err != nil {
		return errors.Wrap(err, "could not export Solidity verifier")
	}
	return file.WriteFile(out.SolidityVerifierPath, sol.Bytes())
}
