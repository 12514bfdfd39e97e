package client

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/zkmpc/maestro/api"
	"github.com/zkmpc/maestro/coordinator/types"
	"github.com/zkmpc/maestro/crypto/hashutil"
	"github.com/zkmpc/maestro/io/file"
	"github.com/zkmpc/maestro/mpc"
	mtime "github.com/zkmpc/maestro/time"
)

// FinalizeResult reports what a finalization run sealed.
type FinalizeResult struct {
	CeremonyID string
	Circuits   int
}

// Finalize seals every circuit of a closed ceremony with the public beacon:
// it replays the contribution chain locally, uploads the sealed zkey, has
// the coordinator verify the seal by replaying the chain itself, and commits
// the circuit. The ceremony flips to FINALIZED once every circuit carries
// its verified seal. The pipeline is resumable: circuits sealed by an
// earlier run are detected and skipped.
func Finalize(ctx context.Context, cl *Client, engine mpc.Engine, ceremonyID, beacon, handle, scratchDir string, out io.Writer) (*FinalizeResult, error) {
	if err := ValidateBeacon(beacon); err != nil {
		return nil, err
	}
	ceremony, err := cl.Ceremony(ctx, ceremonyID)
	if err != nil {
		return nil, err
	}
	if ceremony.State != types.CeremonyClosed {
		return nil, errors.Errorf("ceremony %s is %s; only a closed ceremony can be finalized", ceremony.Prefix, ceremony.State)
	}
	eligible, err := cl.PrepareFinalization(ctx, ceremonyID)
	if err != nil {
		return nil, err
	}
	if !eligible {
		return nil, errors.New("you must contribute to every circuit before the ceremony closes to be able to finalize it")
	}

	circuits, err := cl.Circuits(ctx, ceremonyID)
	if err != nil {
		return nil, err
	}
	sort.Slice(circuits, func(i, j int) bool { return circuits[i].SequencePosition < circuits[j].SequencePosition })

	for _, circuit := range circuits {
		if err := finalizeCircuit(ctx, cl, engine, ceremony, circuit, beacon, handle, scratchDir, out); err != nil {
			return nil, errors.Wrapf(err, "circuit %s", circuit.Prefix)
		}
	}
	if err := cl.FinalizeCeremony(ctx, ceremonyID); err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "%s Verification keys and Solidity verifiers are published in the ceremony bucket.\n",
		au.Green("Ceremony finalized."))
	return &FinalizeResult{CeremonyID: ceremonyID, Circuits: len(circuits)}, nil
}

// finalizeCircuit seals one circuit. The coordinator-side verification
// replays the chain with the same beacon and publishes the verification key
// and Solidity verifier it derived itself, so this client only ships the
// sealed zkey.
func finalizeCircuit(ctx context.Context, cl *Client, engine mpc.Engine, ceremony *types.Ceremony, circuit *types.Circuit, beacon, handle, scratchDir string, out io.Writer) error {
	// A circuit sealed by an earlier run commits without further work; only
	// a missing final contribution means the chain replay still has to
	// happen. A beacon mismatch or an invalid seal aborts here.
	switch err := cl.FinalizeCircuit(ctx, ceremony.ID, circuit.ID, beacon); {
	case err == nil:
		fmt.Fprintf(out, "Circuit %s is already sealed\n", circuit.Prefix)
		return nil
	case api.ErrCode(err) != api.CodeFailedPrecondition:
		return err
	}

	bucket := api.BucketName(ceremony.Prefix)
	dir := filepath.Join(scratchDir, ceremony.Prefix, circuit.Prefix)
	if err := file.MkdirAll(dir); err != nil {
		return err
	}

	fmt.Fprintf(out, "Sealing circuit %s: staging %d chain states\n",
		au.Bold(circuit.Prefix), circuit.WaitingQueue.CompletedContributions+1)
	r1csLocal := filepath.Join(dir, circuit.Prefix+".r1cs")
	if err := cl.DownloadObject(ctx, "", bucket, circuit.Files.R1CSStoragePath, r1csLocal); err != nil {
		return errors.Wrap(err, "could not stage the constraint system")
	}
	potLocal := filepath.Join(dir, circuit.Files.PotFilename)
	if err := cl.DownloadObject(ctx, "", bucket, circuit.Files.PotStoragePath, potLocal); err != nil {
		return errors.Wrap(err, "could not stage the powers of tau")
	}
	chain := make([]string, 0, circuit.WaitingQueue.CompletedContributions+1)
	for k := int64(0); k <= circuit.WaitingQueue.CompletedContributions; k++ {
		index := api.FormatZkeyIndex(k)
		local := filepath.Join(dir, api.ZkeyFilename(circuit.Prefix, index))
		if err := cl.DownloadObject(ctx, "", bucket,
			api.ZkeyStoragePath(ceremony.Prefix, circuit.Prefix, index), local); err != nil {
			return errors.Wrapf(err, "could not stage zkey %s", index)
		}
		chain = append(chain, local)
	}

	finalOut := mpc.FinalizeOutput{
		FinalZkeyPath:        filepath.Join(dir, api.ZkeyFilename(circuit.Prefix, types.FinalZkeyIndex)),
		VerificationKeyPath:  filepath.Join(dir, api.VerificationKeyFilename(circuit.Prefix)),
		SolidityVerifierPath: filepath.Join(dir, api.VerifierFilename(circuit.Prefix)),
	}
	beaconBytes, err := decodeBeacon(beacon)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Applying the beacon and re-verifying the chain of %s, do not interrupt\n", circuit.Prefix)
	start := mtime.NowMillis()
	if err := engine.Finalize(ctx, r1csLocal, potLocal, chain, beaconBytes, finalOut); err != nil {
		return errors.Wrap(err, "could not seal the contribution chain")
	}
	elapsed := mtime.NowMillis() - start
	finalHash, err := hashutil.Blake2bFile(finalOut.FinalZkeyPath)
	if err != nil {
		return err
	}

	finalKey := api.ZkeyStoragePath(ceremony.Prefix, circuit.Prefix, types.FinalZkeyIndex)
	if err := cl.UploadObject(ctx, "", bucket, finalKey, finalOut.FinalZkeyPath, nil); err != nil {
		return errors.Wrap(err, "could not upload the sealed zkey")
	}

	resp, err := cl.VerifyContribution(ctx, ceremony.ID, circuit.ID, &api.VerifyContributionRequest{
		ContributionTimeInMillis: elapsed,
		GHUsername:               handle,
		Beacon:                   beacon,
	})
	switch {
	case api.ErrCode(err) == api.CodeAlreadyExists:
		// An earlier run already got the seal verified; just make sure the
		// circuit commit landed.
		fmt.Fprintf(out, "Circuit %s already carries a verified seal\n", circuit.Prefix)
		return cl.FinalizeCircuit(ctx, ceremony.ID, circuit.ID, beacon)
	case err != nil:
		return err
	case !resp.Valid:
		return errors.New("the coordinator's replay of the chain did not reproduce the uploaded seal; " +
			"the final contribution document now needs manual repair before finalization can be retried")
	}
	if err := cl.StoreContributionMeta(ctx, ceremony.ID, elapsed, finalHash); err != nil {
		return err
	}
	if err := cl.FinalizeCircuit(ctx, ceremony.ID, circuit.ID, beacon); err != nil {
		return err
	}
	fmt.Fprintf(out, "Circuit %s sealed and verified in %s\n",
		circuit.Prefix, (time.Duration(resp.VerificationTimeInMillis) * time.Millisecond).Round(time.Millisecond))
	return nil
}

func decodeBeacon(beacon string) ([]byte, error) {
	if err := ValidateBeacon(beacon); err != nil {
		return nil, err
	}
	return hex.DecodeString(strings.TrimSpace(beacon))
}
