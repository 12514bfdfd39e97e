package client

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/zkmpc/maestro/api"
	"github.com/zkmpc/maestro/coordinator/types"
	"github.com/zkmpc/maestro/crypto/hashutil"
	"github.com/zkmpc/maestro/testing/assert"
	"github.com/zkmpc/maestro/testing/require"
	mtime "github.com/zkmpc/maestro/time"
)

// testBeacon is 32 bytes of hex, comfortably over the minimum.
const testBeacon = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

// chainTipState is the one verified contribution sitting on top of the
// genesis zkey in every seeded circuit.
func chainTipState() string {
	return "zkey 1 " + hashutil.Blake2b([]byte(genesisState))
}

// expectedSeal computes the sealed zkey content the engine double derives
// from the chain tip and the beacon bytes.
func expectedSeal(t *testing.T, beacon string) string {
	t.Helper()
	beaconBytes, err := hex.DecodeString(beacon)
	require.NoError(t, err)
	return "final " + hashutil.Blake2b(append([]byte(chainTipState()), beaconBytes...))
}

// seedClosedCeremonyWithChain persists a closed ceremony whose circuits each
// carry one verified contribution by the coordinator, with the full zkey
// chain and the immutable artifacts already in the bucket. The coordinator
// sits at CONTRIBUTED with full progress, ready to finalize.
func seedClosedCeremonyWithChain(t *testing.T, f *fixture, circuitPrefixes ...string) {
	t.Helper()
	ctx := context.Background()
	now := mtime.NowMillis()
	require.NoError(t, f.db.SaveCeremony(ctx, &types.Ceremony{
		ID: "ceremony-1", Prefix: "example", Title: "Example ceremony",
		State:            types.CeremonyClosed,
		StartDate:        now - 7_200_000,
		EndDate:          now - 3_600_000,
		CoordinatorID:    "github|coordinator",
		Type:             types.CeremonyPhase2,
		TimeoutMechanism: types.TimeoutDynamic,
		PenaltyMinutes:   60,
	}))
	bucket := api.BucketName("example")
	require.NoError(t, f.store.CreateBucket(ctx, bucket))

	tip := chainTipState()
	refs := make([]types.ContributionRef, 0, len(circuitPrefixes))
	for i, prefix := range circuitPrefixes {
		seq := int64(i + 1)
		circuitID := fmt.Sprintf("circuit-%d", seq)
		require.NoError(t, f.db.SaveCircuit(ctx, "ceremony-1", &types.Circuit{
			ID: circuitID, Prefix: prefix, Name: prefix,
			SequencePosition: seq,
			Files: types.CircuitFiles{
				R1CSStoragePath:        api.R1CSStoragePath("example", prefix),
				PotFilename:            "pot6.ptau",
				PotStoragePath:         api.PotStoragePath("example", "pot6.ptau"),
				InitialZkeyStoragePath: api.ZkeyStoragePath("example", prefix, api.FormatZkeyIndex(0)),
			},
			WaitingQueue: types.WaitingQueue{CompletedContributions: 1},
		}))
		require.NoError(t, f.store.Upload(ctx, bucket,
			api.R1CSStoragePath("example", prefix), strings.NewReader("r1cs header "+prefix)))
		require.NoError(t, f.store.Upload(ctx, bucket,
			api.PotStoragePath("example", "pot6.ptau"), strings.NewReader("powers of tau 6")))
		require.NoError(t, f.store.Upload(ctx, bucket,
			api.ZkeyStoragePath("example", prefix, api.FormatZkeyIndex(0)), strings.NewReader(genesisState)))
		require.NoError(t, f.store.Upload(ctx, bucket,
			api.ZkeyStoragePath("example", prefix, api.FormatZkeyIndex(1)), strings.NewReader(tip)))
		doc := &types.Contribution{
			ID:                          fmt.Sprintf("contribution-%d", seq),
			ParticipantID:               "github|coordinator",
			ZkeyIndex:                   api.FormatZkeyIndex(1),
			ContributionComputationTime: 1000,
			Valid:                       true,
			Files: types.ContributionFiles{
				LastZkeyStoragePath: api.ZkeyStoragePath("example", prefix, api.FormatZkeyIndex(1)),
				LastZkeyBlake2bHash: hashutil.Blake2b([]byte(tip)),
			},
			LastUpdated: now,
		}
		require.NoError(t, f.db.SaveContribution(ctx, "ceremony-1", circuitID, doc))
		refs = append(refs, types.ContributionRef{
			Doc:             doc.ID,
			ComputationTime: 1000,
			Hash:            hashutil.Blake2b([]byte(tip)),
		})
	}
	require.NoError(t, f.db.SaveParticipant(ctx, "ceremony-1", &types.Participant{
		UserID:               "github|coordinator",
		Status:               types.StatusContributed,
		ContributionProgress: int64(len(circuitPrefixes)) + 1,
		Contributions:        refs,
		LastUpdated:          now,
	}))
}

func TestFinalize_SealsTheCeremony(t *testing.T) {
	f := setupFixture(t)
	seedClosedCeremonyWithChain(t, f, "mul2")
	cl := loginAs(t, f, coordinatorToken)
	ctx := context.Background()

	out := &bytes.Buffer{}
	result, err := Finalize(ctx, cl, f.engine, "ceremony-1", testBeacon, "coordinator", t.TempDir(), out)
	require.NoError(t, err)
	assert.Equal(t, "ceremony-1", result.CeremonyID)
	assert.Equal(t, 1, result.Circuits)
	assert.Equal(t, true, strings.Contains(out.String(), "Sealing circuit mul2"))
	assert.Equal(t, true, strings.Contains(out.String(), "Ceremony finalized."))

	sealed, err := f.db.Ceremony(ctx, "ceremony-1")
	require.NoError(t, err)
	assert.Equal(t, types.CeremonyFinalized, sealed.State)

	wantSeal := expectedSeal(t, testBeacon)
	p, err := f.db.Participant(ctx, "ceremony-1", "github|coordinator")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, types.StatusFinalized, p.Status)
	require.Equal(t, 2, len(p.Contributions))
	assert.Equal(t, hashutil.Blake2b([]byte(wantSeal)), p.Contributions[1].Hash)
	require.NotEqual(t, "", p.Contributions[1].Doc)

	docs, err := f.db.Contributions(ctx, "ceremony-1", "circuit-1")
	require.NoError(t, err)
	require.Equal(t, 2, len(docs))
	final := docs[1]
	require.Equal(t, types.FinalZkeyIndex, final.ZkeyIndex)
	assert.Equal(t, true, final.Valid)
	require.NotNil(t, final.Beacon)
	assert.Equal(t, testBeacon, final.Beacon.Value)
	assert.Equal(t, hashutil.Blake2b([]byte(wantSeal)), final.Files.LastZkeyBlake2bHash)
	assert.Equal(t, final.ID, p.Contributions[1].Doc)

	bucket := api.BucketName("example")
	finalZkey, ok := f.store.Object(bucket, api.ZkeyStoragePath("example", "mul2", types.FinalZkeyIndex))
	require.Equal(t, true, ok)
	assert.Equal(t, wantSeal, string(finalZkey))
	vk, ok := f.store.Object(bucket, api.VerificationKeyStoragePath("example", "mul2"))
	require.Equal(t, true, ok)
	assert.Equal(t, true, strings.Contains(string(vk), `"protocol":"groth16"`))
	sol, ok := f.store.Object(bucket, api.VerifierStoragePath("example", "mul2"))
	require.Equal(t, true, ok)
	assert.Equal(t, true, strings.Contains(string(sol), "pragma solidity"))
	_, ok = f.store.Object(bucket, api.TranscriptStoragePath("example", "mul2", types.FinalZkeyIndex, "coordinator"))
	require.Equal(t, true, ok)

	// Only the sealed zkey itself travels over pre-signed uploads; the
	// verification key and the verifier publish on the coordinator side.
	assert.Equal(t, 1, f.store.PutRequests)
}

func TestFinalize_SkipsCircuitsSealedByAnEarlierRun(t *testing.T) {
	f := setupFixture(t)
	seedClosedCeremonyWithChain(t, f, "mul2", "mul3")
	ctx := context.Background()

	// An earlier run sealed circuit 1 and crashed before reaching circuit
	// 2: the verified final contribution is recorded and linked, and the
	// coordinator is still FINALIZING.
	seal := expectedSeal(t, testBeacon)
	beaconBytes, err := hex.DecodeString(testBeacon)
	require.NoError(t, err)
	require.NoError(t, f.db.SaveContribution(ctx, "ceremony-1", "circuit-1", &types.Contribution{
		ID:            "final-1",
		ParticipantID: "github|coordinator",
		ZkeyIndex:     types.FinalZkeyIndex,
		Valid:         true,
		Beacon:        &types.Beacon{Value: testBeacon, Hash: hashutil.Blake2b(beaconBytes)},
		Files: types.ContributionFiles{
			LastZkeyStoragePath: api.ZkeyStoragePath("example", "mul2", types.FinalZkeyIndex),
			LastZkeyBlake2bHash: hashutil.Blake2b([]byte(seal)),
		},
		LastUpdated: mtime.NowMillis(),
	}))
	p, err := f.db.Participant(ctx, "ceremony-1", "github|coordinator")
	require.NoError(t, err)
	require.NotNil(t, p)
	p.Status = types.StatusFinalizing
	p.Contributions = append(p.Contributions, types.ContributionRef{
		Doc: "final-1", ComputationTime: 900, Hash: hashutil.Blake2b([]byte(seal)),
	})
	require.NoError(t, f.db.SaveParticipant(ctx, "ceremony-1", p))

	cl := loginAs(t, f, coordinatorToken)
	out := &bytes.Buffer{}
	result, err := Finalize(ctx, cl, f.engine, "ceremony-1", testBeacon, "coordinator", t.TempDir(), out)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Circuits)
	assert.Equal(t, true, strings.Contains(out.String(), "Circuit mul2 is already sealed"))
	assert.Equal(t, true, strings.Contains(out.String(), "Sealing circuit mul3"))

	sealed, err := f.db.Ceremony(ctx, "ceremony-1")
	require.NoError(t, err)
	assert.Equal(t, types.CeremonyFinalized, sealed.State)
	docs, err := f.db.Contributions(ctx, "ceremony-1", "circuit-2")
	require.NoError(t, err)
	require.Equal(t, 2, len(docs))
	assert.Equal(t, types.FinalZkeyIndex, docs[1].ZkeyIndex)
	assert.Equal(t, true, docs[1].Valid)

	// The pre-sealed circuit uploads nothing; only circuit 2's seal goes
	// over the wire.
	assert.Equal(t, 1, f.store.PutRequests)
}

func TestFinalize_RequiresFullContribution(t *testing.T) {
	f := setupFixture(t)
	seedClosedCeremonyWithChain(t, f, "mul2")
	ctx := context.Background()
	p, err := f.db.Participant(ctx, "ceremony-1", "github|coordinator")
	require.NoError(t, err)
	require.NotNil(t, p)
	p.Status = types.StatusCreated
	p.ContributionProgress = 0
	p.Contributions = nil
	require.NoError(t, f.db.SaveParticipant(ctx, "ceremony-1", p))

	cl := loginAs(t, f, coordinatorToken)
	_, err = Finalize(ctx, cl, f.engine, "ceremony-1", testBeacon, "coordinator", t.TempDir(), io.Discard)
	require.ErrorContains(t, "must contribute to every circuit", err)
}

func TestFinalize_RejectsBadInput(t *testing.T) {
	f := setupFixture(t)
	seedOpenedCeremony(t, f, "mul2")
	cl := loginAs(t, f, coordinatorToken)
	ctx := context.Background()

	_, err := Finalize(ctx, cl, f.engine, "ceremony-1", "not-hex", "coordinator", t.TempDir(), io.Discard)
	require.ErrorContains(t, "beacon must be a hex string", err)

	_, err = Finalize(ctx, cl, f.engine, "ceremony-1", "abcd", "coordinator", t.TempDir(), io.Discard)
	require.ErrorContains(t, "at least 16 bytes", err)

	_, err = Finalize(ctx, cl, f.engine, "ceremony-1", testBeacon, "coordinator", t.TempDir(), io.Discard)
	require.ErrorContains(t, "only a closed ceremony can be finalized", err)
}
