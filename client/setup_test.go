package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zkmpc/maestro/api"
	"github.com/zkmpc/maestro/coordinator/types"
	"github.com/zkmpc/maestro/crypto/hashutil"
	"github.com/zkmpc/maestro/io/file"
	"github.com/zkmpc/maestro/testing/assert"
	"github.com/zkmpc/maestro/testing/require"
)

// writeSetupArtifacts lays out a two-circuit manifest in a fresh directory,
// both circuits sharing one powers-of-tau file, plus the artifact files it
// points at. Returns the manifest path and the artifact bytes by filename.
func writeSetupArtifacts(t *testing.T) (string, map[string][]byte) {
	t.Helper()
	dir := t.TempDir()
	artifacts := map[string][]byte{
		"mul2.r1cs": []byte("r1cs header mul2"),
		"mul2.wasm": []byte("witness generator mul2"),
		"mul3.r1cs": []byte("r1cs header mul3"),
		"mul3.wasm": []byte("witness generator mul3"),
		"pot6.ptau": []byte("powers of tau 6"),
	}
	for name, data := range artifacts {
		require.NoError(t, file.WriteFile(filepath.Join(dir, name), data))
	}
	manifest := fmt.Sprintf(`title: Example ceremony
description: Trusted setup for the example circuits
prefix: example
startDate: %q
endDate: %q
penalty: 60
circuits:
  - name: Multiplier 2
    prefix: mul2
    sequencePosition: 1
    r1cs: mul2.r1cs
    wasm: mul2.wasm
    pot: pot6.ptau
  - name: Multiplier 3
    prefix: mul3
    sequencePosition: 2
    r1cs: mul3.r1cs
    wasm: mul3.wasm
    pot: pot6.ptau
`,
		time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		time.Now().Add(48*time.Hour).UTC().Format(time.RFC3339))
	path := filepath.Join(dir, "ceremony.yaml")
	require.NoError(t, file.WriteFile(path, []byte(manifest)))
	return path, artifacts
}

func TestLoadManifest_ResolvesRelativePaths(t *testing.T) {
	path, _ := writeSetupArtifacts(t)

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "Example ceremony", m.Title)
	assert.Equal(t, "example", m.Prefix)
	assert.Equal(t, int64(60), m.PenaltyMinutes)
	require.Equal(t, 2, len(m.Circuits))

	base := filepath.Dir(path)
	assert.Equal(t, filepath.Join(base, "mul2.r1cs"), m.Circuits[0].R1CS)
	assert.Equal(t, filepath.Join(base, "mul2.wasm"), m.Circuits[0].Wasm)
	assert.Equal(t, filepath.Join(base, "pot6.ptau"), m.Circuits[1].Pot)
	assert.Equal(t, int64(2), m.Circuits[1].SequencePosition)
}

func TestLoadManifest_RejectsBrokenManifests(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.r1cs", "a.wasm", "pot.ptau"} {
		require.NoError(t, file.WriteFile(filepath.Join(dir, name), []byte(name)))
	}
	header := "title: A\nprefix: a\nstartDate: \"2026-09-01T00:00:00Z\"\nendDate: \"2026-09-30T00:00:00Z\"\n"
	circuitBlock := `circuits:
  - name: A
    prefix: a
    sequencePosition: 1
    r1cs: a.r1cs
    wasm: a.wasm
    pot: pot.ptau
`
	tests := []struct {
		name     string
		manifest string
		wantErr  string
	}{
		{
			name:     "missing title and prefix",
			manifest: "startDate: \"2026-09-01T00:00:00Z\"\nendDate: \"2026-09-30T00:00:00Z\"\n" + circuitBlock,
			wantErr:  "needs a title and a prefix",
		},
		{
			name:     "free-form start date",
			manifest: "title: A\nprefix: a\nstartDate: tomorrow\nendDate: \"2026-09-30T00:00:00Z\"\n" + circuitBlock,
			wantErr:  "startDate must be RFC 3339",
		},
		{
			name:     "no circuits",
			manifest: header,
			wantErr:  "needs at least one circuit",
		},
		{
			name:     "artifact file missing",
			manifest: header + strings.Replace(circuitBlock, "a.r1cs", "missing.r1cs", 1),
			wantErr:  "does not exist",
		},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, fmt.Sprintf("manifest-%d.yaml", i))
			require.NoError(t, file.WriteFile(path, []byte(tt.manifest)))
			_, err := LoadManifest(path)
			require.ErrorContains(t, tt.wantErr, err)
		})
	}
}

func TestSetup_RegistersCeremonyAndUploadsArtifacts(t *testing.T) {
	f := setupFixture(t)
	cl := loginAs(t, f, coordinatorToken)
	manifestPath, artifacts := writeSetupArtifacts(t)
	m, err := LoadManifest(manifestPath)
	require.NoError(t, err)

	ctx := context.Background()
	out := &bytes.Buffer{}
	result, err := Setup(ctx, cl, f.engine, m, t.TempDir(), out)
	require.NoError(t, err)
	require.NotEqual(t, "", result.CeremonyID)
	assert.Equal(t, api.BucketName("example"), result.Bucket)
	assert.Equal(t, 2, result.Circuits)
	assert.Equal(t, true, strings.Contains(out.String(), "Setup complete."))

	created, err := f.db.Ceremony(ctx, result.CeremonyID)
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, types.CeremonyScheduled, created.State)
	assert.Equal(t, "github|coordinator", created.CoordinatorID)
	assert.Equal(t, types.CeremonyPhase2, created.Type)
	assert.Equal(t, types.TimeoutDynamic, created.TimeoutMechanism)
	assert.Equal(t, int64(60), created.PenaltyMinutes)

	circuits, err := f.db.Circuits(ctx, result.CeremonyID)
	require.NoError(t, err)
	require.Equal(t, 2, len(circuits))
	for i, circuit := range circuits {
		prefix := []string{"mul2", "mul3"}[i]
		require.Equal(t, prefix, circuit.Prefix)
		require.NotEqual(t, "", circuit.ID)
		assert.Equal(t, int64(i+1), circuit.SequencePosition)
		assert.Equal(t, "bn254", circuit.Metadata.Curve)
		assert.Equal(t, int64(64), circuit.Metadata.Constraints)
		assert.Equal(t, int64(6), circuit.Metadata.PotNeeded)
		assert.Equal(t, hashutil.Blake2b(artifacts[prefix+".r1cs"]), circuit.Files.R1CSBlake2bHash)
		assert.Equal(t, hashutil.Blake2b(artifacts[prefix+".wasm"]), circuit.Files.WasmBlake2bHash)
		assert.Equal(t, hashutil.Blake2b(artifacts["pot6.ptau"]), circuit.Files.PotBlake2bHash)
		assert.Equal(t, hashutil.Blake2b([]byte(genesisState)), circuit.Files.InitialZkeyBlake2bHash)
		assert.Equal(t, int64(0), circuit.WaitingQueue.CompletedContributions)
		assert.Equal(t, "", circuit.WaitingQueue.CurrentContributor)

		data, ok := f.store.Object(result.Bucket, api.R1CSStoragePath("example", prefix))
		require.Equal(t, true, ok)
		assert.Equal(t, true, bytes.Equal(artifacts[prefix+".r1cs"], data))
		data, ok = f.store.Object(result.Bucket, api.WasmStoragePath("example", prefix))
		require.Equal(t, true, ok)
		assert.Equal(t, true, bytes.Equal(artifacts[prefix+".wasm"], data))
		genesis, ok := f.store.Object(result.Bucket, api.ZkeyStoragePath("example", prefix, api.FormatZkeyIndex(0)))
		require.Equal(t, true, ok)
		assert.Equal(t, genesisState, string(genesis))
	}
	_, ok := f.store.Object(result.Bucket, api.PotStoragePath("example", "pot6.ptau"))
	require.Equal(t, true, ok)
	// The shared powers-of-tau file goes over the wire once: one part each
	// for it, the two constraint systems, the two witness generators and
	// the two genesis zkeys.
	assert.Equal(t, 7, f.store.PutRequests)

	// The prefix is now taken, so a rerun of the same manifest must be
	// rejected before anything uploads again.
	_, err = Setup(ctx, cl, f.engine, m, t.TempDir(), io.Discard)
	require.ErrorContains(t, "already taken", err)
	assert.Equal(t, 7, f.store.PutRequests)
}

func TestSetup_RequiresCoordinatorRole(t *testing.T) {
	f := setupFixture(t)
	cl := loginAs(t, f, aliceToken)
	manifestPath, _ := writeSetupArtifacts(t)
	m, err := LoadManifest(manifestPath)
	require.NoError(t, err)

	_, err = Setup(context.Background(), cl, f.engine, m, t.TempDir(), io.Discard)
	require.NotNil(t, err)
	assert.Equal(t, api.CodePermissionDenied, api.ErrCode(err))
}
