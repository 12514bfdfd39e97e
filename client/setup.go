package client

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/zkmpc/maestro/api"
	"github.com/zkmpc/maestro/coordinator/types"
	"github.com/zkmpc/maestro/crypto/hashutil"
	"github.com/zkmpc/maestro/io/file"
	"github.com/zkmpc/maestro/mpc"
)

// Manifest is the yaml description a coordinator feeds to setup: the
// ceremony window and one entry per circuit pointing at the compiled
// artifacts on the local disk.
type Manifest struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Prefix      string `yaml:"prefix"`
	// StartDate and EndDate bound the contribution window, RFC 3339.
	StartDate string `yaml:"startDate"`
	EndDate   string `yaml:"endDate"`
	// TimeoutMechanism is DYNAMIC or FIXED. Empty means DYNAMIC.
	TimeoutMechanism string `yaml:"timeoutMechanismType"`
	// PenaltyMinutes is how long an evicted participant waits before
	// rejoining.
	PenaltyMinutes int64             `yaml:"penalty"`
	Circuits       []ManifestCircuit `yaml:"circuits"`
}

// ManifestCircuit describes one circuit of the manifest. R1CS, Wasm and Pot
// are local file paths, resolved against the manifest's own directory when
// relative.
type ManifestCircuit struct {
	Name             string `yaml:"name"`
	Description      string `yaml:"description"`
	Prefix           string `yaml:"prefix"`
	SequencePosition int64  `yaml:"sequencePosition"`
	R1CS             string `yaml:"r1cs"`
	Wasm             string `yaml:"wasm"`
	Pot              string `yaml:"pot"`
	// DynamicThreshold overrides the global timeout tolerance rate when
	// positive. Percent.
	DynamicThreshold int64 `yaml:"dynamicThreshold"`
	// FixedTimeWindow is the FIXED-mechanism contribution window, minutes.
	FixedTimeWindow int64 `yaml:"fixedTimeWindow"`
}

// LoadManifest reads and validates a ceremony manifest. Relative artifact
// paths resolve against the manifest file's directory.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := file.ReadFileAsBytes(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read manifest %s", path)
	}
	m := &Manifest{}
	if err := yaml.UnmarshalStrict(raw, m); err != nil {
		return nil, errors.Wrapf(err, "could not parse manifest %s", path)
	}
	base := filepath.Dir(path)
	for i := range m.Circuits {
		c := &m.Circuits[i]
		c.R1CS = resolvePath(base, c.R1CS)
		c.Wasm = resolvePath(base, c.Wasm)
		c.Pot = resolvePath(base, c.Pot)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func (m *Manifest) validate() error {
	if m.Title == "" || m.Prefix == "" {
		return errors.New("manifest needs a title and a prefix")
	}
	if _, err := time.Parse(time.RFC3339, m.StartDate); err != nil {
		return errors.Wrap(err, "startDate must be RFC 3339")
	}
	if _, err := time.Parse(time.RFC3339, m.EndDate); err != nil {
		return errors.Wrap(err, "endDate must be RFC 3339")
	}
	if len(m.Circuits) == 0 {
		return errors.New("manifest needs at least one circuit")
	}
	for i := range m.Circuits {
		c := &m.Circuits[i]
		if c.Prefix == "" {
			return errors.Errorf("circuit %d needs a prefix", i+1)
		}
		for _, artifact := range []struct{ kind, path string }{
			{"r1cs", c.R1CS},
			{"wasm", c.Wasm},
			{"pot", c.Pot},
		} {
			if artifact.path == "" {
				return errors.Errorf("circuit %s needs a %s file", c.Prefix, artifact.kind)
			}
			if !file.FileExists(artifact.path) {
				return errors.Errorf("circuit %s: %s file %s does not exist", c.Prefix, artifact.kind, artifact.path)
			}
		}
	}
	return nil
}

func (m *Manifest) window() (startMs, endMs int64, err error) {
	start, err := time.Parse(time.RFC3339, m.StartDate)
	if err != nil {
		return 0, 0, errors.Wrap(err, "startDate must be RFC 3339")
	}
	end, err := time.Parse(time.RFC3339, m.EndDate)
	if err != nil {
		return 0, 0, errors.Wrap(err, "endDate must be RFC 3339")
	}
	return start.UnixMilli(), end.UnixMilli(), nil
}

// SetupResult reports what a setup run created.
type SetupResult struct {
	CeremonyID string
	Bucket     string
	Circuits   int
}

// Setup runs the whole coordinator setup pipeline: inspect and hash every
// circuit artifact, derive the genesis zkeys, register the ceremony, create
// its bucket and upload the artifacts to their canonical paths. Local work
// runs first so a bad manifest never leaves a half-registered ceremony
// behind.
func Setup(ctx context.Context, cl *Client, engine mpc.Engine, m *Manifest, scratchDir string, out io.Writer) (*SetupResult, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	startMs, endMs, err := m.window()
	if err != nil {
		return nil, err
	}
	if err := file.MkdirAll(scratchDir); err != nil {
		return nil, err
	}

	circuits := make([]types.Circuit, 0, len(m.Circuits))
	genesis := make(map[string]string, len(m.Circuits))
	for i := range m.Circuits {
		mc := &m.Circuits[i]
		fmt.Fprintf(out, "Inspecting circuit %s\n", au.Bold(mc.Prefix))
		info, err := engine.Inspect(ctx, mc.R1CS)
		if err != nil {
			return nil, errors.Wrapf(err, "could not inspect circuit %s", mc.Prefix)
		}
		genesisLocal := filepath.Join(scratchDir, api.ZkeyFilename(mc.Prefix, api.FormatZkeyIndex(0)))
		fmt.Fprintf(out, "Deriving the genesis zkey of %s (%d constraints, needs pot %d)\n",
			mc.Prefix, info.Constraints, info.PotNeeded)
		if err := engine.InitZkey(ctx, mc.R1CS, mc.Pot, genesisLocal); err != nil {
			return nil, errors.Wrapf(err, "could not derive the genesis zkey of circuit %s", mc.Prefix)
		}
		genesis[mc.Prefix] = genesisLocal

		circuit, err := buildCircuit(m.Prefix, mc, info, genesisLocal)
		if err != nil {
			return nil, err
		}
		circuits = append(circuits, *circuit)
	}

	ceremonyID, err := cl.SetupCeremony(ctx, &api.SetupCeremonyRequest{
		Ceremony: types.Ceremony{
			Prefix:           m.Prefix,
			Title:            m.Title,
			Description:      m.Description,
			StartDate:        startMs,
			EndDate:          endMs,
			Type:             types.CeremonyPhase2,
			TimeoutMechanism: types.TimeoutMechanismType(m.TimeoutMechanism),
			PenaltyMinutes:   m.PenaltyMinutes,
		},
		Circuits: circuits,
	})
	if err != nil {
		return nil, err
	}
	bucket, err := cl.CreateBucket(ctx, ceremonyID)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "Ceremony %s registered, bucket %s provisioned\n", au.Bold(m.Prefix), bucket)

	// Pot files are frequently shared between circuits; upload each
	// filename once.
	uploadedPots := make(map[string]bool)
	for i := range m.Circuits {
		mc := &m.Circuits[i]
		circuit := &circuits[i]
		if !uploadedPots[circuit.Files.PotFilename] {
			if err := cl.UploadObject(ctx, "", bucket, circuit.Files.PotStoragePath, mc.Pot, nil); err != nil {
				return nil, errors.Wrapf(err, "could not upload the powers of tau of circuit %s", mc.Prefix)
			}
			uploadedPots[circuit.Files.PotFilename] = true
		}
		if err := cl.UploadObject(ctx, "", bucket, circuit.Files.R1CSStoragePath, mc.R1CS, nil); err != nil {
			return nil, errors.Wrapf(err, "could not upload the constraint system of circuit %s", mc.Prefix)
		}
		if err := cl.UploadObject(ctx, "", bucket, circuit.Files.WasmStoragePath, mc.Wasm, nil); err != nil {
			return nil, errors.Wrapf(err, "could not upload the witness generator of circuit %s", mc.Prefix)
		}
		if err := cl.UploadObject(ctx, "", bucket, circuit.Files.InitialZkeyStoragePath, genesis[mc.Prefix], nil); err != nil {
			return nil, errors.Wrapf(err, "could not upload the genesis zkey of circuit %s", mc.Prefix)
		}
	}
	fmt.Fprintf(out, "%s The ceremony opens at %s\n", au.Green("Setup complete."), m.StartDate)
	return &SetupResult{CeremonyID: ceremonyID, Bucket: bucket, Circuits: len(circuits)}, nil
}

// buildCircuit assembles the circuit document: constraint header, canonical
// storage paths and the BLAKE2b digests pinning every immutable artifact.
func buildCircuit(ceremonyPrefix string, mc *ManifestCircuit, info *mpc.CircuitInfo, genesisLocal string) (*types.Circuit, error) {
	r1csHash, err := hashutil.Blake2bFile(mc.R1CS)
	if err != nil {
		return nil, errors.Wrapf(err, "could not hash %s", mc.R1CS)
	}
	wasmHash, err := hashutil.Blake2bFile(mc.Wasm)
	if err != nil {
		return nil, errors.Wrapf(err, "could not hash %s", mc.Wasm)
	}
	potHash, err := hashutil.Blake2bFile(mc.Pot)
	if err != nil {
		return nil, errors.Wrapf(err, "could not hash %s", mc.Pot)
	}
	genesisHash, err := hashutil.Blake2bFile(genesisLocal)
	if err != nil {
		return nil, errors.Wrapf(err, "could not hash %s", genesisLocal)
	}
	potFilename := filepath.Base(mc.Pot)
	firstIndex := api.FormatZkeyIndex(0)
	return &types.Circuit{
		Prefix:           mc.Prefix,
		Name:             mc.Name,
		Description:      mc.Description,
		SequencePosition: mc.SequencePosition,
		Metadata: types.CircuitMetadata{
			Curve:         info.Curve,
			Wires:         info.Wires,
			Constraints:   info.Constraints,
			PrivateInputs: info.PrivateInputs,
			PublicInputs:  info.PublicInputs,
			PotNeeded:     info.PotNeeded,
		},
		Files: types.CircuitFiles{
			R1CSFilename:        mc.Prefix + ".r1cs",
			WasmFilename:        mc.Prefix + ".wasm",
			PotFilename:         potFilename,
			InitialZkeyFilename: api.ZkeyFilename(mc.Prefix, firstIndex),

			R1CSStoragePath:        api.R1CSStoragePath(ceremonyPrefix, mc.Prefix),
			WasmStoragePath:        api.WasmStoragePath(ceremonyPrefix, mc.Prefix),
			PotStoragePath:         api.PotStoragePath(ceremonyPrefix, potFilename),
			InitialZkeyStoragePath: api.ZkeyStoragePath(ceremonyPrefix, mc.Prefix, firstIndex),

			R1CSBlake2bHash:        r1csHash,
			WasmBlake2bHash:        wasmHash,
			PotBlake2bHash:         potHash,
			InitialZkeyBlake2bHash: genesisHash,
		},
		DynamicThreshold: mc.DynamicThreshold,
		FixedTimeWindow:  mc.FixedTimeWindow,
	}, nil
}
