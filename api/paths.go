package api

import (
	"fmt"

	"github.com/zkmpc/maestro/config/params"
)

// Canonical object-store layout, relative to the ceremony bucket. Every
// writer and reader of ceremony artifacts goes through these builders so
// the paths stay bit-compatible across client and coordinator.

// BucketName derives the bucket of a ceremony from its prefix.
func BucketName(ceremonyPrefix string) string {
	return ceremonyPrefix + params.CeremonyConfig().CeremonyBucketPostfix
}

// PotStoragePath locates the powers-of-tau file of a circuit.
func PotStoragePath(ceremonyPrefix, potFilename string) string {
	return fmt.Sprintf("%s/ptau/%s", ceremonyPrefix, potFilename)
}

// R1CSStoragePath locates the constraint system of a circuit.
func R1CSStoragePath(ceremonyPrefix, circuitPrefix string) string {
	return fmt.Sprintf("%s/circuits/%s/%s.r1cs", ceremonyPrefix, circuitPrefix, circuitPrefix)
}

// WasmStoragePath locates the witness generator of a circuit.
func WasmStoragePath(ceremonyPrefix, circuitPrefix string) string {
	return fmt.Sprintf("%s/circuits/%s/%s.wasm", ceremonyPrefix, circuitPrefix, circuitPrefix)
}

// ZkeyFilename names the zkey produced at the given padded index, which may
// be the literal final index.
func ZkeyFilename(circuitPrefix, zkeyIndex string) string {
	return fmt.Sprintf("%s_%s.zkey", circuitPrefix, zkeyIndex)
}

// ZkeyStoragePath locates the zkey at the given padded index.
func ZkeyStoragePath(ceremonyPrefix, circuitPrefix, zkeyIndex string) string {
	return fmt.Sprintf("%s/circuits/%s/contributions/%s", ceremonyPrefix, circuitPrefix, ZkeyFilename(circuitPrefix, zkeyIndex))
}

// TranscriptFilename names the verification transcript of one contribution.
func TranscriptFilename(circuitPrefix, zkeyIndex, ghUsername string) string {
	return fmt.Sprintf("%s_%s_%s_verification_transcript.log", circuitPrefix, zkeyIndex, ghUsername)
}

// TranscriptStoragePath locates the verification transcript of one
// contribution.
func TranscriptStoragePath(ceremonyPrefix, circuitPrefix, zkeyIndex, ghUsername string) string {
	return fmt.Sprintf("%s/circuits/%s/transcripts/%s", ceremonyPrefix, circuitPrefix, TranscriptFilename(circuitPrefix, zkeyIndex, ghUsername))
}

// VerificationKeyFilename names the exported verification key of a
// finalized circuit.
func VerificationKeyFilename(circuitPrefix string) string {
	return fmt.Sprintf("%s_verification_key.json", circuitPrefix)
}

// VerificationKeyStoragePath locates the exported verification key of a
// finalized circuit.
func VerificationKeyStoragePath(ceremonyPrefix, circuitPrefix string) string {
	return fmt.Sprintf("%s/circuits/%s/%s", ceremonyPrefix, circuitPrefix, VerificationKeyFilename(circuitPrefix))
}

// VerifierFilename names the exported Solidity verifier of a finalized
// circuit.
func VerifierFilename(circuitPrefix string) string {
	return fmt.Sprintf("%s_verifier.sol", circuitPrefix)
}

// VerifierStoragePath locates the exported Solidity verifier of a finalized
// circuit.
func VerifierStoragePath(ceremonyPrefix, circuitPrefix string) string {
	return fmt.Sprintf("%s/circuits/%s/%s", ceremonyPrefix, circuitPrefix, VerifierFilename(circuitPrefix))
}

// AttestationFilename names the public attestation a participant publishes
// after completing a ceremony.
func AttestationFilename(ceremonyPrefix string) string {
	return fmt.Sprintf("%s_attestation.log", ceremonyPrefix)
}
