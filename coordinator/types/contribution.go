package types

// FinalZkeyIndex is the index literal carried by the finalizing beacon
// contribution instead of a zero-padded counter.
const FinalZkeyIndex = "final"

// ContributionFiles names the artifacts a verified contribution left in the
// object store. The verification-key and verifier entries are only set on
// the final contribution of a circuit.
type ContributionFiles struct {
	LastZkeyFilename    string `json:"lastZkeyFilename"`
	LastZkeyStoragePath string `json:"lastZkeyStoragePath"`
	LastZkeyBlake2bHash string `json:"lastZkeyBlake2bHash"`

	TranscriptFilename    string `json:"transcriptFilename"`
	TranscriptStoragePath string `json:"transcriptStoragePath"`
	TranscriptBlake2bHash string `json:"transcriptBlake2bHash"`

	VerificationKeyFilename    string `json:"verificationKeyFilename,omitempty"`
	VerificationKeyStoragePath string `json:"verificationKeyStoragePath,omitempty"`
	VerificationKeyBlake2bHash string `json:"verificationKeyBlake2bHash,omitempty"`

	VerifierFilename    string `json:"verifierFilename,omitempty"`
	VerifierStoragePath string `json:"verifierStoragePath,omitempty"`
	VerifierBlake2bHash string `json:"verifierBlake2bHash,omitempty"`
}

// Beacon records the public randomness sealing a finalized circuit.
type Beacon struct {
	Value string `json:"value"`
	Hash  string `json:"hash"`
}

// Contribution is the durable outcome of one verified contribution, valid
// or not. Invalid contributions stay in the record store as evidence; they
// are never deleted.
type Contribution struct {
	ID            string `json:"id"`
	ParticipantID string `json:"participantId"`
	// ZkeyIndex is the zero-padded one-based position of the produced zkey
	// in the contribution chain, or FinalZkeyIndex for the beacon seal.
	ZkeyIndex                   string            `json:"zkeyIndex"`
	ContributionComputationTime int64             `json:"contributionComputationTime"`
	VerificationComputationTime int64             `json:"verificationComputationTime"`
	Files                       ContributionFiles `json:"files"`
	Valid                       bool              `json:"valid"`
	Beacon                      *Beacon           `json:"beacon,omitempty"`
	LastUpdated                 int64             `json:"lastUpdated"`
}
