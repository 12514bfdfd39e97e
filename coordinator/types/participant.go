package types

// ParticipantStatus is the outer state of a contributor within one
// ceremony. The verification worker, queue coordinator and timeout
// controller all gate their actions on it.
type ParticipantStatus string

const (
	StatusCreated      ParticipantStatus = "CREATED"
	StatusWaiting      ParticipantStatus = "WAITING"
	StatusReady        ParticipantStatus = "READY"
	StatusContributing ParticipantStatus = "CONTRIBUTING"
	StatusContributed  ParticipantStatus = "CONTRIBUTED"
	StatusDone         ParticipantStatus = "DONE"
	StatusFinalizing   ParticipantStatus = "FINALIZING"
	StatusFinalized    ParticipantStatus = "FINALIZED"
	StatusTimedOut     ParticipantStatus = "TIMEDOUT"
	// StatusExhumed marks a participant whose timeout has expired and who
	// has been re-admitted but has not yet asked for a queue slot.
	StatusExhumed ParticipantStatus = "EXHUMED"
)

// ContributionStep is the inner sub-state while a participant holds the
// contribution slot of a circuit.
type ContributionStep string

const (
	StepDownloading ContributionStep = "DOWNLOADING"
	StepComputing   ContributionStep = "COMPUTING"
	StepUploading   ContributionStep = "UPLOADING"
	StepVerifying   ContributionStep = "VERIFYING"
	StepCompleted   ContributionStep = "COMPLETED"
)

// Next returns the step following s in the forward-only sub-machine, or s
// itself when s is terminal.
func (s ContributionStep) Next() ContributionStep {
	switch s {
	case StepDownloading:
		return StepComputing
	case StepComputing:
		return StepUploading
	case StepUploading:
		return StepVerifying
	case StepVerifying:
		return StepCompleted
	default:
		return s
	}
}

// ChunkData is one uploaded part of the in-flight multi-part upload,
// exactly as the object store acknowledged it.
type ChunkData struct {
	ETag       string `json:"ETag"`
	PartNumber int32  `json:"PartNumber"`
}

// TempContributionData survives client crashes during the UPLOADING step
// and lets a returning contributor resume the same multi-part upload.
type TempContributionData struct {
	ContributionComputationTime int64       `json:"contributionComputationTime"`
	UploadID                    string      `json:"uploadId"`
	Chunks                      []ChunkData `json:"chunks"`
}

// ContributionRef links a participant to one of its contribution documents.
// Doc is filled in by the post-verification refresher; the hash arrives
// earlier, straight from the contributor.
type ContributionRef struct {
	Doc             string `json:"doc,omitempty"`
	ComputationTime int64  `json:"computationTime,omitempty"`
	Hash            string `json:"hash,omitempty"`
}

// Participant is the per-ceremony record of one contributor.
type Participant struct {
	UserID string            `json:"userId"`
	Status ParticipantStatus `json:"status"`
	// ContributionProgress is the sequence position the participant is
	// working on: 0 before joining, N+1 after finishing all N circuits.
	ContributionProgress  int64                `json:"contributionProgress"`
	ContributionStep      ContributionStep     `json:"contributionStep,omitempty"`
	Contributions         []ContributionRef    `json:"contributions"`
	ContributionStartedAt int64                `json:"contributionStartedAt,omitempty"`
	VerificationStartedAt int64                `json:"verificationStartedAt,omitempty"`
	TempContributionData  TempContributionData `json:"tempContributionData,omitempty"`
	LastUpdated           int64                `json:"lastUpdated"`
}

// CurrentContributor reports whether the participant holds the slot of the
// given circuit right now.
func (p *Participant) CurrentContributor(c *Circuit) bool {
	return p.Status == StatusContributing &&
		p.ContributionProgress == c.SequencePosition &&
		c.WaitingQueue.CurrentContributor == p.UserID
}
