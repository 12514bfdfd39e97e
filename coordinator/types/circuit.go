package types

// CircuitMetadata mirrors the constraint-system header of the circuit so
// clients can size their work without downloading the R1CS first.
type CircuitMetadata struct {
	Curve         string `json:"curve"`
	Wires         int64  `json:"wires"`
	Constraints   int64  `json:"constraints"`
	PrivateInputs int64  `json:"privateInputs"`
	PublicInputs  int64  `json:"publicInputs"`
	// PotNeeded is the smallest power of tau covering the constraint count.
	PotNeeded int64 `json:"pot"`
}

// CircuitFiles records the storage paths and BLAKE2b-512 digests of the
// immutable per-circuit artifacts uploaded at setup time.
type CircuitFiles struct {
	R1CSFilename        string `json:"r1csFilename"`
	WasmFilename        string `json:"wasmFilename"`
	PotFilename         string `json:"potFilename"`
	InitialZkeyFilename string `json:"initialZkeyFilename"`

	R1CSStoragePath        string `json:"r1csStoragePath"`
	WasmStoragePath        string `json:"wasmStoragePath"`
	PotStoragePath         string `json:"potStoragePath"`
	InitialZkeyStoragePath string `json:"initialZkeyStoragePath"`

	R1CSBlake2bHash        string `json:"r1csBlake2bHash"`
	WasmBlake2bHash        string `json:"wasmBlake2bHash"`
	PotBlake2bHash         string `json:"potBlake2bHash"`
	InitialZkeyBlake2bHash string `json:"initialZkeyBlake2bHash"`
}

// CircuitTimings carries running averages, in milliseconds, over the valid
// contributions of a circuit. They feed the DYNAMIC timeout budget.
type CircuitTimings struct {
	ContributionComputation int64 `json:"contributionComputation"`
	FullContribution        int64 `json:"fullContribution"`
	VerifyContribution      int64 `json:"verifyContribution"`
}

// WaitingQueue is the FIFO of contributors racing for a circuit. The head
// of Contributors is always CurrentContributor while the queue is
// non-empty.
type WaitingQueue struct {
	Contributors           []string `json:"contributors"`
	CurrentContributor     string   `json:"currentContributor"`
	CompletedContributions int64    `json:"completedContributions"`
	FailedContributions    int64    `json:"failedContributions"`
}

// Circuit is one constraint system inside a ceremony. SequencePosition is
// unique and contiguous from 1 within the parent ceremony.
type Circuit struct {
	ID               string          `json:"id"`
	Prefix           string          `json:"prefix"`
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	SequencePosition int64           `json:"sequencePosition"`
	Metadata         CircuitMetadata `json:"metadata"`
	Files            CircuitFiles    `json:"files"`
	AvgTimings       CircuitTimings  `json:"avgTimings"`
	WaitingQueue     WaitingQueue    `json:"waitingQueue"`
	// DynamicThreshold overrides the global timeout tolerance rate when
	// positive. Percent.
	DynamicThreshold int64 `json:"dynamicThreshold"`
	// FixedTimeWindow is the FIXED-mechanism contribution window, minutes.
	FixedTimeWindow int64 `json:"fixedTimeWindow"`
	LastUpdated     int64 `json:"lastUpdated"`
}

// Queued reports whether the participant already sits in the waiting queue.
func (c *Circuit) Queued(participantID string) bool {
	for _, id := range c.WaitingQueue.Contributors {
		if id == participantID {
			return true
		}
	}
	return false
}
