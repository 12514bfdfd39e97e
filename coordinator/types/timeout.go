package types

// TimeoutType records why a participant was evicted from a waiting queue.
type TimeoutType string

const (
	// TimeoutBlockingContribution covers contributors who overran the
	// download/compute/upload budget.
	TimeoutBlockingContribution TimeoutType = "BLOCKING_CONTRIBUTION"
	// TimeoutBlockingCloudFunction covers contributors stuck in server-side
	// verification beyond its budget.
	TimeoutBlockingCloudFunction TimeoutType = "BLOCKING_CLOUD_FUNCTION"
)

// Timeout is the penalty record attached to an evicted participant. The
// participant may not rejoin before EndDate. At most one timeout per
// participant is active at any moment.
type Timeout struct {
	ID        string      `json:"id"`
	StartDate int64       `json:"startDate"`
	EndDate   int64       `json:"endDate"`
	Type      TimeoutType `json:"type"`
}

// Active reports whether the timeout still blocks the participant at the
// given Unix-millisecond instant.
func (t *Timeout) Active(nowMs int64) bool {
	return t.EndDate > nowMs
}
