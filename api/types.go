package api

import "github.com/zkmpc/maestro/coordinator/types"

// Request and response payloads of the callable endpoints. Fields use the
// same camelCase names as the persisted documents.

// LoginRequest exchanges a provider access token for a session token.
type LoginRequest struct {
	GithubToken string `json:"githubToken"`
}

// LoginResponse carries the session token minted by the coordinator.
type LoginResponse struct {
	Token       string `json:"token"`
	UserID      string `json:"userId"`
	Handle      string `json:"handle"`
	Coordinator bool   `json:"coordinator"`
}

// SetupCeremonyRequest creates a ceremony and its circuits. The ceremony
// starts SCHEDULED; circuit artifacts are uploaded after the bucket is
// provisioned.
type SetupCeremonyRequest struct {
	Ceremony types.Ceremony  `json:"ceremony"`
	Circuits []types.Circuit `json:"circuits"`
}

// SetupCeremonyResponse returns the created ceremony id.
type SetupCeremonyResponse struct {
	CeremonyID string `json:"ceremonyId"`
}

// CreateBucketResponse returns the provisioned bucket name.
type CreateBucketResponse struct {
	BucketName string `json:"bucketName"`
}

// ListCeremoniesResponse enumerates ceremonies, optionally filtered by
// state.
type ListCeremoniesResponse struct {
	Ceremonies []*types.Ceremony `json:"ceremonies"`
}

// ListCircuitsResponse enumerates the circuits of one ceremony in sequence
// order.
type ListCircuitsResponse struct {
	Circuits []*types.Circuit `json:"circuits"`
}

// JoinResponse reports eligibility after CheckParticipantForCeremony.
type JoinResponse struct {
	CanContribute bool `json:"canContribute"`
}

// UploadIDRequest persists the in-flight multi-part upload id.
type UploadIDRequest struct {
	UploadID string `json:"uploadId"`
}

// ChunkRequest persists one acknowledged upload part.
type ChunkRequest struct {
	Chunk types.ChunkData `json:"chunk"`
}

// ContributionMetaRequest persists the contributor-computed time and hash
// of the candidate zkey before verification.
type ContributionMetaRequest struct {
	ContributionComputationTime int64  `json:"contributionComputationTime"`
	ContributionHash            string `json:"contributionHash"`
}

// VerifyContributionRequest asks the coordinator to verify the uploaded
// candidate zkey of the calling contributor. Beacon carries the hex beacon
// value when the finalizing coordinator submits the final zkey; it is empty
// for ordinary contributions.
type VerifyContributionRequest struct {
	ContributionTimeInMillis int64  `json:"contributionTimeInMillis"`
	GHUsername               string `json:"ghUsername"`
	Beacon                   string `json:"beacon,omitempty"`
}

// VerifyContributionResponse reports the durable verification outcome.
type VerifyContributionResponse struct {
	Valid                    bool  `json:"valid"`
	VerificationTimeInMillis int64 `json:"verificationTimeInMillis"`
}

// FinalizeCircuitRequest seals one circuit with the public beacon value.
type FinalizeCircuitRequest struct {
	Beacon string `json:"beacon"`
}

// PrepareFinalizationResponse reports whether the coordinator holds the
// FINALIZING status after the eligibility check.
type PrepareFinalizationResponse struct {
	Eligible bool `json:"eligible"`
}

// StartMultiPartUploadRequest opens a resumable upload. CeremonyID is empty
// for coordinator setup uploads, which have no participant slot to track.
type StartMultiPartUploadRequest struct {
	CeremonyID string `json:"ceremonyId,omitempty"`
	BucketName string `json:"bucketName"`
	ObjectKey  string `json:"objectKey"`
}

// StartMultiPartUploadResponse returns the upload id to sign parts under.
type StartMultiPartUploadResponse struct {
	UploadID string `json:"uploadId"`
}

// PreSignedUrlsPartsRequest signs PUT URLs for a contiguous range of parts.
type PreSignedUrlsPartsRequest struct {
	CeremonyID          string `json:"ceremonyId,omitempty"`
	BucketName          string `json:"bucketName"`
	ObjectKey           string `json:"objectKey"`
	UploadID            string `json:"uploadId"`
	NumberOfParts       int32  `json:"numberOfParts"`
	ExpirationInSeconds int64  `json:"expirationInSeconds"`
}

// PreSignedUrlsPartsResponse returns one URL per part, in part order.
type PreSignedUrlsPartsResponse struct {
	URLs []string `json:"urls"`
}

// CompleteMultiPartUploadRequest closes a resumable upload.
type CompleteMultiPartUploadRequest struct {
	CeremonyID string            `json:"ceremonyId,omitempty"`
	BucketName string            `json:"bucketName"`
	ObjectKey  string            `json:"objectKey"`
	UploadID   string            `json:"uploadId"`
	Parts      []types.ChunkData `json:"parts"`
}

// CompleteMultiPartUploadResponse returns the committed object location.
type CompleteMultiPartUploadResponse struct {
	Location string `json:"location"`
}

// DownloadURLRequest signs a GET URL for one object.
type DownloadURLRequest struct {
	CeremonyID string `json:"ceremonyId,omitempty"`
	BucketName string `json:"bucketName"`
	ObjectKey  string `json:"objectKey"`
}

// DownloadURLResponse returns the signed GET URL.
type DownloadURLResponse struct {
	URL string `json:"url"`
}

// Server-sent event stream names for the ceremony watch endpoint.
const (
	EventParticipant  = "participant"
	EventCircuit      = "circuit"
	EventContribution = "contribution"
	EventCeremony     = "ceremony"
)
