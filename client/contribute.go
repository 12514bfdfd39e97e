package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/zkmpc/maestro/api"
	"github.com/zkmpc/maestro/config/params"
	"github.com/zkmpc/maestro/coordinator/types"
	"github.com/zkmpc/maestro/crypto/hashutil"
	"github.com/zkmpc/maestro/io/file"
	"github.com/zkmpc/maestro/mpc"
	mtime "github.com/zkmpc/maestro/time"
)

// defaultPollInterval paces the snapshot reads of the contribution loop when
// no server-sent event wakes it earlier.
const defaultPollInterval = 10 * time.Second

// Contributor drives one participant through every circuit of a ceremony:
// join, wait for the queue slot, then download, compute, upload and request
// verification, circuit after circuit, until the participant record settles
// as done. The persisted participant document is the only state machine; the
// loop just reads the snapshot and performs whatever step it names, so a
// killed client resumes by running again.
type Contributor struct {
	Client *Client
	Engine mpc.Engine
	// Handle is the provider login name, stamped into transcript paths and
	// the attestation.
	Handle string
	// WorkDir roots the local ceremony artifacts, one subdirectory per
	// ceremony prefix.
	WorkDir string
	// Publisher, when set, posts the attestation once the last circuit is
	// done.
	Publisher Publisher
	// Entropy is optional keyboard randomness typed at the prompt. The
	// contribution secret is drawn by the primitive itself; only a BLAKE2b
	// commitment to the typed value is carried, into the attestation.
	Entropy string
	// PollInterval overrides the snapshot cadence. Zero means the default.
	PollInterval time.Duration
	// Out receives user-facing progress lines. Nil means stdout.
	Out io.Writer

	lastLine string
}

// progressState is the client-local bookkeeping of one in-flight
// contribution, written right after the computation finishes. It survives a
// crash between the computing and verifying steps, where the reported
// computation time and hash would otherwise be lost.
type progressState struct {
	ZkeyIndex       string `json:"zkeyIndex"`
	ComputationTime int64  `json:"computationTime"`
	Hash            string `json:"hash"`
}

// Run joins the ceremony and works the contribution loop until the
// participant reaches a terminal state or ctx is canceled.
func (r *Contributor) Run(ctx context.Context, ceremonyID string) error {
	if r.Client == nil || r.Engine == nil {
		return errors.New("contributor needs a client and an engine")
	}
	ceremony, err := r.Client.Ceremony(ctx, ceremonyID)
	if err != nil {
		return err
	}
	canContribute, err := r.Client.Join(ctx, ceremonyID)
	if err != nil {
		return err
	}
	p, err := r.Client.Self(ctx, ceremonyID)
	if err != nil {
		return err
	}
	if !canContribute {
		// A refused CONTRIBUTING participant is this account's own crashed
		// session still holding the slot: pick the persisted step back up
		// before the watchdog evicts it.
		if p.Status != types.StatusContributing {
			return r.explainRefusal(ctx, ceremony, p)
		}
		fmt.Fprintln(r.out(), "Resuming the contribution from where the previous session stopped")
	}
	switch {
	case p.Status == types.StatusCreated && p.ContributionProgress == 0:
		if err := r.Client.ProgressToNextCircuit(ctx, ceremonyID); err != nil {
			return err
		}
		fmt.Fprintf(r.out(), "Joined the %s ceremony\n", au.Bold(ceremony.Title))
	case p.Status == types.StatusExhumed:
		if err := r.Client.Resume(ctx, ceremonyID); err != nil {
			return err
		}
		fmt.Fprintln(r.out(), "Timeout penalty expired, re-entering the waiting queue")
	}

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	updates := r.Client.Watch(watchCtx, ceremonyID)
	participants, circuits := updates.Participants, updates.Circuits

	ticker := time.NewTicker(r.poll())
	defer ticker.Stop()
	for {
		done, acted, err := r.advance(ctx, ceremony)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if acted {
			// A step just completed; the next one is likely ready now.
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case _, ok := <-participants:
			if !ok {
				// The event stream dropped; the poll ticker keeps the
				// loop moving until the next run re-subscribes.
				participants, circuits = nil, nil
			}
		case _, ok := <-circuits:
			if !ok {
				participants, circuits = nil, nil
			}
		}
	}
}

// advance reads the participant snapshot and performs the one action it
// calls for. It reports done when a terminal state is reached and acted when
// a step completed, so the caller can skip the wait.
func (r *Contributor) advance(ctx context.Context, ceremony *types.Ceremony) (done, acted bool, err error) {
	p, err := r.Client.Self(ctx, ceremony.ID)
	if err != nil {
		return false, false, err
	}
	switch p.Status {
	case types.StatusWaiting:
		if err := r.reportQueuePosition(ctx, ceremony, p); err != nil {
			return false, false, err
		}
		return false, false, nil
	case types.StatusContributing:
		acted, err := r.contributeStep(ctx, ceremony, p)
		return false, acted, err
	case types.StatusContributed, types.StatusDone:
		if err := r.finish(ctx, ceremony, p); err != nil {
			return false, false, err
		}
		return true, false, nil
	case types.StatusFinalizing:
		fmt.Fprintln(r.out(), "You are prepared for finalization; run the coordinator finalize command")
		return true, false, nil
	case types.StatusFinalized:
		fmt.Fprintln(r.out(), "The ceremony is finalized, nothing left to contribute")
		return true, false, nil
	case types.StatusTimedOut:
		return true, false, errors.Errorf(
			"the contribution window was exceeded and the slot was released; retry after the penalty window (%s)",
			penaltyWindow(ceremony))
	default:
		// CREATED, READY and EXHUMED wait for the queue coordinator.
		return false, false, nil
	}
}

// contributeStep performs the sub-step the participant document names. Every
// branch is safe to re-run: a client killed mid-step picks up where the
// persisted record says it was.
func (r *Contributor) contributeStep(ctx context.Context, ceremony *types.Ceremony, p *types.Participant) (bool, error) {
	circuits, err := r.Client.Circuits(ctx, ceremony.ID)
	if err != nil {
		return false, err
	}
	circuit := circuitAt(circuits, p.ContributionProgress)
	if circuit == nil {
		return false, errors.Errorf("ceremony %s has no circuit at sequence position %d", ceremony.ID, p.ContributionProgress)
	}
	dir := filepath.Join(r.WorkDir, ceremony.Prefix)
	if err := file.MkdirAll(dir); err != nil {
		return false, err
	}
	bucket := api.BucketName(ceremony.Prefix)

	switch p.ContributionStep {
	case types.StepDownloading:
		r.announce(fmt.Sprintf("Circuit %d of %d (%s): contribution slot granted",
			circuit.SequencePosition, len(circuits), circuit.Name))
		if err := r.downloadTip(ctx, ceremony, circuit, bucket, dir); err != nil {
			return false, err
		}
		return true, r.Client.ProgressToNextStep(ctx, ceremony.ID)
	case types.StepComputing:
		if err := r.compute(ctx, ceremony, circuit, bucket, dir); err != nil {
			return false, err
		}
		return true, r.Client.ProgressToNextStep(ctx, ceremony.ID)
	case types.StepUploading:
		if err := r.upload(ctx, ceremony, circuit, p, bucket, dir); err != nil {
			return false, err
		}
		return true, r.Client.ProgressToNextStep(ctx, ceremony.ID)
	case types.StepVerifying:
		return r.requestVerification(ctx, ceremony, circuit, p, dir)
	default:
		// COMPLETED: the verification landed and the queue coordinator is
		// settling the document.
		return false, nil
	}
}

// downloadTip fetches the newest verified zkey of the circuit, which the
// contribution extends.
func (r *Contributor) downloadTip(ctx context.Context, ceremony *types.Ceremony, circuit *types.Circuit, bucket, dir string) error {
	tip := api.FormatZkeyIndex(circuit.WaitingQueue.CompletedContributions)
	local := filepath.Join(dir, api.ZkeyFilename(circuit.Prefix, tip))
	return r.Client.DownloadObject(ctx, ceremony.ID, bucket,
		api.ZkeyStoragePath(ceremony.Prefix, circuit.Prefix, tip), local)
}

// compute extends the downloaded zkey with fresh randomness and records the
// computation time and digest locally so a later crash cannot lose them.
func (r *Contributor) compute(ctx context.Context, ceremony *types.Ceremony, circuit *types.Circuit, bucket, dir string) error {
	prevIndex := api.FormatZkeyIndex(circuit.WaitingQueue.CompletedContributions)
	nextIndex := api.FormatZkeyIndex(circuit.WaitingQueue.CompletedContributions + 1)
	prevLocal := filepath.Join(dir, api.ZkeyFilename(circuit.Prefix, prevIndex))
	if !file.FileExists(prevLocal) {
		// The previous session was killed after advancing past DOWNLOADING
		// but the artifact is gone; fetch it again.
		if err := r.downloadTip(ctx, ceremony, circuit, bucket, dir); err != nil {
			return err
		}
	}
	nextLocal := filepath.Join(dir, api.ZkeyFilename(circuit.Prefix, nextIndex))

	fmt.Fprintf(r.out(), "Computing contribution %s of circuit %s, do not interrupt\n", nextIndex, au.Bold(circuit.Prefix))
	start := mtime.NowMillis()
	if err := r.Engine.Contribute(ctx, prevLocal, nextLocal); err != nil {
		return errors.Wrap(err, "could not compute the contribution")
	}
	elapsed := mtime.NowMillis() - start
	hash, err := hashutil.Blake2bFile(nextLocal)
	if err != nil {
		return err
	}
	if err := saveProgress(dir, circuit.Prefix, &progressState{
		ZkeyIndex:       nextIndex,
		ComputationTime: elapsed,
		Hash:            hash,
	}); err != nil {
		return err
	}
	fmt.Fprintf(r.out(), "Contribution computed in %s\n", au.Green((time.Duration(elapsed) * time.Millisecond).Round(time.Millisecond)))
	fmt.Fprintf(r.out(), "Contribution hash (blake2b-512):\n%s\n", hash)
	return nil
}

// upload streams the computed zkey into the ceremony bucket and stores the
// computation time and hash on the participant document. The participant's
// temp data resumes an interrupted multi-part upload.
func (r *Contributor) upload(ctx context.Context, ceremony *types.Ceremony, circuit *types.Circuit, p *types.Participant, bucket, dir string) error {
	nextIndex := api.FormatZkeyIndex(circuit.WaitingQueue.CompletedContributions + 1)
	nextLocal := filepath.Join(dir, api.ZkeyFilename(circuit.Prefix, nextIndex))
	state, err := loadProgress(dir, circuit.Prefix)
	if err != nil {
		return err
	}
	if state == nil || state.ZkeyIndex != nextIndex || !file.FileExists(nextLocal) {
		return errors.Errorf("the computed contribution for circuit %s is no longer on disk; "+
			"the slot will be released when the contribution window expires", circuit.Prefix)
	}
	var temp *types.TempContributionData
	if p.TempContributionData.UploadID != "" {
		temp = &p.TempContributionData
	}
	key := api.ZkeyStoragePath(ceremony.Prefix, circuit.Prefix, nextIndex)
	if err := r.Client.UploadObject(ctx, ceremony.ID, bucket, key, nextLocal, temp); err != nil {
		return err
	}
	// ContributionComputationTime lands on the document together with the
	// permanent time and hash record, so a non-zero value means an earlier
	// session already stored them.
	if p.TempContributionData.ContributionComputationTime == 0 {
		if err := r.Client.StoreContributionMeta(ctx, ceremony.ID, state.ComputationTime, state.Hash); err != nil {
			return err
		}
	}
	return nil
}

// requestVerification asks the coordinator to verify the uploaded zkey. The
// call blocks while the verification runs server-side; a re-run after an
// already-persisted verdict just waits for the queue to settle.
func (r *Contributor) requestVerification(ctx context.Context, ceremony *types.Ceremony, circuit *types.Circuit, p *types.Participant, dir string) (bool, error) {
	computeMs := p.TempContributionData.ContributionComputationTime
	if state, err := loadProgress(dir, circuit.Prefix); err == nil && state != nil && computeMs == 0 {
		computeMs = state.ComputationTime
	}
	r.announce("Waiting for the coordinator to verify the contribution, this may take a while")
	resp, err := r.Client.VerifyContribution(ctx, ceremony.ID, circuit.ID, &api.VerifyContributionRequest{
		ContributionTimeInMillis: computeMs,
		GHUsername:               r.Handle,
	})
	if api.ErrCode(err) == api.CodeAlreadyExists {
		// A previous session got the verdict persisted already.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	removeProgress(dir, circuit.Prefix)
	verifySecs := (time.Duration(resp.VerificationTimeInMillis) * time.Millisecond).Round(time.Millisecond)
	if resp.Valid {
		fmt.Fprintf(r.out(), "Contribution to circuit %s verified %s in %s\n", circuit.Prefix, au.Green("VALID"), verifySecs)
	} else {
		fmt.Fprintf(r.out(), "Contribution to circuit %s judged %s; the circuit chain continues from the last valid zkey\n",
			circuit.Prefix, au.Red("INVALID"))
	}
	return true, nil
}

// reportQueuePosition prints the participant's place in the waiting queue,
// once per change.
func (r *Contributor) reportQueuePosition(ctx context.Context, ceremony *types.Ceremony, p *types.Participant) error {
	circuits, err := r.Client.Circuits(ctx, ceremony.ID)
	if err != nil {
		return err
	}
	circuit := circuitAt(circuits, p.ContributionProgress)
	if circuit == nil {
		return nil
	}
	position := 0
	for i, id := range circuit.WaitingQueue.Contributors {
		if id == p.UserID {
			position = i + 1
			break
		}
	}
	if position == 0 {
		return nil
	}
	line := fmt.Sprintf("Waiting at position %d of %d for circuit %d (%s)",
		position, len(circuit.WaitingQueue.Contributors), circuit.SequencePosition, circuit.Name)
	if ahead := int64(position - 1); ahead > 0 && circuit.AvgTimings.FullContribution > 0 {
		wait := time.Duration(ahead*circuit.AvgTimings.FullContribution) * time.Millisecond
		line += fmt.Sprintf(", estimated wait %s", wait.Round(time.Second))
	}
	r.announce(line)
	return nil
}

// finish renders the attestation, saves it under the ceremony work directory
// and publishes it once. A publication failure is reported but does not fail
// the run: the contribution itself already landed.
func (r *Contributor) finish(ctx context.Context, ceremony *types.Ceremony, p *types.Participant) error {
	circuits, err := r.Client.Circuits(ctx, ceremony.ID)
	if err != nil {
		return err
	}
	content := BuildAttestation(ceremony, circuits, p, r.Handle)
	if r.Entropy != "" {
		content += fmt.Sprintf("\nEntropy commitment (blake2b-512): %s\n", hashutil.Blake2b([]byte(r.Entropy)))
	}
	dir := filepath.Join(r.WorkDir, ceremony.Prefix)
	if err := file.MkdirAll(dir); err != nil {
		return err
	}
	filename := api.AttestationFilename(ceremony.Prefix)
	path := filepath.Join(dir, filename)
	published := file.FileExists(path)
	if err := file.WriteFile(path, []byte(content)); err != nil {
		return err
	}
	fmt.Fprintf(r.out(), "Attestation written to %s\n", path)
	if r.Publisher != nil && !published {
		url, err := r.Publisher.Publish(ctx, filename,
			fmt.Sprintf("Attestation for the %s trusted setup ceremony", ceremony.Title), content)
		if err != nil {
			log.WithError(err).Warning("Could not publish the attestation")
			fmt.Fprintln(r.out(), "Automatic publication failed, please share the attestation file yourself")
		} else {
			fmt.Fprintf(r.out(), "Attestation published at %s\n", au.Bold(url))
		}
	}
	if ceremony.CoordinatorID == p.UserID {
		fmt.Fprintln(r.out(), "All circuits contributed; once the ceremony closes, run the finalize command to seal it")
	} else {
		fmt.Fprintf(r.out(), "%s You contributed to every circuit of the ceremony.\n", au.Green("Thank you!"))
	}
	return nil
}

// explainRefusal turns a join refusal into an actionable message.
func (r *Contributor) explainRefusal(ctx context.Context, ceremony *types.Ceremony, p *types.Participant) error {
	switch p.Status {
	case types.StatusDone, types.StatusFinalized:
		// Everything already landed; re-render the attestation so a user
		// who lost the file gets it back.
		return r.finish(ctx, ceremony, p)
	case types.StatusTimedOut:
		return errors.Errorf("you exceeded a contribution window and must wait out the penalty (%s) before retrying",
			penaltyWindow(ceremony))
	default:
		return errors.Errorf("the ceremony cannot accept a contribution from status %s right now", p.Status)
	}
}

func (r *Contributor) out() io.Writer {
	if r.Out != nil {
		return r.Out
	}
	return os.Stdout
}

func (r *Contributor) poll() time.Duration {
	if r.PollInterval > 0 {
		return r.PollInterval
	}
	return defaultPollInterval
}

// announce prints line unless it was the last line printed, keeping the
// steady-state polling quiet.
func (r *Contributor) announce(line string) {
	if line == r.lastLine {
		return
	}
	r.lastLine = line
	fmt.Fprintln(r.out(), line)
}

func circuitAt(circuits []*types.Circuit, position int64) *types.Circuit {
	for _, circuit := range circuits {
		if circuit.SequencePosition == position {
			return circuit
		}
	}
	return nil
}

func penaltyWindow(ceremony *types.Ceremony) time.Duration {
	if ceremony.PenaltyMinutes > 0 {
		return time.Duration(ceremony.PenaltyMinutes) * time.Minute
	}
	return time.Duration(params.CeremonyConfig().RetryWaitingTimeInDays) * 24 * time.Hour
}

func progressPath(dir, circuitPrefix string) string {
	return filepath.Join(dir, circuitPrefix+"_progress.json")
}

func saveProgress(dir, circuitPrefix string, state *progressState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "could not encode contribution progress")
	}
	return file.WriteFile(progressPath(dir, circuitPrefix), data)
}

func loadProgress(dir, circuitPrefix string) (*progressState, error) {
	path := progressPath(dir, circuitPrefix)
	if !file.FileExists(path) {
		return nil, nil
	}
	data, err := file.ReadFileAsBytes(path)
	if err != nil {
		return nil, err
	}
	state := &progressState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, errors.Wrap(err, "could not decode contribution progress")
	}
	return state, nil
}

func removeProgress(dir, circuitPrefix string) {
	if err := os.Remove(progressPath(dir, circuitPrefix)); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Debug("Could not remove contribution progress file")
	}
}
