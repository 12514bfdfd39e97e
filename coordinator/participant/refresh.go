package participant

import (
	"github.com/zkmpc/maestro/coordinator/types"
)

// RefreshAfterVerification mutates p in place once the verification of its
// contribution for the current circuit has been persisted. It links the
// contribution document into the oldest pending reference, bumps the
// contribution progress and settles the outer status: READY to re-enter the
// next queue, or CONTRIBUTED when every circuit of the ceremony is done.
//
// The caller owns the transaction: this runs alongside the queue pop so a
// reader never observes a popped head that still looks mid-contribution.
func RefreshAfterVerification(p *types.Participant, contributionID string, totalCircuits, nowMs int64) {
	linked := false
	for i := range p.Contributions {
		if p.Contributions[i].Doc == "" {
			p.Contributions[i].Doc = contributionID
			linked = true
			break
		}
	}
	if !linked {
		p.Contributions = append(p.Contributions, types.ContributionRef{Doc: contributionID})
	}
	p.ContributionProgress++
	if p.ContributionProgress == totalCircuits+1 {
		p.Status = types.StatusContributed
	} else {
		p.Status = types.StatusReady
	}
	p.ContributionStep = types.StepCompleted
	p.TempContributionData = types.TempContributionData{}
	p.VerificationStartedAt = 0
	p.LastUpdated = nowMs
}
