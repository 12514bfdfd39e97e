package timeout

import (
	"context"
	"testing"
	"time"

	"github.com/zkmpc/maestro/coordinator/db/iface"
	dbtest "github.com/zkmpc/maestro/coordinator/db/testing"
	"github.com/zkmpc/maestro/coordinator/types"
	"github.com/zkmpc/maestro/testing/assert"
	"github.com/zkmpc/maestro/testing/require"
	mtime "github.com/zkmpc/maestro/time"
)

// frozenClock pins the package clock to a fixed instant. It returns that
// instant in Unix milliseconds and a function stepping the clock forward.
func frozenClock(t *testing.T) (int64, func(ms int64)) {
	t.Helper()
	at := time.Now()
	mtime.Now = func() time.Time { return at }
	t.Cleanup(func() { mtime.Now = time.Now })
	return at.UnixMilli(), func(ms int64) { at = at.Add(time.Duration(ms) * time.Millisecond) }
}

func setupController(t *testing.T) (*Service, iface.Database, context.Context) {
	db := dbtest.SetupDB(t)
	s := New(context.Background(), &Config{Database: db})
	t.Cleanup(func() {
		require.NoError(t, s.Stop())
	})
	return s, db, context.Background()
}

func saveOpenCeremony(t *testing.T, db iface.Database, ctx context.Context, nowMs int64, mech types.TimeoutMechanismType, penaltyMinutes int64) {
	t.Helper()
	require.NoError(t, db.SaveCeremony(ctx, &types.Ceremony{
		ID: "ceremony-1", Prefix: "example", State: types.CeremonyOpened,
		TimeoutMechanism: mech, PenaltyMinutes: penaltyMinutes,
		EndDate: nowMs + int64(time.Hour/time.Millisecond),
	}))
}

func TestSweep_DynamicEvictionAtDeadline(t *testing.T) {
	nowMs, advance := frozenClock(t)
	s, db, ctx := setupController(t)
	saveOpenCeremony(t, db, ctx, nowMs, types.TimeoutDynamic, 10)
	// Budget: (10000 + 2000) * 1.20 = 14400ms.
	require.NoError(t, db.SaveCircuit(ctx, "ceremony-1", &types.Circuit{
		ID: "circuit-1", Prefix: "mul2", SequencePosition: 1,
		AvgTimings:       types.CircuitTimings{FullContribution: 10_000, VerifyContribution: 2_000},
		DynamicThreshold: 20,
		WaitingQueue: types.WaitingQueue{
			Contributors:       []string{"github|alice", "github|bob"},
			CurrentContributor: "github|alice",
		},
	}))
	require.NoError(t, db.SaveParticipant(ctx, "ceremony-1", &types.Participant{
		UserID: "github|alice", Status: types.StatusContributing,
		ContributionProgress: 1, ContributionStep: types.StepComputing,
		ContributionStartedAt: nowMs - 14_400,
	}))
	require.NoError(t, db.SaveParticipant(ctx, "ceremony-1", &types.Participant{
		UserID: "github|bob", Status: types.StatusWaiting, ContributionProgress: 1,
	}))

	// Exactly on the deadline the contributor survives.
	s.Sweep(ctx)
	alice, err := db.Participant(ctx, "ceremony-1", "github|alice")
	require.NoError(t, err)
	assert.Equal(t, types.StatusContributing, alice.Status)

	// One millisecond past it they are evicted and the successor promoted.
	advance(1)
	s.Sweep(ctx)
	alice, err = db.Participant(ctx, "ceremony-1", "github|alice")
	require.NoError(t, err)
	assert.Equal(t, types.StatusTimedOut, alice.Status)
	bob, err := db.Participant(ctx, "ceremony-1", "github|bob")
	require.NoError(t, err)
	assert.Equal(t, types.StatusContributing, bob.Status)
	assert.Equal(t, types.StepDownloading, bob.ContributionStep)

	circuit, err := db.Circuit(ctx, "ceremony-1", "circuit-1")
	require.NoError(t, err)
	assert.Equal(t, "github|bob", circuit.WaitingQueue.CurrentContributor)
	assert.DeepEqual(t, []string{"github|bob"}, circuit.WaitingQueue.Contributors)
	assert.Equal(t, int64(1), circuit.WaitingQueue.FailedContributions)

	timeouts, err := db.Timeouts(ctx, "ceremony-1", "github|alice")
	require.NoError(t, err)
	require.Equal(t, 1, len(timeouts))
	assert.Equal(t, types.TimeoutBlockingContribution, timeouts[0].Type)
	assert.Equal(t, nowMs+1, timeouts[0].StartDate)
	assert.Equal(t, nowMs+1+10*60_000, timeouts[0].EndDate)
	active, err := db.ActiveTimeout(ctx, "ceremony-1", "github|alice", mtime.NowMillis())
	require.NoError(t, err)
	require.NotNil(t, active)

	// Re-sweeping changes nothing: alice holds no slot, bob is in budget.
	s.Sweep(ctx)
	timeouts, err = db.Timeouts(ctx, "ceremony-1", "github|alice")
	require.NoError(t, err)
	assert.Equal(t, 1, len(timeouts))
	bob, err = db.Participant(ctx, "ceremony-1", "github|bob")
	require.NoError(t, err)
	assert.Equal(t, types.StatusContributing, bob.Status)
}

func TestSweep_GlobalToleranceRate(t *testing.T) {
	nowMs, _ := frozenClock(t)
	s, db, ctx := setupController(t)
	saveOpenCeremony(t, db, ctx, nowMs, types.TimeoutDynamic, 10)
	// No per-circuit threshold: (10000 + 2000) * 1.10 = 13200ms.
	require.NoError(t, db.SaveCircuit(ctx, "ceremony-1", &types.Circuit{
		ID: "circuit-1", Prefix: "mul2", SequencePosition: 1,
		AvgTimings: types.CircuitTimings{FullContribution: 10_000, VerifyContribution: 2_000},
		WaitingQueue: types.WaitingQueue{
			Contributors:       []string{"github|alice"},
			CurrentContributor: "github|alice",
		},
	}))
	require.NoError(t, db.SaveParticipant(ctx, "ceremony-1", &types.Participant{
		UserID: "github|alice", Status: types.StatusContributing,
		ContributionProgress: 1, ContributionStep: types.StepComputing,
		ContributionStartedAt: nowMs - 13_201,
	}))

	s.Sweep(ctx)
	alice, err := db.Participant(ctx, "ceremony-1", "github|alice")
	require.NoError(t, err)
	assert.Equal(t, types.StatusTimedOut, alice.Status)

	// Sole contributor: the queue drains.
	circuit, err := db.Circuit(ctx, "ceremony-1", "circuit-1")
	require.NoError(t, err)
	assert.Equal(t, "", circuit.WaitingQueue.CurrentContributor)
	assert.Equal(t, 0, len(circuit.WaitingQueue.Contributors))
}

func TestSweep_FixedWindow(t *testing.T) {
	nowMs, _ := frozenClock(t)
	s, db, ctx := setupController(t)
	saveOpenCeremony(t, db, ctx, nowMs, types.TimeoutFixed, 10)
	require.NoError(t, db.SaveCircuit(ctx, "ceremony-1", &types.Circuit{
		ID: "circuit-1", Prefix: "mul2", SequencePosition: 1, FixedTimeWindow: 2,
		WaitingQueue: types.WaitingQueue{
			Contributors:       []string{"github|alice"},
			CurrentContributor: "github|alice",
		},
	}))
	require.NoError(t, db.SaveCircuit(ctx, "ceremony-1", &types.Circuit{
		ID: "circuit-2", Prefix: "mul3", SequencePosition: 2, FixedTimeWindow: 2,
		WaitingQueue: types.WaitingQueue{
			Contributors:       []string{"github|carol"},
			CurrentContributor: "github|carol",
		},
	}))
	require.NoError(t, db.SaveParticipant(ctx, "ceremony-1", &types.Participant{
		UserID: "github|alice", Status: types.StatusContributing,
		ContributionProgress: 1, ContributionStep: types.StepUploading,
		ContributionStartedAt: nowMs - 120_001,
	}))
	require.NoError(t, db.SaveParticipant(ctx, "ceremony-1", &types.Participant{
		UserID: "github|carol", Status: types.StatusContributing,
		ContributionProgress: 2, ContributionStep: types.StepUploading,
		ContributionStartedAt: nowMs - 119_000,
	}))

	s.Sweep(ctx)
	alice, err := db.Participant(ctx, "ceremony-1", "github|alice")
	require.NoError(t, err)
	assert.Equal(t, types.StatusTimedOut, alice.Status)
	carol, err := db.Participant(ctx, "ceremony-1", "github|carol")
	require.NoError(t, err)
	assert.Equal(t, types.StatusContributing, carol.Status)
}

func TestSweep_VerifyingMeasuredAgainstVerificationBudget(t *testing.T) {
	nowMs, _ := frozenClock(t)
	s, db, ctx := setupController(t)
	saveOpenCeremony(t, db, ctx, nowMs, types.TimeoutDynamic, 10)
	// Verification budget: 2000 * 1.20 = 2400ms. The full-contribution
	// budget (14400ms) is far from exhausted.
	require.NoError(t, db.SaveCircuit(ctx, "ceremony-1", &types.Circuit{
		ID: "circuit-1", Prefix: "mul2", SequencePosition: 1,
		AvgTimings:       types.CircuitTimings{FullContribution: 10_000, VerifyContribution: 2_000},
		DynamicThreshold: 20,
		WaitingQueue: types.WaitingQueue{
			Contributors:       []string{"github|alice"},
			CurrentContributor: "github|alice",
		},
	}))
	require.NoError(t, db.SaveParticipant(ctx, "ceremony-1", &types.Participant{
		UserID: "github|alice", Status: types.StatusContributing,
		ContributionProgress: 1, ContributionStep: types.StepVerifying,
		ContributionStartedAt: nowMs - 5_000,
		VerificationStartedAt: nowMs - 2_401,
	}))

	s.Sweep(ctx)
	alice, err := db.Participant(ctx, "ceremony-1", "github|alice")
	require.NoError(t, err)
	assert.Equal(t, types.StatusTimedOut, alice.Status)
	timeouts, err := db.Timeouts(ctx, "ceremony-1", "github|alice")
	require.NoError(t, err)
	require.Equal(t, 1, len(timeouts))
	assert.Equal(t, types.TimeoutBlockingCloudFunction, timeouts[0].Type)
}

func TestSweep_NoTimingSignalNoEviction(t *testing.T) {
	nowMs, _ := frozenClock(t)
	s, db, ctx := setupController(t)
	saveOpenCeremony(t, db, ctx, nowMs, types.TimeoutDynamic, 10)
	require.NoError(t, db.SaveCircuit(ctx, "ceremony-1", &types.Circuit{
		ID: "circuit-1", Prefix: "mul2", SequencePosition: 1,
		DynamicThreshold: 20,
		WaitingQueue: types.WaitingQueue{
			Contributors:       []string{"github|alice"},
			CurrentContributor: "github|alice",
		},
	}))
	require.NoError(t, db.SaveParticipant(ctx, "ceremony-1", &types.Participant{
		UserID: "github|alice", Status: types.StatusContributing,
		ContributionProgress: 1, ContributionStep: types.StepComputing,
		ContributionStartedAt: nowMs - 10*24*60*60_000,
	}))

	s.Sweep(ctx)
	alice, err := db.Participant(ctx, "ceremony-1", "github|alice")
	require.NoError(t, err)
	assert.Equal(t, types.StatusContributing, alice.Status)
}

func TestSweep_SkipsClosedAndExpiredCeremonies(t *testing.T) {
	nowMs, _ := frozenClock(t)
	s, db, ctx := setupController(t)
	require.NoError(t, db.SaveCeremony(ctx, &types.Ceremony{
		ID: "ceremony-closed", Prefix: "closed", State: types.CeremonyClosed,
		TimeoutMechanism: types.TimeoutFixed, PenaltyMinutes: 10,
		EndDate: nowMs + 60_000,
	}))
	require.NoError(t, db.SaveCeremony(ctx, &types.Ceremony{
		ID: "ceremony-expired", Prefix: "expired", State: types.CeremonyOpened,
		TimeoutMechanism: types.TimeoutFixed, PenaltyMinutes: 10,
		EndDate: nowMs - 1,
	}))
	for _, ceremonyID := range []string{"ceremony-closed", "ceremony-expired"} {
		require.NoError(t, db.SaveCircuit(ctx, ceremonyID, &types.Circuit{
			ID: "circuit-1", Prefix: "mul2", SequencePosition: 1, FixedTimeWindow: 1,
			WaitingQueue: types.WaitingQueue{
				Contributors:       []string{"github|alice"},
				CurrentContributor: "github|alice",
			},
		}))
		require.NoError(t, db.SaveParticipant(ctx, ceremonyID, &types.Participant{
			UserID: "github|alice", Status: types.StatusContributing,
			ContributionProgress: 1, ContributionStep: types.StepComputing,
			ContributionStartedAt: nowMs - 10*60_000,
		}))
	}

	s.Sweep(ctx)
	for _, ceremonyID := range []string{"ceremony-closed", "ceremony-expired"} {
		alice, err := db.Participant(ctx, ceremonyID, "github|alice")
		require.NoError(t, err)
		assert.Equal(t, types.StatusContributing, alice.Status, "ceremony %s", ceremonyID)
	}
}

func TestSweep_PenaltyFallsBackToConfiguredRetryTime(t *testing.T) {
	nowMs, _ := frozenClock(t)
	s, db, ctx := setupController(t)
	saveOpenCeremony(t, db, ctx, nowMs, types.TimeoutFixed, 0)
	require.NoError(t, db.SaveCircuit(ctx, "ceremony-1", &types.Circuit{
		ID: "circuit-1", Prefix: "mul2", SequencePosition: 1, FixedTimeWindow: 1,
		WaitingQueue: types.WaitingQueue{
			Contributors:       []string{"github|alice"},
			CurrentContributor: "github|alice",
		},
	}))
	require.NoError(t, db.SaveParticipant(ctx, "ceremony-1", &types.Participant{
		UserID: "github|alice", Status: types.StatusContributing,
		ContributionProgress: 1, ContributionStep: types.StepComputing,
		ContributionStartedAt: nowMs - 60_001,
	}))

	s.Sweep(ctx)
	timeouts, err := db.Timeouts(ctx, "ceremony-1", "github|alice")
	require.NoError(t, err)
	require.Equal(t, 1, len(timeouts))
	// Default retry waiting time is one day.
	assert.Equal(t, int64(86_400_000), timeouts[0].EndDate-timeouts[0].StartDate)
}
