package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testClock drives both scorer and tracker time in tests.
type testClock struct {
	current time.Time
}

func (c *testClock) Now() time.Time {
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}

func newTestScorer(t *testing.T, config ScorerConfig) (*Scorer, *MemoryTracker, *testClock) {
	t.Helper()

	clock := &testClock{current: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tracker := NewMemoryTracker(0)
	tracker.now = clock.Now

	scorer := NewScorer(tracker, NewHeuristicChecker(), NewCityPairChecker(MaxTravelSpeedKmh), config, zap.NewNop())
	scorer.now = clock.Now

	return scorer, tracker, clock
}

func TestCalculateRiskUnknownIdentity(t *testing.T) {
	scorer, _, _ := newTestScorer(t, DefaultScorerConfig())

	a := scorer.CalculateRisk(context.Background(), AssessRequest{
		Identity:  "alice",
		IP:        "8.8.8.8",
		UserAgent: "Mozilla/5.0",
	})

	assert.Equal(t, 40, a.Score, "new device plus new IP")
	assert.Equal(t, RiskLevelMedium, a.Level)
	assert.Equal(t, ActionChallenge, a.Action)
	assert.Equal(t, []string{FactorNewDevice, FactorNewIP}, a.Factors)
}

func TestCalculateRiskFullyKnown(t *testing.T) {
	scorer, _, _ := newTestScorer(t, DefaultScorerConfig())
	ctx := context.Background()

	fp := FingerprintFromUserAgent("Mozilla/5.0")
	require.NoError(t, scorer.RegisterSuccessfulAuth(ctx, "alice", "8.8.8.8", fp, ""))

	a := scorer.CalculateRisk(ctx, AssessRequest{
		Identity:  "alice",
		IP:        "8.8.8.8",
		UserAgent: "Mozilla/5.0",
	})

	assert.Equal(t, 0, a.Score)
	assert.Equal(t, RiskLevelLow, a.Level)
	assert.Equal(t, ActionAllow, a.Action)
	assert.Empty(t, a.Factors)
}

func TestCalculateRiskSuspiciousPrivateIP(t *testing.T) {
	scorer, _, _ := newTestScorer(t, DefaultScorerConfig())
	ctx := context.Background()

	// Device is trusted, the private source address is not
	fp := FingerprintFromUserAgent("Mozilla/5.0")
	require.NoError(t, scorer.RegisterSuccessfulAuth(ctx, "alice", "8.8.8.8", fp, ""))

	a := scorer.CalculateRisk(ctx, AssessRequest{
		Identity:  "alice",
		IP:        "192.168.1.5",
		UserAgent: "Mozilla/5.0",
	})

	// new_ip 15 + suspicious_ip 40 + reputation capped at 40
	assert.Equal(t, 95, a.Score)
	assert.Equal(t, RiskLevelHigh, a.Level)
	assert.Equal(t, ActionBlock, a.Action)
	assert.Equal(t, []string{FactorNewIP, FactorSuspiciousIP, FactorPoorIPReputation}, a.Factors)
}

func TestCalculateRiskImpossibleTravel(t *testing.T) {
	scorer, _, clock := newTestScorer(t, DefaultScorerConfig())
	ctx := context.Background()

	fp := FingerprintFromUserAgent("Mozilla/5.0")
	require.NoError(t, scorer.RegisterSuccessfulAuth(ctx, "alice", "8.8.8.8", fp, "New York, US"))

	clock.Advance(5 * time.Minute)

	a := scorer.CalculateRisk(ctx, AssessRequest{
		Identity:  "alice",
		IP:        "8.8.8.8",
		UserAgent: "Mozilla/5.0",
		Location:  "London, UK",
	})

	assert.Equal(t, 50, a.Score)
	assert.Equal(t, ActionChallenge, a.Action)
	assert.Equal(t, []string{FactorImpossibleTravel}, a.Factors)
	assert.Equal(t, "New York, US", a.Details["travel_from"])
	assert.Equal(t, "London, UK", a.Details["travel_to"])
}

func TestCalculateRiskPlausibleTravel(t *testing.T) {
	scorer, _, clock := newTestScorer(t, DefaultScorerConfig())
	ctx := context.Background()

	fp := FingerprintFromUserAgent("Mozilla/5.0")
	require.NoError(t, scorer.RegisterSuccessfulAuth(ctx, "alice", "8.8.8.8", fp, "London, UK"))

	clock.Advance(45 * time.Minute)

	a := scorer.CalculateRisk(ctx, AssessRequest{
		Identity:  "alice",
		IP:        "8.8.8.8",
		UserAgent: "Mozilla/5.0",
		Location:  "Paris, FR",
	})

	assert.Equal(t, 0, a.Score, "344 km in 45 minutes is within aircraft speed")
	assert.Empty(t, a.Factors)
}

func TestCalculateRiskTravelOutsideWindow(t *testing.T) {
	scorer, _, clock := newTestScorer(t, DefaultScorerConfig())
	ctx := context.Background()

	fp := FingerprintFromUserAgent("Mozilla/5.0")
	require.NoError(t, scorer.RegisterSuccessfulAuth(ctx, "alice", "8.8.8.8", fp, "New York, US"))

	// Prior location ages past the velocity window
	clock.Advance(2 * time.Hour)

	a := scorer.CalculateRisk(ctx, AssessRequest{
		Identity:  "alice",
		IP:        "8.8.8.8",
		UserAgent: "Mozilla/5.0",
		Location:  "London, UK",
	})

	assert.NotContains(t, a.Factors, FactorImpossibleTravel)
}

func TestCalculateRiskUnknownCityPairNotPenalized(t *testing.T) {
	scorer, _, clock := newTestScorer(t, DefaultScorerConfig())
	ctx := context.Background()

	fp := FingerprintFromUserAgent("Mozilla/5.0")
	require.NoError(t, scorer.RegisterSuccessfulAuth(ctx, "alice", "8.8.8.8", fp, "Ankara, TR"))

	clock.Advance(5 * time.Minute)

	a := scorer.CalculateRisk(ctx, AssessRequest{
		Identity:  "alice",
		IP:        "8.8.8.8",
		UserAgent: "Mozilla/5.0",
		Location:  "London, UK",
	})

	// No verdict is not a penalty
	assert.Equal(t, 0, a.Score)
}

func TestCalculateRiskHighFailureRate(t *testing.T) {
	scorer, _, _ := newTestScorer(t, DefaultScorerConfig())
	ctx := context.Background()

	fp := FingerprintFromUserAgent("Mozilla/5.0")
	require.NoError(t, scorer.RegisterSuccessfulAuth(ctx, "alice", "8.8.8.8", fp, ""))

	for i := 0; i < 3; i++ {
		require.NoError(t, scorer.RegisterFailedAuth(ctx, "alice"))
	}

	a := scorer.CalculateRisk(ctx, AssessRequest{
		Identity:  "alice",
		IP:        "8.8.8.8",
		UserAgent: "Mozilla/5.0",
	})

	assert.Equal(t, 30, a.Score)
	assert.Equal(t, []string{FactorHighFailureRate}, a.Factors)
	assert.Equal(t, "3", a.Details["recent_failures"])
}

func TestCalculateRiskScoreClamped(t *testing.T) {
	scorer, tracker, clock := newTestScorer(t, DefaultScorerConfig())
	ctx := context.Background()

	// Location history without any trusted device or IP
	require.NoError(t, tracker.AddLocation(ctx, "alice", "New York, US"))
	clock.Advance(5 * time.Minute)

	a := scorer.CalculateRisk(ctx, AssessRequest{
		Identity:  "alice",
		IP:        "192.168.1.5",
		UserAgent: "Mozilla/5.0",
		Location:  "London, UK",
	})

	// 25 + 15 + 40 + 40 + 50 clamps to 100
	assert.Equal(t, 100, a.Score)
	assert.Equal(t, ActionBlock, a.Action)
	assert.Equal(t, []string{
		FactorNewDevice,
		FactorNewIP,
		FactorSuspiciousIP,
		FactorPoorIPReputation,
		FactorImpossibleTravel,
	}, a.Factors)
}

func TestCalculateRiskTimeAnomaly(t *testing.T) {
	config := DefaultScorerConfig()
	config.EnableTimeAnomaly = true

	scorer, _, clock := newTestScorer(t, config)
	ctx := context.Background()

	fp := FingerprintFromUserAgent("Mozilla/5.0")
	require.NoError(t, scorer.RegisterSuccessfulAuth(ctx, "alice", "8.8.8.8", fp, ""))

	clock.current = time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)
	a := scorer.CalculateRisk(ctx, AssessRequest{
		Identity:  "alice",
		IP:        "8.8.8.8",
		UserAgent: "Mozilla/5.0",
	})
	assert.Equal(t, 10, a.Score)
	assert.Equal(t, []string{FactorAnomalousTime}, a.Factors)

	clock.current = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	a = scorer.CalculateRisk(ctx, AssessRequest{
		Identity:  "alice",
		IP:        "8.8.8.8",
		UserAgent: "Mozilla/5.0",
	})
	assert.Equal(t, 0, a.Score)
}

func TestClassifyBoundaries(t *testing.T) {
	scorer, _, _ := newTestScorer(t, DefaultScorerConfig())

	tests := []struct {
		score  int
		level  RiskLevel
		action Action
	}{
		{0, RiskLevelLow, ActionAllow},
		{29, RiskLevelLow, ActionAllow},
		{30, RiskLevelMedium, ActionChallenge},
		{69, RiskLevelMedium, ActionChallenge},
		{70, RiskLevelHigh, ActionBlock},
		{100, RiskLevelHigh, ActionBlock},
	}

	for _, tt := range tests {
		level, action := scorer.Classify(tt.score)
		assert.Equal(t, tt.level, level, "score %d", tt.score)
		assert.Equal(t, tt.action, action, "score %d", tt.score)
	}
}

func TestRegisterSuccessfulAuthIdempotent(t *testing.T) {
	scorer, _, _ := newTestScorer(t, DefaultScorerConfig())
	ctx := context.Background()

	fp := FingerprintFromUserAgent("Mozilla/5.0")
	require.NoError(t, scorer.RegisterSuccessfulAuth(ctx, "alice", "8.8.8.8", fp, "London, UK"))
	require.NoError(t, scorer.RegisterSuccessfulAuth(ctx, "alice", "8.8.8.8", fp, "London, UK"))

	devices, err := scorer.Devices(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

func TestRegisterSuccessfulAuthClearsFailures(t *testing.T) {
	scorer, tracker, _ := newTestScorer(t, DefaultScorerConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, scorer.RegisterFailedAuth(ctx, "alice"))
	}

	fp := FingerprintFromUserAgent("Mozilla/5.0")
	require.NoError(t, scorer.RegisterSuccessfulAuth(ctx, "alice", "8.8.8.8", fp, ""))

	n, err := tracker.RecentFailures(ctx, "alice", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCalculateRiskDeterministicForSameState(t *testing.T) {
	scorer, _, _ := newTestScorer(t, DefaultScorerConfig())
	ctx := context.Background()

	req := AssessRequest{
		Identity:  "alice",
		IP:        "8.8.8.8",
		UserAgent: "Mozilla/5.0",
	}

	first := scorer.CalculateRisk(ctx, req)
	second := scorer.CalculateRisk(ctx, req)

	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.Factors, second.Factors)
}
