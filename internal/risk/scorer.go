package risk

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// RiskLevel classifies an assessment score.
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
)

// Action is the access decision recommended to the caller.
type Action string

const (
	ActionAllow     Action = "allow"
	ActionChallenge Action = "challenge"
	ActionBlock     Action = "block"
)

// Risk factor names. The order in Assessment.Factors always follows
// evaluation order, so it is reproducible for a given input.
const (
	FactorNewDevice        = "new_device"
	FactorNewIP            = "new_ip"
	FactorSuspiciousIP     = "suspicious_ip"
	FactorPoorIPReputation = "poor_ip_reputation"
	FactorImpossibleTravel = "impossible_travel"
	FactorHighFailureRate  = "high_failure_rate"
	FactorAnomalousTime    = "anomalous_time"
)

// Weights holds the score contribution of each risk factor.
type Weights struct {
	NewDevice        int `mapstructure:"new_device"`
	NewIP            int `mapstructure:"new_ip"`
	SuspiciousIP     int `mapstructure:"suspicious_ip"`
	ImpossibleTravel int `mapstructure:"impossible_travel"`
	HighFailureRate  int `mapstructure:"high_failure_rate"`
	AnomalousTime    int `mapstructure:"anomalous_time"`
}

// DefaultWeights returns the standard factor weights.
func DefaultWeights() Weights {
	return Weights{
		NewDevice:        25,
		NewIP:            15,
		SuspiciousIP:     40,
		ImpossibleTravel: 50,
		HighFailureRate:  30,
		AnomalousTime:    10,
	}
}

// ScorerConfig holds tunables for the scoring pipeline.
type ScorerConfig struct {
	Weights Weights

	// ChallengeThreshold and BlockThreshold split scores into
	// low/medium/high. Scores below ChallengeThreshold allow, scores at
	// or above BlockThreshold block, everything between challenges.
	ChallengeThreshold int
	BlockThreshold     int

	// ReputationThreshold is the score above which poor_ip_reputation
	// fires; ReputationCap bounds its contribution.
	ReputationThreshold int
	ReputationCap       int

	// VelocityWindow bounds how far back the impossible-travel check
	// looks for a prior location.
	VelocityWindow time.Duration

	// FailureWindow and FailureThreshold control high_failure_rate.
	FailureWindow    time.Duration
	FailureThreshold int

	// EnableTimeAnomaly turns on the off-hours signal (00:00 to 05:00 UTC).
	// Off by default.
	EnableTimeAnomaly bool
}

// DefaultScorerConfig returns the standard scoring configuration.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		Weights:             DefaultWeights(),
		ChallengeThreshold:  30,
		BlockThreshold:      70,
		ReputationThreshold: 50,
		ReputationCap:       40,
		VelocityWindow:      time.Hour,
		FailureWindow:       time.Hour,
		FailureThreshold:    3,
		EnableTimeAnomaly:   false,
	}
}

// AssessRequest carries the signals of one authentication attempt.
type AssessRequest struct {
	Identity  string             `json:"identity"`
	IP        string             `json:"ip"`
	UserAgent string             `json:"user_agent"`
	Device    *DeviceFingerprint `json:"device,omitempty"`
	Location  string             `json:"location,omitempty"`
	Metadata  map[string]string  `json:"metadata,omitempty"`
}

// Assessment is the immutable result of one risk evaluation. It is not
// persisted by the engine; persistence, if wanted, belongs to the caller.
type Assessment struct {
	Score     int               `json:"score"`
	Level     RiskLevel         `json:"level"`
	Action    Action            `json:"action"`
	Factors   []string          `json:"factors"`
	Details   map[string]string `json:"details"`
	Timestamp time.Time         `json:"timestamp"`
}

// Scorer combines the tracker, reputation, and velocity components into
// a single risk assessment per authentication attempt. Construct one
// explicitly and pass it to callers; it owns no global state.
type Scorer struct {
	tracker    DeviceTracker
	reputation ReputationChecker
	velocity   VelocityChecker
	config     ScorerConfig
	logger     *zap.Logger
	now        func() time.Time
}

// NewScorer creates a scorer over the given components.
func NewScorer(tracker DeviceTracker, reputation ReputationChecker, velocity VelocityChecker, config ScorerConfig, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BlockThreshold == 0 {
		config = DefaultScorerConfig()
	}
	return &Scorer{
		tracker:    tracker,
		reputation: reputation,
		velocity:   velocity,
		config:     config,
		logger:     logger.With(zap.String("component", "risk_scorer")),
		now:        time.Now,
	}
}

// CalculateRisk evaluates one authentication attempt. Checks run in a
// fixed order (device, IP recognition, IP suspicion, IP reputation,
// velocity, failure rate, time-of-day) so the factor list is
// deterministic. Registry read failures degrade toward "unknown" rather
// than blocking the attempt outright.
func (s *Scorer) CalculateRisk(ctx context.Context, req AssessRequest) *Assessment {
	now := s.now()
	score := 0
	factors := []string{}
	details := make(map[string]string)

	fp := FingerprintFromUserAgent(req.UserAgent)
	if req.Device != nil {
		fp = *req.Device
	}

	// Device check
	known, err := s.tracker.IsKnownDevice(ctx, req.Identity, fp)
	if err != nil {
		s.logger.Warn("Device lookup failed, treating as unknown", zap.String("identity", req.Identity), zap.Error(err))
	}
	if known {
		details["known_device"] = fp.Hash()
	} else {
		score += s.config.Weights.NewDevice
		factors = append(factors, FactorNewDevice)
		details["device_hash"] = fp.Hash()
	}

	// IP recognition check
	knownIP, err := s.tracker.IsKnownIP(ctx, req.Identity, req.IP)
	if err != nil {
		s.logger.Warn("IP lookup failed, treating as unknown", zap.String("identity", req.Identity), zap.Error(err))
	}
	if knownIP {
		details["known_ip"] = req.IP
	} else {
		score += s.config.Weights.NewIP
		factors = append(factors, FactorNewIP)
		details["new_ip"] = req.IP
	}

	// IP suspicion and reputation are two separate contributions: the
	// suspicion heuristic covers address ranges and client markers, the
	// reputation score comes from the pluggable provider.
	if s.reputation.IsSuspicious(req.IP, req.UserAgent) {
		score += s.config.Weights.SuspiciousIP
		factors = append(factors, FactorSuspiciousIP)
		details["suspicious_ip"] = req.IP
	}

	repScore, err := s.reputation.Score(ctx, req.IP)
	if err != nil {
		s.logger.Warn("Reputation lookup failed, scoring neutral", zap.String("ip", req.IP), zap.Error(err))
		repScore = 0
	}
	if repScore > s.config.ReputationThreshold {
		contribution := repScore
		if contribution > s.config.ReputationCap {
			contribution = s.config.ReputationCap
		}
		score += contribution
		factors = append(factors, FactorPoorIPReputation)
		details["reputation_score"] = strconv.Itoa(repScore)
	}

	// Velocity check, only when the attempt carries a location
	if req.Location != "" {
		prev, ok, err := s.tracker.RecentLocation(ctx, req.Identity, s.config.VelocityWindow)
		if err != nil {
			s.logger.Warn("Location lookup failed, skipping velocity check", zap.String("identity", req.Identity), zap.Error(err))
		} else if ok {
			check := s.velocity.Check(prev.Label, prev.Timestamp, req.Location, now)
			if check.Verdict == TravelImpossible {
				score += s.config.Weights.ImpossibleTravel
				factors = append(factors, FactorImpossibleTravel)
				details["travel_from"] = prev.Label
				details["travel_to"] = req.Location
				details["travel_elapsed_seconds"] = strconv.FormatInt(int64(now.Sub(prev.Timestamp).Seconds()), 10)
			}
		}
	}

	// Failure-rate check
	failures, err := s.tracker.RecentFailures(ctx, req.Identity, s.config.FailureWindow)
	if err != nil {
		s.logger.Warn("Failure lookup failed, skipping failure-rate check", zap.String("identity", req.Identity), zap.Error(err))
	} else if failures >= s.config.FailureThreshold {
		score += s.config.Weights.HighFailureRate
		factors = append(factors, FactorHighFailureRate)
		details["recent_failures"] = strconv.Itoa(failures)
	}

	// Off-hours check, opt-in
	if s.config.EnableTimeAnomaly {
		if hour := now.UTC().Hour(); hour < 5 {
			score += s.config.Weights.AnomalousTime
			factors = append(factors, FactorAnomalousTime)
			details["attempt_hour_utc"] = strconv.Itoa(hour)
		}
	}

	score = clampScore(score)
	level, action := s.Classify(score)

	assessmentsTotal.WithLabelValues(string(level), string(action)).Inc()
	riskScoreHistogram.WithLabelValues(string(action)).Observe(float64(score))
	for _, f := range factors {
		riskFactorsTotal.WithLabelValues(f).Inc()
	}

	s.logger.Debug("Risk assessed",
		zap.String("identity", req.Identity),
		zap.Int("score", score),
		zap.String("level", string(level)),
		zap.String("action", string(action)),
		zap.Strings("factors", factors),
	)

	return &Assessment{
		Score:     score,
		Level:     level,
		Action:    action,
		Factors:   factors,
		Details:   details,
		Timestamp: now,
	}
}

// Classify maps a score to a risk level and the recommended action.
func (s *Scorer) Classify(score int) (RiskLevel, Action) {
	switch {
	case score < s.config.ChallengeThreshold:
		return RiskLevelLow, ActionAllow
	case score < s.config.BlockThreshold:
		return RiskLevelMedium, ActionChallenge
	default:
		return RiskLevelHigh, ActionBlock
	}
}

// RegisterSuccessfulAuth persists the device, IP, and location as
// now-trusted for the identity. Idempotent: repeated calls with the same
// arguments leave the device and IP registries unchanged, while a
// location grows history by one entry per call. This is the only path
// that grows trust state and must only run after the external protocol
// has confirmed the credential.
func (s *Scorer) RegisterSuccessfulAuth(ctx context.Context, identity, ip string, fp DeviceFingerprint, location string) error {
	if err := s.tracker.RegisterDevice(ctx, identity, fp); err != nil {
		trustRegistrationsTotal.WithLabelValues("error").Inc()
		return err
	}
	if err := s.tracker.RegisterIP(ctx, identity, ip); err != nil {
		trustRegistrationsTotal.WithLabelValues("error").Inc()
		return err
	}
	if location != "" {
		if err := s.tracker.AddLocation(ctx, identity, location); err != nil {
			trustRegistrationsTotal.WithLabelValues("error").Inc()
			return err
		}
	}
	if err := s.tracker.ClearFailures(ctx, identity); err != nil {
		s.logger.Warn("Failed to clear auth failures", zap.String("identity", identity), zap.Error(err))
	}

	trustRegistrationsTotal.WithLabelValues("ok").Inc()
	s.logger.Info("Trust state registered",
		zap.String("identity", identity),
		zap.String("ip", ip),
		zap.String("device_hash", fp.Hash()),
	)
	return nil
}

// RegisterFailedAuth records a failed authentication attempt for the
// identity. Failures raise future risk but never grow trust.
func (s *Scorer) RegisterFailedAuth(ctx context.Context, identity string) error {
	return s.tracker.RecordFailure(ctx, identity)
}

// Devices returns the identity's known devices.
func (s *Scorer) Devices(ctx context.Context, identity string) ([]DeviceFingerprint, error) {
	return s.tracker.Devices(ctx, identity)
}

// clampScore bounds a score to [0,100].
func clampScore(score int) int {
	if score > 100 {
		return 100
	}
	if score < 0 {
		return 0
	}
	return score
}
