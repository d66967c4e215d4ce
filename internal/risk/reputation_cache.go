package risk

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// FailPolicy controls scorer behavior when a reputation lookup fails.
// The choice is an explicit deployment decision, never a silent default.
type FailPolicy string

const (
	// FailOpen treats a failed lookup as a neutral score of 0.
	FailOpen FailPolicy = "open"
	// FailClosed substitutes a conservative penalty score on failure.
	FailClosed FailPolicy = "closed"
)

// CachedReputationConfig holds configuration for CachedReputation.
type CachedReputationConfig struct {
	CacheTTL      time.Duration
	LookupTimeout time.Duration
	Policy        FailPolicy
	// FallbackScore is applied when Policy is FailClosed and a lookup fails.
	FallbackScore int
}

// DefaultCachedReputationConfig returns the default cache configuration.
func DefaultCachedReputationConfig() CachedReputationConfig {
	return CachedReputationConfig{
		CacheTTL:      time.Hour,
		LookupTimeout: 5 * time.Second,
		Policy:        FailOpen,
		FallbackScore: 60,
	}
}

const reputationCachePrefix = "reputation:ip:"

// CachedReputation wraps a ReputationChecker with a Redis score cache and
// a bounded lookup time. The wrapped provider is expected to be the slow,
// fallible one (a real threat-intelligence API); suspicion checks stay
// local and are delegated directly.
type CachedReputation struct {
	inner  ReputationChecker
	client *redis.Client
	config CachedReputationConfig
	logger *zap.Logger
}

// NewCachedReputation creates a caching reputation provider.
func NewCachedReputation(inner ReputationChecker, client *redis.Client, config CachedReputationConfig, logger *zap.Logger) *CachedReputation {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.CacheTTL == 0 {
		config = DefaultCachedReputationConfig()
	}
	return &CachedReputation{
		inner:  inner,
		client: client,
		config: config,
		logger: logger.With(zap.String("component", "reputation_cache")),
	}
}

// IsSuspicious delegates to the wrapped checker; the suspicion heuristic
// is pure computation and needs no caching.
func (c *CachedReputation) IsSuspicious(ip, userAgent string) bool {
	return c.inner.IsSuspicious(ip, userAgent)
}

// Score returns the cached score for ip when present, otherwise performs
// a time-bounded lookup against the wrapped provider. Lookup failures
// resolve according to the configured FailPolicy and never propagate:
// a reputation outage must not block authentication outright.
func (c *CachedReputation) Score(ctx context.Context, ip string) (int, error) {
	key := reputationCachePrefix + ip

	if cached, err := c.client.Get(ctx, key).Result(); err == nil {
		if score, convErr := strconv.Atoi(cached); convErr == nil {
			return score, nil
		}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, c.config.LookupTimeout)
	defer cancel()

	score, err := c.inner.Score(lookupCtx, ip)
	if err != nil {
		score = c.failScore()
		c.logger.Warn("Reputation lookup failed, applying fail policy",
			zap.String("ip", ip),
			zap.String("policy", string(c.config.Policy)),
			zap.Int("score", score),
			zap.Error(err),
		)
		return score, nil
	}

	if err := c.client.Set(ctx, key, strconv.Itoa(score), c.config.CacheTTL).Err(); err != nil {
		c.logger.Warn("Failed to cache reputation score", zap.String("ip", ip), zap.Error(err))
	}

	return score, nil
}

func (c *CachedReputation) failScore() int {
	if c.config.Policy == FailClosed {
		return c.config.FallbackScore
	}
	return 0
}
