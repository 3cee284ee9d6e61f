package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/debtor/internal/config"
)

const (
	keyCreditCheckOrg = "credit:check:org:%s"
	keyJobLock        = "jobs:lock:%s"
)

// CreditCheckLimiter throttles credit check traffic per organization and
// hands out the job lock that keeps scheduled scans single-flight across
// replicas. A nil limiter means rate limiting is disabled; every call then
// allows.
type CreditCheckLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	orgRate    float64
	orgBurst   int
	jobLockTTL time.Duration
}

func NewCreditCheckLimiter(cfg config.Config) (*CreditCheckLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.CreditCheckOrgRate <= 0 || limitCfg.CreditCheckOrgBurst <= 0 {
		return nil, errors.New("credit check org rate limit must be positive")
	}
	if limitCfg.JobLockTTLSeconds <= 0 {
		return nil, errors.New("job lock ttl must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &CreditCheckLimiter{
		enabled:    true,
		bucket:     NewTokenBucket(client),
		locker:     NewLocker(client),
		orgRate:    limitCfg.CreditCheckOrgRate,
		orgBurst:   limitCfg.CreditCheckOrgBurst,
		jobLockTTL: time.Duration(limitCfg.JobLockTTLSeconds) * time.Second,
	}, nil
}

func (l *CreditCheckLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *CreditCheckLimiter) AllowOrg(ctx context.Context, orgID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyCreditCheckOrg, strings.TrimSpace(orgID)), l.orgRate, l.orgBurst)
}

func (l *CreditCheckLimiter) TryJobLock(ctx context.Context, jobName string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, fmt.Sprintf(keyJobLock, strings.TrimSpace(jobName)), l.jobLockTTL)
}

func (l *CreditCheckLimiter) ReleaseJobLock(ctx context.Context, jobName, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, fmt.Sprintf(keyJobLock, strings.TrimSpace(jobName)), token)
}
