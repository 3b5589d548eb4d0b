// Package healthcheck probes the gateway's runtime dependencies.
package healthcheck

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// StatusOK indicates the check passed.
	StatusOK = "ok"
	// StatusError indicates the check failed.
	StatusError = "error"
)

const checkTimeout = 3 * time.Second

// CheckResult is one dependency probe outcome.
type CheckResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Checker evaluates one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// Service runs all registered checkers.
type Service struct {
	checkers []Checker
	logger   *slog.Logger
}

func NewService(log *slog.Logger, checkers ...Checker) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		checkers: checkers,
		logger:   log.With(slog.String("service", "healthcheck")),
	}
}

// Run probes every dependency and reports whether all passed.
func (s *Service) Run(ctx context.Context) ([]CheckResult, bool) {
	results := make([]CheckResult, 0, len(s.checkers))
	healthy := true
	for _, checker := range s.checkers {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := checker.Check(checkCtx)
		cancel()
		if err != nil {
			healthy = false
			s.logger.Warn("dependency check failed",
				slog.String("dependency", checker.Name()),
				slog.Any("error", err))
			results = append(results, CheckResult{Name: checker.Name(), Status: StatusError, Detail: err.Error()})
			continue
		}
		results = append(results, CheckResult{Name: checker.Name(), Status: StatusOK})
	}
	return results, healthy
}

// PostgresChecker pings the connection pool.
type PostgresChecker struct {
	pool *pgxpool.Pool
}

func NewPostgresChecker(pool *pgxpool.Pool) *PostgresChecker {
	return &PostgresChecker{pool: pool}
}

func (c *PostgresChecker) Name() string { return "postgres" }

func (c *PostgresChecker) Check(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// RedisChecker pings the redis client.
type RedisChecker struct {
	rdb *redis.Client
}

func NewRedisChecker(rdb *redis.Client) *RedisChecker {
	return &RedisChecker{rdb: rdb}
}

func (c *RedisChecker) Name() string { return "redis" }

func (c *RedisChecker) Check(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
