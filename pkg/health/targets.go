package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/NikhilSetiya/resilience-toolkit/pkg/resilience"
)

// StatusError is returned by an HTTP target that answered with a non-2xx status
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("endpoint %s returned status %d", e.URL, e.StatusCode)
}

// HTTPTarget probes url with a GET request. Any 2xx response is healthy.
// A nil client uses http.DefaultClient; the checker's timeout applies through the context.
func HTTPTarget(id, url string, client *http.Client) Target {
	if client == nil {
		client = http.DefaultClient
	}

	return Target{
		ID:       id,
		Metadata: map[string]string{"type": "http", "url": url},
		Check: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}

			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			defer resp.Body.Close()
			_, _ = io.Copy(io.Discard, resp.Body)

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return &StatusError{URL: url, StatusCode: resp.StatusCode}
			}
			return nil
		},
	}
}

// HTTPTargets builds one HTTP target per comma-separated URL. Each URL is its own ID.
func HTTPTargets(urls string, client *http.Client) []Target {
	var targets []Target
	for _, u := range strings.Split(urls, ",") {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		targets = append(targets, HTTPTarget(u, u, client))
	}
	return targets
}

// RedisTarget probes a Redis server with PING
func RedisTarget(id string, client redis.UniversalClient) Target {
	return Target{
		ID:       id,
		Metadata: map[string]string{"type": "redis"},
		Check: func(ctx context.Context) error {
			if client == nil {
				return fmt.Errorf("redis connection is nil")
			}
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis ping failed: %w", err)
			}
			return nil
		},
	}
}

// SQLTarget probes a database connection pool
func SQLTarget(id string, db *sqlx.DB) Target {
	metadata := map[string]string{"type": "sql"}
	if db != nil {
		metadata["driver"] = db.DriverName()
	}

	return Target{
		ID:       id,
		Metadata: metadata,
		Check: func(ctx context.Context) error {
			if db == nil {
				return fmt.Errorf("database connection is nil")
			}
			if err := db.PingContext(ctx); err != nil {
				return fmt.Errorf("database ping failed: %w", err)
			}
			return nil
		},
	}
}

// OpenSQL opens a lazily connecting pool for driver. The driver must be
// registered by the caller, e.g. with a blank import of lib/pq or go-sql-driver/mysql.
func OpenSQL(driver, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	return db, nil
}

// Critical marks t as critical
func Critical(t Target) Target {
	t.Critical = true
	return t
}

// Guard routes t's check through cb. While the breaker is open the check is
// not invoked and the target reports the *resilience.CircuitOpenError.
func Guard(t Target, cb *resilience.CircuitBreaker) Target {
	if cb == nil || t.Check == nil {
		return t
	}

	check := t.Check
	t.Check = func(ctx context.Context) error {
		_, err := cb.Execute(ctx, func(ctx context.Context) (interface{}, error) {
			return nil, check(ctx)
		})
		return err
	}

	metadata := make(map[string]string, len(t.Metadata)+1)
	for k, v := range t.Metadata {
		metadata[k] = v
	}
	metadata["breaker"] = cb.Name()
	t.Metadata = metadata

	return t
}
