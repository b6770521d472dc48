//go:build integration

package httpx

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) string {
	t.Helper()
	t.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	endpoint, err := ctr.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("redis endpoint: %v", err)
	}
	return endpoint
}

func TestRedisRateLimiterWindow(t *testing.T) {
	addr := startRedis(t)
	limiter, err := NewRedisRateLimiter(addr, "", 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewRedisRateLimiter: %v", err)
	}
	defer limiter.Close()

	ctx := context.Background()
	rule := rateRule{limit: 2, window: 500 * time.Millisecond}
	for i := 1; i <= 2; i++ {
		if d := limiter.Allow(ctx, "user:u1", rule); !d.allowed || d.count != i {
			t.Fatalf("request %d: %+v", i, d)
		}
	}
	if d := limiter.Allow(ctx, "user:u1", rule); d.allowed {
		t.Fatalf("third request allowed: %+v", d)
	}
	if d := limiter.Allow(ctx, "user:u2", rule); !d.allowed {
		t.Fatalf("other key limited: %+v", d)
	}

	time.Sleep(rule.window + 200*time.Millisecond)
	if d := limiter.Allow(ctx, "user:u1", rule); !d.allowed || d.count != 1 {
		t.Fatalf("after window: %+v", d)
	}
}

func TestRedisRateLimiterFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	limiter := newRedisRateLimiter(client, nil)
	defer limiter.Close()
	if d := limiter.Allow(context.Background(), "user:u1", rateRule{limit: 1, window: time.Minute}); !d.allowed {
		t.Fatalf("decision = %+v, want allowed", d)
	}
}
