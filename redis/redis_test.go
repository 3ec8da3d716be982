package redis

import (
	"context"
	"testing"

	"github.com/gomodule/redigo/redis"

	"github.com/jasmine-nahrain/trafficserver/test"
)

func TestRedisCache(t *testing.T) {
	client, err := redis.DialContext(context.Background(), "tcp", "localhost:6379")

	// Check if Redis is available
	if err != nil {
		// TODO: rather than skip the test, fall back to a faked redis server
		t.Skipf("skipping test; no server running at localhost:6379")
	}
	_, _ = client.Do("FLUSHALL")

	test.Cache(t, NewWithClient(client))
}
