package events

import (
	"context"
	"testing"
	"time"

	"github.com/cortexhub/cortex-dispatch/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamNameBySeverity(t *testing.T) {
	assert.Equal(t, "dispatch:events:error", StreamName(SeverityError))
	assert.Equal(t, "dispatch:events:warn", StreamName(SeverityWarn))
	assert.Equal(t, "dispatch:events:info", StreamName(SeverityInfo))
	assert.Equal(t, "dispatch:events:info", StreamName("unknown"))
}

func TestEventRedisValuesRoundTrip(t *testing.T) {
	e := NewEvent(TypeRouted, SeverityInfo)
	e.UserID = "u1"
	e.ThreadID = "c1:r1"
	e.Detail["target"] = "tool:gitlab_cli"

	got, err := EventFromRedisValues(e.ToRedisValues())
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, TypeRouted, got.Type)
	assert.Equal(t, "tool:gitlab_cli", got.Detail["target"])
	assert.Equal(t, e.Created, got.Created)
}

func TestEventFromRedisValuesMalformed(t *testing.T) {
	_, err := EventFromRedisValues(map[string]interface{}{"severity": "info"})
	assert.Error(t, err)
}

func TestDisabledConfigYieldsNop(t *testing.T) {
	p, err := NewPublisher(config.EventsConfig{Enabled: false}, nil)
	require.NoError(t, err)
	_, ok := p.(NopPublisher)
	assert.True(t, ok)
	p.Publish(context.Background(), NewEvent(TypeQueryReceived, SeverityInfo))
	assert.NoError(t, p.Close())
}

func TestRedisPublisherAppends(t *testing.T) {
	cfg := config.EventsConfig{Enabled: true, RedisAddr: "localhost:6379"}
	p, err := NewPublisher(cfg, nil)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	e := NewEvent(TypeTerminalFailure, SeverityError)
	e.Detail["category"] = "RATE_LIMIT"
	p.Publish(ctx, e)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs, err := rdb.XRevRangeN(ctx, StreamName(SeverityError), "+", "-", 10).Result()
		require.NoError(t, err)
		found := false
		for _, m := range msgs {
			if m.Values["id"] == e.ID {
				found = true
			}
		}
		if found {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("published event not found in stream")
		}
		time.Sleep(50 * time.Millisecond)
	}
}
