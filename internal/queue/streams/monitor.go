package streams

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// LagMetrics describes the backlog of a consumer group.
type LagMetrics struct {
	Pending    int64         `json:"pending"`
	Lag        int64         `json:"lag"`
	Consumers  int64         `json:"consumers"`
	OldestIdle time.Duration `json:"oldest_idle"`
}

func (m LagMetrics) String() string {
	return fmt.Sprintf("pending=%d lag=%d consumers=%d oldest_idle=%s", m.Pending, m.Lag, m.Consumers, m.OldestIdle.Round(time.Second))
}

// GroupLag reports pending and undelivered jobs for group on stream in one
// round trip. A stream that does not exist yet has no backlog; Lag is -1 when
// the stream exists but the group does not.
func GroupLag(ctx context.Context, client *redis.Client, stream, group string) (LagMetrics, error) {
	if client == nil {
		return LagMetrics{}, errors.New("redis client is nil")
	}
	if stream == "" || group == "" {
		return LagMetrics{}, errors.New("stream and group are required")
	}

	pipe := client.Pipeline()
	infoCmd := pipe.XInfoGroups(ctx, stream)
	oldestCmd := pipe.XPendingExt(ctx, &redis.XPendingExtArgs{Stream: stream, Group: group, Start: "-", End: "+", Count: 1})
	_, _ = pipe.Exec(ctx)

	groups, err := infoCmd.Result()
	if err != nil {
		if strings.Contains(err.Error(), "no such key") {
			return LagMetrics{}, nil
		}
		return LagMetrics{}, fmt.Errorf("xinfo groups %s: %w", stream, err)
	}
	m := LagMetrics{Lag: -1}
	for _, g := range groups {
		if g.Name == group {
			m.Pending, m.Lag, m.Consumers = g.Pending, g.Lag, int64(g.Consumers)
			break
		}
	}
	if m.Lag < 0 || m.Pending == 0 {
		return m, nil
	}
	if pending, err := oldestCmd.Result(); err == nil && len(pending) > 0 {
		m.OldestIdle = pending[0].Idle
	} else if err != nil && !errors.Is(err, redis.Nil) {
		return m, fmt.Errorf("xpending %s: %w", stream, err)
	}
	return m, nil
}
