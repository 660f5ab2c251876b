package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/trendscout/backend/internal/storage/models"
)

const quotaKeyTTL = 48 * time.Hour

// KEYS[1] day hash; ARGV max, units, ttl seconds. Returns 1 when held.
var reserveScript = redis.NewScript(`
local used = tonumber(redis.call('HGET', KEYS[1], 'used') or '0')
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
local units = tonumber(ARGV[2])
if used + reserved + units > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSETNX', KEYS[1], 'max', ARGV[1])
redis.call('HINCRBY', KEYS[1], 'reserved', units)
redis.call('EXPIRE', KEYS[1], ARGV[3])
return 1
`)

// KEYS[1] day hash; ARGV units.
var releaseScript = redis.NewScript(`
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
local left = reserved - tonumber(ARGV[1])
if left < 0 then left = 0 end
redis.call('HSET', KEYS[1], 'reserved', left)
return left
`)

// KEYS[1] day hash, KEYS[2] ops list; ARGV max, units, op json, ttl seconds.
// Returns the new used total.
var appendScript = redis.NewScript(`
local units = tonumber(ARGV[2])
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
local left = reserved - units
if left < 0 then left = 0 end
redis.call('HSETNX', KEYS[1], 'max', ARGV[1])
redis.call('HSET', KEYS[1], 'reserved', left)
local used = redis.call('HINCRBY', KEYS[1], 'used', units)
redis.call('RPUSH', KEYS[2], ARGV[3])
redis.call('EXPIRE', KEYS[1], ARGV[4])
redis.call('EXPIRE', KEYS[2], ARGV[4])
return used
`)

func quotaKey(day string) string {
	return fmt.Sprintf("quota:%s", day)
}

func quotaOpsKey(day string) string {
	return fmt.Sprintf("quota:%s:ops", day)
}

func (c *Client) QuotaUsage(ctx context.Context, day string) (int, error) {
	used, err := c.client.HGet(ctx, quotaKey(day), "used").Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read quota usage: %w", err)
	}
	return used, nil
}

// ReserveQuota checks and holds units in one script, so every process sharing
// this redis sees the same budget.
func (c *Client) ReserveQuota(ctx context.Context, day string, maxUnits, units int) (bool, error) {
	held, err := reserveScript.Run(ctx, c.client, []string{quotaKey(day)},
		maxUnits, units, int(quotaKeyTTL.Seconds()),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to reserve quota: %w", err)
	}
	return held == 1, nil
}

func (c *Client) ReleaseQuota(ctx context.Context, day string, units int) error {
	if err := releaseScript.Run(ctx, c.client, []string{quotaKey(day)}, units).Err(); err != nil {
		return fmt.Errorf("failed to release quota: %w", err)
	}
	return nil
}

// AppendQuotaOperation moves op.Units from reserved to used and appends the
// operation atomically.
func (c *Client) AppendQuotaOperation(ctx context.Context, day string, maxUnits int, op models.QuotaOperation) (int, error) {
	payload, err := json.Marshal(op)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal quota operation: %w", err)
	}

	used, err := appendScript.Run(ctx, c.client, []string{quotaKey(day), quotaOpsKey(day)},
		maxUnits, op.Units, string(payload), int(quotaKeyTTL.Seconds()),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to append quota operation: %w", err)
	}
	return used, nil
}

func (c *Client) QuotaDay(ctx context.Context, day string) (*models.QuotaDay, error) {
	fields, err := c.client.HGetAll(ctx, quotaKey(day)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read quota day: %w", err)
	}
	if len(fields) == 0 {
		return nil, models.ErrNotFound
	}

	q := &models.QuotaDay{Date: day}
	for name, dst := range map[string]*int{
		"used":     &q.UnitsUsed,
		"reserved": &q.UnitsReserved,
		"max":      &q.MaxUnits,
	} {
		v, ok := fields[name]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid quota field %s for %s: %w", name, day, err)
		}
		*dst = n
	}

	raw, err := c.client.LRange(ctx, quotaOpsKey(day), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read quota operations: %w", err)
	}
	for _, item := range raw {
		var op models.QuotaOperation
		if err := json.Unmarshal([]byte(item), &op); err != nil {
			return nil, fmt.Errorf("failed to decode quota operation: %w", err)
		}
		q.Operations = append(q.Operations, op)
	}
	return q, nil
}
