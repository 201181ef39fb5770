// Package primacy elects a single reaper among control-plane
// instances via a Redis lease. Whoever holds the key is primary; the
// lease is renewed only while the owner matches, so a crashed primary
// hands off after one TTL.
package primacy

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const key = "primacy:reaper"

// DefaultTTL is how long a primary survives without a renewal.
const DefaultTTL = 30 * time.Second

type Oracle struct {
	rdb        *redis.Client
	instanceID string
	ttl        time.Duration
	log        zerolog.Logger
}

func NewOracle(rdb *redis.Client, instanceID string, ttl time.Duration, log zerolog.Logger) *Oracle {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Oracle{
		rdb:        rdb,
		instanceID: instanceID,
		ttl:        ttl,
		log:        log.With().Str("component", "primacy").Logger(),
	}
}

// renewScript extends the lease only when this instance still owns it.
const renewScript = `
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('PEXPIRE', KEYS[1], ARGV[2])
	else
		return 0
	end`

// IsPrimary acquires or renews the lease and reports whether this
// instance is the elected reaper. Any Redis failure reads as not
// primary: duplicate no-ops are cheaper than duplicate notifications.
func (o *Oracle) IsPrimary(ctx context.Context) bool {
	ok, err := o.rdb.SetNX(ctx, key, o.instanceID, o.ttl).Result()
	if err != nil {
		o.log.Warn().Err(err).Msg("primacy acquire failed")
		return false
	}
	if ok {
		o.log.Info().Str("instance", o.instanceID).Msg("acquired reaper primacy")
		return true
	}

	cmd := o.rdb.Eval(ctx, renewScript, []string{key}, o.instanceID, int(o.ttl.Milliseconds()))
	if err := cmd.Err(); err != nil {
		o.log.Warn().Err(err).Msg("primacy renew failed")
		return false
	}
	n, _ := cmd.Int()
	return n == 1
}

// Resign releases the lease if this instance holds it, for graceful
// shutdown.
func (o *Oracle) Resign(ctx context.Context) {
	script := `
		if redis.call('GET', KEYS[1]) == ARGV[1] then
			return redis.call('DEL', KEYS[1])
		else
			return 0
		end`
	if err := o.rdb.Eval(ctx, script, []string{key}, o.instanceID).Err(); err != nil {
		o.log.Warn().Err(err).Msg("primacy resign failed")
	}
}
