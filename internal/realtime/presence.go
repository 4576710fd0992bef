package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	redisclient "github.com/unbound/trust-relay-go/internal/redis"
)

const presenceTTL = 10 * time.Minute

// Observation is one report of a viewer's liveness. Observations can
// arrive from multiple relays out of order; only the latest for each
// viewer is kept.
type Observation struct {
	ViewerKey  string    `json:"viewerKey"`
	Online     bool      `json:"online"`
	ObservedAt time.Time `json:"observedAt"`
}

// setIfNewer stores the observation only when its timestamp is newer
// than the one already in the hash. Comparing inside redis keeps the
// read-compare-write atomic across server instances.
var setIfNewer = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], ARGV[1])
if current then
	local decoded = cjson.decode(current)
	if decoded['observedAt'] >= cjson.decode(ARGV[2])['observedAt'] then
		return 0
	end
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// Presence tracks per-run viewer liveness in a redis hash keyed by
// viewer identity.
type Presence struct {
	redis *redisclient.Client
}

func NewPresence(redisClient *redisclient.Client) *Presence {
	return &Presence{redis: redisClient}
}

// Observe merges one liveness report. Returns true when the report was
// newer than the stored state and was applied.
func (p *Presence) Observe(ctx context.Context, runID string, obs Observation) (bool, error) {
	// Lua's cjson cannot compare time.Time values, so timestamps are
	// serialized as unix milliseconds for the comparison.
	payload, err := json.Marshal(map[string]any{
		"viewerKey":  obs.ViewerKey,
		"online":     obs.Online,
		"observedAt": obs.ObservedAt.UnixMilli(),
	})
	if err != nil {
		return false, err
	}

	key := redisclient.PresenceKey(runID)
	applied, err := setIfNewer.Run(ctx, p.redis, []string{key},
		obs.ViewerKey, string(payload), presenceTTL.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return applied == 1, nil
}

// Snapshot returns the current liveness state for every observed viewer.
func (p *Presence) Snapshot(ctx context.Context, runID string) (map[string]Observation, error) {
	entries, err := p.redis.HGetAll(ctx, redisclient.PresenceKey(runID)).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]Observation, len(entries))
	for viewerKey, raw := range entries {
		var stored struct {
			ViewerKey  string `json:"viewerKey"`
			Online     bool   `json:"online"`
			ObservedAt int64  `json:"observedAt"`
		}
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			continue
		}
		out[viewerKey] = Observation{
			ViewerKey:  stored.ViewerKey,
			Online:     stored.Online,
			ObservedAt: time.UnixMilli(stored.ObservedAt),
		}
	}
	return out, nil
}

// Clear drops all presence state for a run, called when the run ends.
func (p *Presence) Clear(ctx context.Context, runID string) error {
	return p.redis.Del(ctx, redisclient.PresenceKey(runID)).Err()
}
