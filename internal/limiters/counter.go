// Package limiters holds Redis-backed attempt counters.
package limiters

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "clinicauth:"

// incrWindow increments KEYS[1] and starts its expiry (ARGV[1] ms) on the
// first hit. When ARGV[2] > 0 and the count reaches it, the expiry is replaced
// by ARGV[3] ms. Returns the new count and the remaining TTL in ms.
var incrWindow = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local mark = tonumber(ARGV[2])
if mark > 0 and n == mark then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return {n, redis.call('PTTL', KEYS[1])}
`)

// bump runs incrWindow as one atomic step on the server
func bump(ctx context.Context, client redis.UniversalClient, key string, window time.Duration, mark int64, markTTL time.Duration) (int64, time.Duration, error) {
	res, err := incrWindow.Run(ctx, client, []string{key},
		window.Milliseconds(), mark, markTTL.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("unexpected counter reply %v", res)
	}
	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}

// hashedKey keeps caller-supplied identifiers out of key names and bounds their length
func hashedKey(prefix, id string) string {
	sum := sha256.Sum256([]byte(id))
	return keyPrefix + prefix + hex.EncodeToString(sum[:16])
}
